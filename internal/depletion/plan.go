// Package depletion turns a paid order into batch decrements, consuming the
// oldest sellable stock of each product first.
package depletion

import (
	"fmt"
	"time"

	"bloompos/backend/internal/domain"
	"bloompos/backend/internal/inventory"
)

// Plan computes the decrements that fulfil lines from batchesByProduct. Lines
// for the same product draw from one running balance. When any line cannot be
// covered the plan is empty and the error wraps domain.ErrInsufficientStock.
func Plan(lines []domain.OrderLineItem, batchesByProduct map[string][]domain.StockBatch, now time.Time) ([]domain.BatchDecrement, error) {
	remaining := make(map[string]int)
	candidates := make(map[string][]domain.StockBatch)
	plan := make([]domain.BatchDecrement, 0, len(lines))

	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		ordered, ok := candidates[line.ProductID]
		if !ok {
			ordered = sellable(batchesByProduct[line.ProductID], now)
			candidates[line.ProductID] = ordered
			for _, batch := range ordered {
				remaining[batch.ID] = batch.QuantityOnHand
			}
		}

		need := line.Quantity
		for _, batch := range ordered {
			if need == 0 {
				break
			}
			available := remaining[batch.ID]
			if available <= 0 {
				continue
			}
			take := min(available, need)
			remaining[batch.ID] = available - take
			need -= take
			plan = appendDecrement(plan, batch, take)
		}
		if need > 0 {
			return nil, fmt.Errorf("product %s short by %d: %w", line.ProductID, need, domain.ErrInsufficientStock)
		}
	}
	return plan, nil
}

// Available reports the sellable quantity of a product at now.
func Available(batches []domain.StockBatch, now time.Time) int {
	total := 0
	for _, batch := range sellable(batches, now) {
		total += batch.QuantityOnHand
	}
	return total
}

func sellable(batches []domain.StockBatch, now time.Time) []domain.StockBatch {
	ordered := inventory.OrderByAge(batches)
	out := ordered[:0]
	for _, batch := range ordered {
		if batch.QuantityOnHand <= 0 || inventory.IsExpired(batch, now) {
			continue
		}
		out = append(out, batch)
	}
	return out
}

// appendDecrement merges a repeat draw on the same batch into its earlier step.
func appendDecrement(plan []domain.BatchDecrement, batch domain.StockBatch, qty int) []domain.BatchDecrement {
	for i := range plan {
		if plan[i].BatchID == batch.ID {
			plan[i].Quantity += qty
			return plan
		}
	}
	return append(plan, domain.BatchDecrement{BatchID: batch.ID, ProductID: batch.ProductID, Quantity: qty})
}

// ByProduct groups batches by product id.
func ByProduct(batches []domain.StockBatch) map[string][]domain.StockBatch {
	grouped := make(map[string][]domain.StockBatch)
	for _, batch := range batches {
		grouped[batch.ProductID] = append(grouped[batch.ProductID], batch)
	}
	return grouped
}

// ProductIDs returns the distinct products referenced by lines, in first-seen order.
func ProductIDs(lines []domain.OrderLineItem) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

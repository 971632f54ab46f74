package inventory

import (
	"cmp"
	"slices"
	"time"

	"bloompos/backend/internal/domain"
)

type BatchStatus struct {
	Batch     domain.StockBatch `json:"batch"`
	Lifespan  Lifespan          `json:"lifespan"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

type ProductStock struct {
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	QuantityOnHand   int    `json:"quantity_on_hand"`
	MinimumThreshold int    `json:"minimum_threshold"`
	Low              bool   `json:"low"`
}

// Report is an immutable snapshot of the ledger at GeneratedAt.
type Report struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	WarningDays  int            `json:"warning_days"`
	Batches      []BatchStatus  `json:"batches"`
	Products     []ProductStock `json:"products"`
	LowStock     []BatchStatus  `json:"low_stock"`
	ExpiringSoon []BatchStatus  `json:"expiring_soon"`
	Expired      []BatchStatus  `json:"expired"`
	Advisories   []Advisory     `json:"advisories"`
}

// BuildReport derives every alert view from batches as of now. Batches are
// listed oldest first; expiring and expired views are ordered by expiry.
func BuildReport(batches []domain.StockBatch, now time.Time, warningDays int) Report {
	if warningDays < 0 {
		warningDays = 0
	}
	report := Report{
		GeneratedAt:  now,
		WarningDays:  warningDays,
		Batches:      make([]BatchStatus, 0, len(batches)),
		LowStock:     []BatchStatus{},
		ExpiringSoon: []BatchStatus{},
		Expired:      []BatchStatus{},
		Advisories:   slices.Collect(Advisories(now)),
	}

	for _, batch := range OrderByAge(batches) {
		report.Batches = append(report.Batches, statusOf(batch, now))
	}

	for _, batch := range OrderByExpiry(batches) {
		status := statusOf(batch, now)
		switch {
		case status.Lifespan.State == LifespanExpired:
			report.Expired = append(report.Expired, status)
		case status.Lifespan.State == LifespanFresh && *status.Lifespan.DaysRemaining <= warningDays && batch.QuantityOnHand > 0:
			report.ExpiringSoon = append(report.ExpiringSoon, status)
		}
		if IsLowStock(batch) {
			report.LowStock = append(report.LowStock, status)
		}
	}

	report.Products = productTotals(batches, now)
	return report
}

func statusOf(batch domain.StockBatch, now time.Time) BatchStatus {
	status := BatchStatus{Batch: batch, Lifespan: RemainingLifespan(batch, now)}
	if expiresAt, ok := batch.ExpiresAt(); ok {
		status.ExpiresAt = &expiresAt
	}
	return status
}

// productTotals sums sellable quantity per product. A product is low when its
// sellable total is at or below the highest threshold set on its batches.
func productTotals(batches []domain.StockBatch, now time.Time) []ProductStock {
	byProduct := make(map[string]*ProductStock)
	for _, batch := range OrderByAge(batches) {
		entry, ok := byProduct[batch.ProductID]
		if !ok {
			entry = &ProductStock{ProductID: batch.ProductID}
			byProduct[batch.ProductID] = entry
		}
		entry.ProductName = batch.ProductName
		entry.MinimumThreshold = max(entry.MinimumThreshold, batch.MinimumThreshold)
		if !IsExpired(batch, now) {
			entry.QuantityOnHand += batch.QuantityOnHand
		}
	}

	products := make([]ProductStock, 0, len(byProduct))
	for _, entry := range byProduct {
		entry.Low = entry.QuantityOnHand <= entry.MinimumThreshold
		products = append(products, *entry)
	}
	slices.SortFunc(products, func(a, b ProductStock) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return products
}

// Package inventory derives ageing, expiry and low-stock views from stock
// batches. Nothing here mutates its input; every view is recomputed per call.
package inventory

import (
	"cmp"
	"slices"
	"time"

	"bloompos/backend/internal/domain"
)

const (
	LifespanFresh         = "fresh"
	LifespanExpired       = "expired"
	LifespanNotApplicable = "not_applicable"
)

// Lifespan carries DaysRemaining only for fresh batches; zero means the batch
// expires within the day.
type Lifespan struct {
	State         string `json:"state"`
	DaysRemaining *int   `json:"days_remaining,omitempty"`
}

func RemainingLifespan(batch domain.StockBatch, now time.Time) Lifespan {
	expiresAt, ok := batch.ExpiresAt()
	if !ok {
		return Lifespan{State: LifespanNotApplicable}
	}
	if now.After(expiresAt) {
		return Lifespan{State: LifespanExpired}
	}
	days := int(expiresAt.Sub(now) / (24 * time.Hour))
	return Lifespan{State: LifespanFresh, DaysRemaining: &days}
}

func IsExpired(batch domain.StockBatch, now time.Time) bool {
	return RemainingLifespan(batch, now).State == LifespanExpired
}

func IsLowStock(batch domain.StockBatch) bool {
	return batch.QuantityOnHand <= batch.MinimumThreshold
}

// OrderByAge returns a copy sorted oldest receipt first, ties broken by id.
// This is the first-in order used for display and for depletion.
func OrderByAge(batches []domain.StockBatch) []domain.StockBatch {
	sorted := slices.Clone(batches)
	slices.SortStableFunc(sorted, compareByAge)
	return sorted
}

// OrderByExpiry returns a copy sorted by soonest expiry. Batches without a
// lifespan sort last; ties keep their input order.
func OrderByExpiry(batches []domain.StockBatch) []domain.StockBatch {
	sorted := slices.Clone(batches)
	slices.SortStableFunc(sorted, compareByExpiry)
	return sorted
}

func compareByAge(a domain.StockBatch, b domain.StockBatch) int {
	if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func compareByExpiry(a domain.StockBatch, b domain.StockBatch) int {
	ae, aok := a.ExpiresAt()
	be, bok := b.ExpiresAt()
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	return ae.Compare(be)
}

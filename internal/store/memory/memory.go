package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bloompos/backend/internal/domain"
	"bloompos/backend/internal/inventory"
	"bloompos/backend/internal/store"
	"bloompos/backend/internal/xid"
)

type Store struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	batches   map[string]domain.StockBatch
	spoilage  []domain.SpoilageRecord
	auditLogs []domain.AuditLog
}

func New() *Store {
	return &Store{
		orders:  make(map[string]domain.Order),
		batches: make(map[string]domain.StockBatch),
	}
}

// NewSeeded returns a store holding a small demo catalogue of flower and
// supply batches received relative to the current day.
func NewSeeded() *Store {
	s := New()
	today := time.Now().UTC().Truncate(24 * time.Hour)
	seed := []domain.StockBatch{
		{ProductID: "rose-red", ProductName: "Red Rose (stem)", Category: domain.CategoryPerishable, QuantityOnHand: 120, UnitPrice: decimal.NewFromInt(45), ReceivedAt: today.AddDate(0, 0, -4), LifespanDays: 7, MinimumThreshold: 30, Supplier: "Benguet Growers"},
		{ProductID: "rose-red", ProductName: "Red Rose (stem)", Category: domain.CategoryPerishable, QuantityOnHand: 200, UnitPrice: decimal.NewFromInt(50), ReceivedAt: today.AddDate(0, 0, -1), LifespanDays: 7, MinimumThreshold: 30, Supplier: "Benguet Growers"},
		{ProductID: "lily-white", ProductName: "White Lily (stem)", Category: domain.CategoryPerishable, QuantityOnHand: 40, UnitPrice: decimal.NewFromInt(120), ReceivedAt: today.AddDate(0, 0, -2), LifespanDays: 10, MinimumThreshold: 10, Supplier: "Dangwa Wholesale"},
		{ProductID: "sunflower", ProductName: "Sunflower (stem)", Category: domain.CategoryPerishable, QuantityOnHand: 8, UnitPrice: decimal.NewFromInt(90), ReceivedAt: today.AddDate(0, 0, -5), LifespanDays: 6, MinimumThreshold: 10, Supplier: "Dangwa Wholesale"},
		{ProductID: "ribbon-satin", ProductName: "Satin Ribbon (roll)", Category: domain.CategoryNonPerishable, QuantityOnHand: 25, UnitPrice: decimal.NewFromInt(75), ReceivedAt: today.AddDate(0, 0, -30), MinimumThreshold: 5},
		{ProductID: "wrapper-kraft", ProductName: "Kraft Wrapper (sheet)", Category: domain.CategoryNonPerishable, QuantityOnHand: 300, UnitPrice: decimal.NewFromInt(12), ReceivedAt: today.AddDate(0, 0, -14), MinimumThreshold: 50},
	}
	for _, batch := range seed {
		batch.ID = xid.New("batch")
		s.batches[batch.ID] = batch
	}
	return s
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return nil, fmt.Errorf("order %s: %w", order.ID, store.ErrConflict)
	}
	order.Version = 1
	s.orders[order.ID] = order.Clone()
	created := order.Clone()
	return &created, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := order.Clone()
	return &found, nil
}

func (s *Store) ListOrders(_ context.Context, status string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	result := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if status != "" && order.Status != status {
			continue
		}
		result = append(result, order.Clone())
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SaveOrder(_ context.Context, order domain.Order, expectedVersion int64, decrements []domain.BatchDecrement) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("order %s at version %d, expected %d: %w", order.ID, current.Version, expectedVersion, store.ErrConflict)
	}

	// Validate the whole plan before touching any batch.
	used := make(map[string]int, len(decrements))
	for _, dec := range decrements {
		used[dec.BatchID] += dec.Quantity
	}
	for batchID, qty := range used {
		batch, ok := s.batches[batchID]
		if !ok || batch.QuantityOnHand < qty {
			return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrInsufficientStock)
		}
	}
	for batchID, qty := range used {
		batch := s.batches[batchID]
		batch.QuantityOnHand -= qty
		s.batches[batchID] = batch
	}

	order.Version = expectedVersion + 1
	s.orders[order.ID] = order.Clone()
	saved := order.Clone()
	return &saved, nil
}

func (s *Store) DeleteOrder(_ context.Context, id string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("order %s: %w", id, store.ErrConflict)
	}
	delete(s.orders, id)
	return nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	if strings.TrimSpace(batch.ProductID) == "" || batch.QuantityOnHand < 0 || batch.UnitPrice.IsNegative() {
		return nil, domain.ErrInvalidBatch
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[batch.ID]; exists {
		return nil, fmt.Errorf("batch %s: %w", batch.ID, store.ErrConflict)
	}
	s.batches[batch.ID] = batch
	created := batch
	return &created, nil
}

func (s *Store) ListBatches(_ context.Context, productID string) ([]domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockBatch, 0, len(s.batches))
	for _, batch := range s.batches {
		if productID != "" && batch.ProductID != productID {
			continue
		}
		result = append(result, batch)
	}
	return inventory.OrderByAge(result), nil
}

func (s *Store) GetBatchesByProducts(_ context.Context, productIDs []string) (map[string][]domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}
	result := make(map[string][]domain.StockBatch, len(productIDs))
	for _, batch := range s.batches {
		if _, ok := wanted[batch.ProductID]; !ok {
			continue
		}
		result[batch.ProductID] = append(result[batch.ProductID], batch)
	}
	for productID, batches := range result {
		result[productID] = inventory.OrderByAge(batches)
	}
	return result, nil
}

func (s *Store) RetireExpired(_ context.Context, now time.Time) ([]domain.SpoilageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]domain.StockBatch, 0)
	for _, batch := range s.batches {
		if inventory.IsExpired(batch, now) {
			expired = append(expired, batch)
		}
	}

	records := make([]domain.SpoilageRecord, 0, len(expired))
	for _, batch := range inventory.OrderByExpiry(expired) {
		delete(s.batches, batch.ID)
		if batch.QuantityOnHand == 0 {
			continue
		}
		expiresAt, _ := batch.ExpiresAt()
		record := domain.SpoilageRecord{
			ID:          xid.New("spoil"),
			BatchID:     batch.ID,
			ProductID:   batch.ProductID,
			ProductName: batch.ProductName,
			Quantity:    batch.QuantityOnHand,
			UnitPrice:   batch.UnitPrice,
			ExpiredAt:   expiresAt,
			RetiredAt:   now,
		}
		s.spoilage = append(s.spoilage, record)
		records = append(records, record)
	}
	return records, nil
}

func (s *Store) ListSpoilage(_ context.Context, limit int) ([]domain.SpoilageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	result := make([]domain.SpoilageRecord, 0, min(limit, len(s.spoilage)))
	for i := len(s.spoilage) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.spoilage[i])
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, entityID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	result := make([]domain.AuditLog, 0, 64)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entityID != "" && entry.EntityID != entityID {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

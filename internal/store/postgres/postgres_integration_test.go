package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bloompos/backend/internal/domain"
	"bloompos/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("BLOOMPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BLOOMPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSaveOrderDepletesBatchesAtomically(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("rose-it-%d", stamp)
	orderID := fmt.Sprintf("ord-it-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_batches WHERE product_id = $1`, productID)
	})

	received := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i, qty := range []int{5, 5} {
		_, err := s.CreateBatch(ctx, domain.StockBatch{
			ID:             fmt.Sprintf("%s-%d", productID, i),
			ProductID:      productID,
			ProductName:    "Rose IT",
			Category:       domain.CategoryNonPerishable,
			QuantityOnHand: qty,
			UnitPrice:      decimal.NewFromInt(100),
			ReceivedAt:     received.AddDate(0, i, 0),
		})
		if err != nil {
			t.Fatalf("create batch: %v", err)
		}
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	created, err := s.CreateOrder(ctx, domain.Order{
		ID:                 orderID,
		Kind:               domain.OrderKindRetail,
		Lines:              []domain.OrderLineItem{{ProductID: productID, ProductName: "Rose IT", Quantity: 7, UnitPrice: decimal.NewFromInt(100)}},
		Subtotal:           decimal.NewFromInt(700),
		DiscountPercentage: decimal.Zero,
		DiscountAmount:     decimal.Zero,
		TotalAmount:        decimal.NewFromInt(700),
		Status:             domain.OrderStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	paid := created.Clone()
	paid.Status = domain.OrderStatusFullyPaid
	paid.StockDepleted = true
	paid.PaymentHistory = append(paid.PaymentHistory, domain.PaymentRecord{
		AmountPaid: decimal.NewFromInt(700),
		Method:     domain.PaymentMethodCash,
		RecordedAt: now,
	})

	tooMuch := []domain.BatchDecrement{
		{BatchID: productID + "-0", ProductID: productID, Quantity: 5},
		{BatchID: productID + "-1", ProductID: productID, Quantity: 6},
	}
	if _, err := s.SaveOrder(ctx, paid, created.Version, tooMuch); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	batches, err := s.ListBatches(ctx, productID)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if batches[0].QuantityOnHand != 5 || batches[1].QuantityOnHand != 5 {
		t.Fatalf("failed commit must not deplete, got %d/%d", batches[0].QuantityOnHand, batches[1].QuantityOnHand)
	}

	plan := []domain.BatchDecrement{
		{BatchID: productID + "-0", ProductID: productID, Quantity: 5},
		{BatchID: productID + "-1", ProductID: productID, Quantity: 2},
	}
	saved, err := s.SaveOrder(ctx, paid, created.Version, plan)
	if err != nil {
		t.Fatalf("save order: %v", err)
	}
	if saved.Version != created.Version+1 {
		t.Fatalf("expected version %d, got %d", created.Version+1, saved.Version)
	}

	if _, err := s.SaveOrder(ctx, paid, created.Version, nil); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}

	batches, err = s.ListBatches(ctx, productID)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if batches[0].QuantityOnHand != 0 || batches[1].QuantityOnHand != 3 {
		t.Fatalf("expected 0/3 after depletion, got %d/%d", batches[0].QuantityOnHand, batches[1].QuantityOnHand)
	}

	loaded, err := s.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if loaded.Status != domain.OrderStatusFullyPaid || len(loaded.PaymentHistory) != 1 || !loaded.StockDepleted {
		t.Fatalf("unexpected stored order: %+v", loaded)
	}
}

func TestRetireExpiredRecordsSpoilage(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	productID := fmt.Sprintf("lily-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM spoilage_records WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_batches WHERE product_id = $1`, productID)
	})

	now := time.Now().UTC()
	if _, err := s.CreateBatch(ctx, domain.StockBatch{
		ProductID:      productID,
		ProductName:    "Lily IT",
		Category:       domain.CategoryPerishable,
		QuantityOnHand: 4,
		UnitPrice:      decimal.NewFromInt(80),
		ReceivedAt:     now.AddDate(0, 0, -10),
		LifespanDays:   5,
	}); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	records, err := s.RetireExpired(ctx, now)
	if err != nil {
		t.Fatalf("retire expired: %v", err)
	}
	found := false
	for _, r := range records {
		if r.ProductID == productID && r.Quantity == 4 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected spoilage record for %s, got %+v", productID, records)
	}

	batches, err := s.ListBatches(ctx, productID)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 0 {
		t.Fatalf("retired batch must leave the ledger, got %d", len(batches))
	}
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloompos/backend/internal/domain"
	"bloompos/backend/internal/store"
)

func TestSaveOrderChecksVersionAndStock(t *testing.T) {
	ctx := context.Background()
	s := New()

	batch, err := s.CreateBatch(ctx, domain.StockBatch{ProductID: "rose", Category: domain.CategoryNonPerishable, QuantityOnHand: 3, UnitPrice: decimal.NewFromInt(40)})
	require.NoError(t, err)

	order, err := s.CreateOrder(ctx, domain.Order{Kind: domain.OrderKindRetail, Status: domain.OrderStatusPending})
	require.NoError(t, err)
	assert.Equal(t, int64(1), order.Version)

	_, err = s.SaveOrder(ctx, *order, 1, []domain.BatchDecrement{{BatchID: batch.ID, ProductID: "rose", Quantity: 4}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	saved, err := s.SaveOrder(ctx, *order, 1, []domain.BatchDecrement{{BatchID: batch.ID, ProductID: "rose", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	_, err = s.SaveOrder(ctx, *order, 1, nil)
	require.ErrorIs(t, err, store.ErrConflict)

	batches, err := s.ListBatches(ctx, "rose")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].QuantityOnHand)
}

func TestStoredOrdersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	order, err := s.CreateOrder(ctx, domain.Order{
		Kind:   domain.OrderKindRetail,
		Status: domain.OrderStatusPending,
		Lines:  []domain.OrderLineItem{{ProductID: "rose", Quantity: 1}},
	})
	require.NoError(t, err)
	order.Lines[0].Quantity = 99

	loaded, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Lines[0].Quantity)

	_, err = s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetireExpired(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

	_, err := s.CreateBatch(ctx, domain.StockBatch{ID: "old", ProductID: "rose", Category: domain.CategoryPerishable, QuantityOnHand: 6, UnitPrice: decimal.NewFromInt(40), ReceivedAt: now.AddDate(0, 0, -9), LifespanDays: 7})
	require.NoError(t, err)
	_, err = s.CreateBatch(ctx, domain.StockBatch{ID: "empty", ProductID: "rose", Category: domain.CategoryPerishable, QuantityOnHand: 0, UnitPrice: decimal.NewFromInt(40), ReceivedAt: now.AddDate(0, 0, -9), LifespanDays: 7})
	require.NoError(t, err)
	_, err = s.CreateBatch(ctx, domain.StockBatch{ID: "new", ProductID: "rose", Category: domain.CategoryPerishable, QuantityOnHand: 6, UnitPrice: decimal.NewFromInt(40), ReceivedAt: now.AddDate(0, 0, -1), LifespanDays: 7})
	require.NoError(t, err)

	records, err := s.RetireExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "old", records[0].BatchID)
	assert.Equal(t, 6, records[0].Quantity)

	batches, err := s.ListBatches(ctx, "")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "new", batches[0].ID)

	again, err := s.RetireExpired(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, again)

	spoilage, err := s.ListSpoilage(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, spoilage, 1)
}

func TestDeleteOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	order, err := s.CreateOrder(ctx, domain.Order{Kind: domain.OrderKindRetail, Status: domain.OrderStatusCancelled})
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteOrder(ctx, order.ID, 7), store.ErrConflict)
	require.NoError(t, s.DeleteOrder(ctx, order.ID, order.Version))
	require.ErrorIs(t, s.DeleteOrder(ctx, order.ID, order.Version), store.ErrNotFound)
}

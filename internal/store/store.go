package store

import (
	"context"
	"errors"
	"time"

	"bloompos/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("record was modified concurrently")
)

type Repository interface {
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error)
	// SaveOrder replaces the stored order when its version still equals
	// expectedVersion and applies decrements in the same transaction. Either
	// everything is written or nothing is; a batch that no longer holds the
	// planned quantity fails with domain.ErrInsufficientStock.
	SaveOrder(ctx context.Context, order domain.Order, expectedVersion int64, decrements []domain.BatchDecrement) (*domain.Order, error)
	DeleteOrder(ctx context.Context, id string, expectedVersion int64) error

	CreateBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error)
	ListBatches(ctx context.Context, productID string) ([]domain.StockBatch, error)
	GetBatchesByProducts(ctx context.Context, productIDs []string) (map[string][]domain.StockBatch, error)
	// RetireExpired removes every batch expired at now from the ledger and
	// returns a spoilage record for each one that still held stock.
	RetireExpired(ctx context.Context, now time.Time) ([]domain.SpoilageRecord, error)
	ListSpoilage(ctx context.Context, limit int) ([]domain.SpoilageRecord, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, entityID string, limit int) ([]domain.AuditLog, error)
}

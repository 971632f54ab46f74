package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"bloompos/backend/internal/domain"
	"bloompos/backend/internal/inventory"
	"bloompos/backend/internal/xid"
)

const (
	OrderingAge    = "age"
	OrderingExpiry = "expiry"
)

// ReceiveStock records a delivery as a new batch. Deliveries are never merged
// into existing batches so each keeps its own receipt date.
func (s *Service) ReceiveStock(ctx context.Context, req domain.ReceiveStockRequest) (domain.StockBatch, error) {
	ctx, span := s.tracer.Start(ctx, "ReceiveStock")
	defer span.End()

	if err := requireAdmin(ctx); err != nil {
		failSpan(span, err)
		return domain.StockBatch{}, err
	}

	batch, err := s.batchFromRequest(req)
	if err != nil {
		failSpan(span, err)
		return domain.StockBatch{}, err
	}
	span.SetAttributes(
		attribute.String("product.id", batch.ProductID),
		attribute.Int("batch.quantity", batch.QuantityOnHand),
	)

	created, err := s.repo.CreateBatch(ctx, batch)
	if err != nil {
		failSpan(span, err)
		return domain.StockBatch{}, err
	}

	s.logAudit(ctx, "stock_receive", "stock_batch", created.ID, fmt.Sprintf("product=%s,qty=%d,lifespan=%d", created.ProductID, created.QuantityOnHand, created.LifespanDays))
	return *created, nil
}

func (s *Service) batchFromRequest(req domain.ReceiveStockRequest) (domain.StockBatch, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.StockBatch{}, fmt.Errorf("product id required: %w", domain.ErrInvalidBatch)
	}
	if req.Quantity < 1 {
		return domain.StockBatch{}, fmt.Errorf("quantity must be at least 1: %w", domain.ErrInvalidBatch)
	}
	if req.UnitPrice.IsNegative() {
		return domain.StockBatch{}, fmt.Errorf("unit price must not be negative: %w", domain.ErrInvalidBatch)
	}
	if req.MinimumThreshold < 0 {
		return domain.StockBatch{}, fmt.Errorf("minimum threshold must not be negative: %w", domain.ErrInvalidBatch)
	}

	category := strings.ToLower(strings.TrimSpace(req.Category))
	lifespan := 0
	switch category {
	case domain.CategoryPerishable:
		if req.LifespanDays == nil || *req.LifespanDays < 1 {
			return domain.StockBatch{}, fmt.Errorf("perishable stock needs a lifespan in days: %w", domain.ErrInvalidBatch)
		}
		lifespan = *req.LifespanDays
	case domain.CategoryNonPerishable:
		if req.LifespanDays != nil && *req.LifespanDays != 0 {
			return domain.StockBatch{}, fmt.Errorf("non-perishable stock has no lifespan: %w", domain.ErrInvalidBatch)
		}
	default:
		return domain.StockBatch{}, fmt.Errorf("unknown category %q: %w", req.Category, domain.ErrInvalidBatch)
	}

	receivedAt := s.now()
	if req.ReceivedAt != nil && !req.ReceivedAt.IsZero() {
		receivedAt = req.ReceivedAt.UTC()
	}
	name := strings.TrimSpace(req.ProductName)
	if name == "" {
		name = productID
	}

	return domain.StockBatch{
		ID:               xid.New("batch"),
		ProductID:        productID,
		ProductName:      name,
		Category:         category,
		QuantityOnHand:   req.Quantity,
		UnitPrice:        req.UnitPrice,
		ReceivedAt:       receivedAt,
		LifespanDays:     lifespan,
		MinimumThreshold: req.MinimumThreshold,
		Supplier:         strings.TrimSpace(req.Supplier),
	}, nil
}

func (s *Service) ListBatches(ctx context.Context, productID string, ordering string) (domain.BatchListResponse, error) {
	batches, err := s.repo.ListBatches(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.BatchListResponse{}, err
	}

	switch strings.ToLower(strings.TrimSpace(ordering)) {
	case "", OrderingAge:
		batches = inventory.OrderByAge(batches)
	case OrderingExpiry:
		batches = inventory.OrderByExpiry(batches)
	default:
		return domain.BatchListResponse{}, fmt.Errorf("unknown ordering %q: %w", ordering, domain.ErrInvalidArgument)
	}
	return domain.BatchListResponse{Batches: batches}, nil
}

func (s *Service) InventoryReport(ctx context.Context, now time.Time) (inventory.Report, error) {
	batches, err := s.repo.ListBatches(ctx, "")
	if err != nil {
		return inventory.Report{}, err
	}
	if now.IsZero() {
		now = s.now()
	}
	return inventory.BuildReport(batches, now, s.warningDays), nil
}

// RetireExpired moves every batch past its expiry into spoilage.
func (s *Service) RetireExpired(ctx context.Context, now time.Time) (domain.RetireResponse, error) {
	ctx, span := s.tracer.Start(ctx, "RetireExpired")
	defer span.End()

	if err := requireAdmin(ctx); err != nil {
		failSpan(span, err)
		return domain.RetireResponse{}, err
	}
	if now.IsZero() {
		now = s.now()
	}

	records, err := s.repo.RetireExpired(ctx, now)
	if err != nil {
		failSpan(span, err)
		return domain.RetireResponse{}, err
	}
	span.SetAttributes(attribute.Int("spoilage.records", len(records)))

	for _, record := range records {
		s.logAudit(ctx, "stock_retire", "stock_batch", record.BatchID, fmt.Sprintf("product=%s,qty=%d", record.ProductID, record.Quantity))
	}
	if len(records) > 0 {
		s.logger.InfoContext(ctx, "retired expired batches", "count", len(records))
	}
	return domain.RetireResponse{Retired: records}, nil
}

func (s *Service) ListSpoilage(ctx context.Context, limit int) ([]domain.SpoilageRecord, error) {
	return s.repo.ListSpoilage(ctx, limit)
}

// Advisories returns the seasonal and holiday advisories active on date.
func (s *Service) Advisories(date time.Time) []inventory.Advisory {
	if date.IsZero() {
		date = s.now()
	}
	return slices.Collect(inventory.Advisories(date))
}

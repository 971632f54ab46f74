package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bloompos/backend/internal/depletion"
	"bloompos/backend/internal/domain"
	"bloompos/backend/internal/inventory"
	"bloompos/backend/internal/settlement"
	"bloompos/backend/internal/xid"
)

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	lines, err := s.resolveLines(ctx, req.Lines)
	if err != nil {
		return domain.Order{}, err
	}
	s.warnIfClamped(ctx, req.DiscountPercentage)

	order, err := settlement.BuildOrder(xid.New("ord"), req.Kind, lines, req.DiscountPercentage, req.Event, s.now())
	if err != nil {
		return domain.Order{}, err
	}
	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_create", "order", created.ID, fmt.Sprintf("kind=%s,lines=%d,total=%s", created.Kind, len(created.Lines), created.TotalAmount.StringFixed(2)))
	return *created, nil
}

func (s *Service) CreateEventDraft(ctx context.Context, details domain.EventDetails) (domain.Order, error) {
	details.ClientName = strings.TrimSpace(details.ClientName)
	details.Address = strings.TrimSpace(details.Address)
	if details.ClientName == "" {
		return domain.Order{}, fmt.Errorf("event client name required: %w", domain.ErrInvalidOrder)
	}

	created, err := s.repo.CreateOrder(ctx, settlement.NewEventDraft(xid.New("ord"), details, s.now()))
	if err != nil {
		return domain.Order{}, err
	}
	s.logAudit(ctx, "order_event_draft", "order", created.ID, "client="+details.ClientName)
	return *created, nil
}

func (s *Service) SelectEventProducts(ctx context.Context, orderID string, req domain.SelectProductsRequest) (domain.Order, error) {
	lines, err := s.resolveLines(ctx, req.Lines)
	if err != nil {
		return domain.Order{}, err
	}
	s.warnIfClamped(ctx, req.DiscountPercentage)

	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	current, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	next, err := settlement.SelectProducts(*current, lines, req.DiscountPercentage, s.now())
	if err != nil {
		return domain.Order{}, err
	}
	saved, err := s.repo.SaveOrder(ctx, next, current.Version, nil)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_select_products", "order", saved.ID, fmt.Sprintf("lines=%d,total=%s", len(saved.Lines), saved.TotalAmount.StringFixed(2)))
	return *saved, nil
}

// Settle applies one payment attempt. When the payment completes the order,
// its lines are depleted from stock in the same commit; if stock cannot cover
// them the payment is rejected and nothing is written.
func (s *Service) Settle(ctx context.Context, orderID string, attempt domain.PaymentAttempt) (domain.SettleResponse, error) {
	ctx, span := s.tracer.Start(ctx, "Settle")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("payment.mode", attempt.Mode),
		attribute.String("payment.method", attempt.Method),
	)

	resp, err := s.settle(ctx, orderID, attempt)
	outcome := "ok"
	if err != nil {
		failSpan(span, err)
		outcome = domain.ErrorKind(err)
		if outcome == "" {
			outcome = "error"
		}
	} else {
		span.SetAttributes(attribute.String("order.status", resp.Status))
	}
	s.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return resp, err
}

func (s *Service) settle(ctx context.Context, orderID string, attempt domain.PaymentAttempt) (domain.SettleResponse, error) {
	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return domain.SettleResponse{}, err
	}
	defer unlock()

	current, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.SettleResponse{}, err
	}

	now := s.now()
	next, receipt, err := s.policy.Settle(*current, attempt, now)
	if err != nil {
		return domain.SettleResponse{}, err
	}

	var plan []domain.BatchDecrement
	if next.Status == domain.OrderStatusFullyPaid && !current.StockDepleted {
		productIDs := depletion.ProductIDs(next.Lines)
		unlockProducts, err := s.lockProducts(ctx, productIDs)
		if err != nil {
			return domain.SettleResponse{}, err
		}
		defer unlockProducts()

		plan, err = s.planDepletion(ctx, next.Lines, productIDs)
		if err != nil {
			return domain.SettleResponse{}, err
		}
		next.StockDepleted = true
	}

	saved, err := s.repo.SaveOrder(ctx, next, current.Version, plan)
	if err != nil {
		return domain.SettleResponse{}, err
	}

	detail := fmt.Sprintf("due=%s,method=%s,status=%s", receipt.AmountDue.StringFixed(2), strings.ToLower(attempt.Method), saved.Status)
	s.logAudit(ctx, "order_settle", "order", saved.ID, detail)
	if len(plan) > 0 {
		units := 0
		for _, dec := range plan {
			units += dec.Quantity
		}
		s.depletions.Add(ctx, int64(units))
		s.logAudit(ctx, "stock_deplete", "order", saved.ID, fmt.Sprintf("batches=%d,units=%d", len(plan), units))
	}

	return domain.SettleResponse{
		OrderID:          saved.ID,
		Change:           receipt.Change,
		RemainingBalance: receipt.RemainingBalance,
		Status:           saved.Status,
		Depleted:         plan,
	}, nil
}

func (s *Service) planDepletion(ctx context.Context, lines []domain.OrderLineItem, productIDs []string) ([]domain.BatchDecrement, error) {
	ctx, span := s.tracer.Start(ctx, "PlanDepletion")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("product.ids", productIDs))

	batches, err := s.repo.GetBatchesByProducts(ctx, productIDs)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	plan, err := depletion.Plan(lines, batches, s.now())
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("plan.steps", len(plan)))
	return plan, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	current, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	next, err := settlement.Cancel(*current, s.now())
	if err != nil {
		return domain.Order{}, err
	}
	saved, err := s.repo.SaveOrder(ctx, next, current.Version, nil)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_cancel", "order", saved.ID, fmt.Sprintf("paid=%s", saved.TotalPaid().StringFixed(2)))
	return *saved, nil
}

// DeleteOrder removes a cancelled order. Manager authorisation is checked by
// the caller.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := settlement.EnsureDeletable(*current); err != nil {
		return err
	}
	if err := s.repo.DeleteOrder(ctx, orderID, current.Version); err != nil {
		return err
	}

	s.logAudit(ctx, "order_delete", "order", orderID, "")
	return nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, status string, limit int) (domain.OrderListResponse, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", domain.OrderStatusDraft, domain.OrderStatusPending, domain.OrderStatusFullyPaid, domain.OrderStatusCancelled:
	default:
		return domain.OrderListResponse{}, fmt.Errorf("unknown order status %q: %w", status, domain.ErrInvalidArgument)
	}

	orders, err := s.repo.ListOrders(ctx, status, limit)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return domain.OrderListResponse{Orders: orders}, nil
}

// resolveLines fills an absent unit price or product name from the most
// recently received batch of the product. An explicit price, zero included,
// is kept as given.
func (s *Service) resolveLines(ctx context.Context, requested []domain.LineRequest) ([]domain.OrderLineItem, error) {
	resolved := make([]domain.OrderLineItem, len(requested))
	priced := make([]bool, len(requested))

	missing := make([]string, 0)
	for i, req := range requested {
		resolved[i] = domain.OrderLineItem{
			ProductID:   strings.TrimSpace(req.ProductID),
			ProductName: strings.TrimSpace(req.ProductName),
			Quantity:    req.Quantity,
		}
		if req.UnitPrice != nil {
			resolved[i].UnitPrice = *req.UnitPrice
			priced[i] = true
		}
		if !priced[i] || resolved[i].ProductName == "" {
			missing = append(missing, resolved[i].ProductID)
		}
	}
	if len(missing) == 0 {
		return resolved, nil
	}

	batches, err := s.repo.GetBatchesByProducts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i := range resolved {
		candidates := batches[resolved[i].ProductID]
		if len(candidates) == 0 {
			if !priced[i] {
				return nil, fmt.Errorf("no price given and no stock for product %q: %w", resolved[i].ProductID, domain.ErrInvalidLine)
			}
			continue
		}
		aged := inventory.OrderByAge(candidates)
		newest := aged[len(aged)-1]
		if !priced[i] {
			resolved[i].UnitPrice = newest.UnitPrice
		}
		if resolved[i].ProductName == "" {
			resolved[i].ProductName = newest.ProductName
		}
	}
	return resolved, nil
}

func (s *Service) warnIfClamped(ctx context.Context, pct decimal.Decimal) {
	if _, clamped := settlement.ClampDiscount(pct); clamped {
		s.logger.WarnContext(ctx, "discount percentage clamped", "requested", pct.String())
	}
}

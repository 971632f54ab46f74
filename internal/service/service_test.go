package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bloompos/backend/internal/domain"
	"bloompos/backend/internal/lock"
	"bloompos/backend/internal/store"
	"bloompos/backend/internal/store/memory"
)

var testNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestService() (*Service, *memory.Store) {
	repo := memory.New()
	svc := New(repo, lock.NewMemoryLocker(), Options{
		LockTimeout: time.Second,
		Now:         func() time.Time { return testNow },
	})
	return svc, repo
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func unitPrice(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func receive(t *testing.T, svc *Service, productID string, qty int, price int64, receivedAt time.Time) domain.StockBatch {
	t.Helper()
	batch, err := svc.ReceiveStock(adminContext(), domain.ReceiveStockRequest{
		ProductID:        productID,
		ProductName:      productID,
		Category:         domain.CategoryNonPerishable,
		Quantity:         qty,
		UnitPrice:        decimal.NewFromInt(price),
		ReceivedAt:       timePtr(receivedAt),
		MinimumThreshold: 1,
	})
	if err != nil {
		t.Fatalf("receive stock: %v", err)
	}
	return batch
}

func quantities(t *testing.T, svc *Service, productID string) map[string]int {
	t.Helper()
	resp, err := svc.ListBatches(context.Background(), productID, OrderingAge)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	out := make(map[string]int, len(resp.Batches))
	for _, b := range resp.Batches {
		out[b.ID] = b.QuantityOnHand
	}
	return out
}

func TestCreateOrderResolvesPriceFromNewestBatch(t *testing.T) {
	svc, _ := newTestService()
	receive(t, svc, "rose", 10, 40, testNow.AddDate(0, 0, -5))
	receive(t, svc, "rose", 10, 55, testNow.AddDate(0, 0, -1))

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Lines: []domain.LineRequest{{ProductID: "rose", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !order.Lines[0].UnitPrice.Equal(decimal.NewFromInt(55)) {
		t.Fatalf("expected newest batch price 55, got %s", order.Lines[0].UnitPrice)
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected total 110, got %s", order.TotalAmount)
	}
	if order.Kind != domain.OrderKindRetail || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order %s/%s", order.Kind, order.Status)
	}
}

func TestCreateOrderKeepsExplicitZeroPrice(t *testing.T) {
	svc, _ := newTestService()
	receive(t, svc, "ribbon", 10, 75, testNow.AddDate(0, 0, -1))

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Lines: []domain.LineRequest{{ProductID: "ribbon", Quantity: 2, UnitPrice: unitPrice(0)}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !order.Lines[0].UnitPrice.IsZero() || !order.TotalAmount.IsZero() {
		t.Fatalf("expected complimentary line to stay free, got price %s total %s", order.Lines[0].UnitPrice, order.TotalAmount)
	}
	if order.Lines[0].ProductName != "ribbon" {
		t.Fatalf("expected product name resolved from batch, got %q", order.Lines[0].ProductName)
	}
}

func TestCreateOrderWithoutPriceOrStockFails(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Lines: []domain.LineRequest{{ProductID: "orchid", Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrInvalidLine) {
		t.Fatalf("expected unpriced line to fail, got %v", err)
	}
}

func TestSettleDepletesOldestBatchFirst(t *testing.T) {
	svc, _ := newTestService()
	batchA := receive(t, svc, "rose", 5, 100, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	batchB := receive(t, svc, "rose", 5, 100, time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC))

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Lines: []domain.LineRequest{{ProductID: "rose", Quantity: 7, UnitPrice: unitPrice(100)}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	resp, err := svc.Settle(context.Background(), order.ID, domain.PaymentAttempt{
		Method:   domain.PaymentMethodCash,
		Tendered: decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if resp.Status != domain.OrderStatusFullyPaid {
		t.Fatalf("expected fully paid, got %s", resp.Status)
	}
	if !resp.Change.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected change 300, got %s", resp.Change)
	}
	if len(resp.Depleted) != 2 {
		t.Fatalf("expected two decrements, got %+v", resp.Depleted)
	}

	qty := quantities(t, svc, "rose")
	if qty[batchA.ID] != 0 || qty[batchB.ID] != 3 {
		t.Fatalf("expected A=0 B=3, got A=%d B=%d", qty[batchA.ID], qty[batchB.ID])
	}

	stored, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !stored.StockDepleted {
		t.Fatalf("expected order to be marked depleted")
	}
}

func TestDownpaymentDefersDepletionUntilFullyPaid(t *testing.T) {
	svc, _ := newTestService()
	batch := receive(t, svc, "lily", 20, 1500, testNow.AddDate(0, 0, -1))

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Kind:  domain.OrderKindRetail,
		Lines: []domain.LineRequest{{ProductID: "lily", Quantity: 10, UnitPrice: unitPrice(1500)}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	resp, err := svc.Settle(context.Background(), order.ID, domain.PaymentAttempt{
		Mode:     domain.PaymentModeDownpayment,
		Amount:   decimal.NewFromInt(10000),
		Method:   domain.PaymentMethodGCash,
		ProofRef: "GC-0001",
	})
	if err != nil {
		t.Fatalf("downpayment: %v", err)
	}
	if resp.Status != domain.OrderStatusPending || !resp.RemainingBalance.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected pending with 5000 remaining, got %s/%s", resp.Status, resp.RemainingBalance)
	}
	if qty := quantities(t, svc, "lily")[batch.ID]; qty != 20 {
		t.Fatalf("downpayment must not touch stock, got %d", qty)
	}

	resp, err = svc.Settle(context.Background(), order.ID, domain.PaymentAttempt{
		Method:   domain.PaymentMethodCash,
		Tendered: decimal.NewFromInt(5000),
	})
	if err != nil {
		t.Fatalf("final payment: %v", err)
	}
	if resp.Status != domain.OrderStatusFullyPaid || !resp.Change.IsZero() {
		t.Fatalf("expected fully paid with no change, got %s/%s", resp.Status, resp.Change)
	}
	if qty := quantities(t, svc, "lily")[batch.ID]; qty != 10 {
		t.Fatalf("expected 10 left after depletion, got %d", qty)
	}
}

func TestSettleWithoutStockRejectsPayment(t *testing.T) {
	svc, _ := newTestService()
	receive(t, svc, "tulip", 2, 80, testNow.AddDate(0, 0, -1))

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Lines: []domain.LineRequest{{ProductID: "tulip", Quantity: 3, UnitPrice: unitPrice(80)}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = svc.Settle(context.Background(), order.ID, domain.PaymentAttempt{Method: domain.PaymentMethodCash, Tendered: decimal.NewFromInt(240)})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	stored, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusPending || len(stored.PaymentHistory) != 0 {
		t.Fatalf("order must be unchanged, got %s with %d payments", stored.Status, len(stored.PaymentHistory))
	}
}

func TestConcurrentSettleSucceedsOnce(t *testing.T) {
	svc, _ := newTestService()
	batch := receive(t, svc, "rose", 50, 100, testNow.AddDate(0, 0, -1))

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Lines: []domain.LineRequest{{ProductID: "rose", Quantity: 4, UnitPrice: unitPrice(100)}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		invalid   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Settle(context.Background(), order.ID, domain.PaymentAttempt{
				Method:   domain.PaymentMethodCash,
				Tendered: decimal.NewFromInt(400),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrInvalidState):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || invalid != attempts-1 {
		t.Fatalf("expected 1 success and %d invalid-state, got %d/%d", attempts-1, successes, invalid)
	}
	if qty := quantities(t, svc, "rose")[batch.ID]; qty != 46 {
		t.Fatalf("stock must be depleted exactly once, got %d", qty)
	}

	stored, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(stored.PaymentHistory) != 1 {
		t.Fatalf("expected one payment record, got %d", len(stored.PaymentHistory))
	}
}

func TestCancelAndDeleteLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		Lines: []domain.LineRequest{{ProductID: "rose", Quantity: 1, UnitPrice: unitPrice(50)}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := svc.DeleteOrder(ctx, order.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected pending delete to fail with invalid state, got %v", err)
	}

	cancelled, err := svc.CancelOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if _, err := svc.CancelOrder(ctx, order.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected second cancel to fail, got %v", err)
	}
	if _, err := svc.Settle(ctx, order.ID, domain.PaymentAttempt{Method: domain.PaymentMethodCash, Tendered: decimal.NewFromInt(50)}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected settle on cancelled order to fail, got %v", err)
	}

	if err := svc.DeleteOrder(ctx, order.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetOrder(ctx, order.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, order.ID, 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 3 || logs[0].Action != "order_delete" {
		t.Fatalf("expected create/cancel/delete audit trail, got %+v", logs)
	}
}

func TestEventDraftFlow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	receive(t, svc, "lily", 40, 900, testNow.AddDate(0, 0, -1))

	if _, err := svc.CreateEventDraft(ctx, domain.EventDetails{Address: "Makati"}); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("expected missing client name to fail, got %v", err)
	}

	draft, err := svc.CreateEventDraft(ctx, domain.EventDetails{ClientName: "Santos", Address: "Makati", EventDate: timePtr(testNow.AddDate(0, 0, 20))})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if draft.Status != domain.OrderStatusDraft {
		t.Fatalf("expected draft, got %s", draft.Status)
	}
	if _, err := svc.Settle(ctx, draft.ID, domain.PaymentAttempt{Method: domain.PaymentMethodCash}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected draft settle to fail, got %v", err)
	}

	selected, err := svc.SelectEventProducts(ctx, draft.ID, domain.SelectProductsRequest{
		Lines:              []domain.LineRequest{{ProductID: "lily", Quantity: 20}},
		DiscountPercentage: decimal.NewFromInt(120),
	})
	if err != nil {
		t.Fatalf("select products: %v", err)
	}
	if selected.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending after selection, got %s", selected.Status)
	}
	if !selected.DiscountPercentage.Equal(decimal.NewFromInt(100)) || !selected.TotalAmount.IsZero() {
		t.Fatalf("expected clamped 100%% discount, got %s total %s", selected.DiscountPercentage, selected.TotalAmount)
	}
	if selected.Event == nil || selected.Event.ClientName != "Santos" {
		t.Fatalf("event details must survive selection")
	}
}

func TestReceiveStockValidation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ReceiveStock(context.Background(), domain.ReceiveStockRequest{ProductID: "rose", Category: domain.CategoryPerishable, Quantity: 5, LifespanDays: intPtr(7)})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected admin requirement, got %v", err)
	}

	cases := []domain.ReceiveStockRequest{
		{ProductID: "rose", Category: domain.CategoryPerishable, Quantity: 5},
		{ProductID: "rose", Category: domain.CategoryPerishable, Quantity: 5, LifespanDays: intPtr(0)},
		{ProductID: "ribbon", Category: domain.CategoryNonPerishable, Quantity: 5, LifespanDays: intPtr(3)},
		{ProductID: "rose", Category: "frozen", Quantity: 5},
		{ProductID: "", Category: domain.CategoryNonPerishable, Quantity: 5},
		{ProductID: "rose", Category: domain.CategoryNonPerishable, Quantity: 0},
		{ProductID: "rose", Category: domain.CategoryNonPerishable, Quantity: 1, UnitPrice: decimal.NewFromInt(-1)},
	}
	for i, req := range cases {
		if _, err := svc.ReceiveStock(adminContext(), req); !errors.Is(err, domain.ErrInvalidBatch) {
			t.Fatalf("case %d: expected invalid batch, got %v", i, err)
		}
	}

	first := receive(t, svc, "ribbon", 5, 20, testNow)
	second := receive(t, svc, "ribbon", 5, 20, testNow)
	if first.ID == second.ID {
		t.Fatalf("each delivery must create its own batch")
	}
}

func TestRetireExpiredAndReport(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()

	for _, req := range []domain.ReceiveStockRequest{
		{ProductID: "rose", Category: domain.CategoryPerishable, Quantity: 12, UnitPrice: decimal.NewFromInt(40), ReceivedAt: timePtr(testNow.AddDate(0, 0, -9)), LifespanDays: intPtr(7), MinimumThreshold: 5},
		{ProductID: "rose", Category: domain.CategoryPerishable, Quantity: 3, UnitPrice: decimal.NewFromInt(40), ReceivedAt: timePtr(testNow.AddDate(0, 0, -6)), LifespanDays: intPtr(7), MinimumThreshold: 5},
	} {
		if _, err := svc.ReceiveStock(ctx, req); err != nil {
			t.Fatalf("receive: %v", err)
		}
	}

	report, err := svc.InventoryReport(ctx, time.Time{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(report.Expired) != 1 || len(report.ExpiringSoon) != 1 || len(report.LowStock) != 1 {
		t.Fatalf("unexpected report: expired=%d soon=%d low=%d", len(report.Expired), len(report.ExpiringSoon), len(report.LowStock))
	}
	if len(report.Advisories) == 0 {
		t.Fatalf("expected seasonal advisories")
	}

	if _, err := svc.RetireExpired(context.Background(), time.Time{}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected admin requirement, got %v", err)
	}
	resp, err := svc.RetireExpired(ctx, time.Time{})
	if err != nil {
		t.Fatalf("retire: %v", err)
	}
	if len(resp.Retired) != 1 || resp.Retired[0].Quantity != 12 {
		t.Fatalf("expected the 12-unit batch to be retired, got %+v", resp.Retired)
	}

	batches, err := svc.ListBatches(ctx, "rose", OrderingExpiry)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(batches.Batches) != 1 || batches.Batches[0].QuantityOnHand != 3 {
		t.Fatalf("expected only the fresh batch to remain, got %+v", batches.Batches)
	}
	if _, err := svc.ListBatches(ctx, "", "price"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected unknown ordering to fail, got %v", err)
	}
}

func TestListOrdersRejectsUnknownStatus(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.ListOrders(context.Background(), "shipped", 10); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestWarningDaysZeroIsKept(t *testing.T) {
	repo := memory.New()
	svc := New(repo, lock.NewMemoryLocker(), Options{WarningDays: intPtr(0)})
	if got := svc.WarningDays(); got != 0 {
		t.Fatalf("expected 0 warning days, got %d", got)
	}

	svc = New(repo, lock.NewMemoryLocker(), Options{})
	if got := svc.WarningDays(); got != DefaultWarningDays {
		t.Fatalf("expected default warning days, got %d", got)
	}
	svc = New(repo, lock.NewMemoryLocker(), Options{WarningDays: intPtr(-1)})
	if got := svc.WarningDays(); got != DefaultWarningDays {
		t.Fatalf("expected negative warning days to fall back, got %d", got)
	}
}

package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bloompos/backend/internal/domain"
	"bloompos/backend/internal/inventory"
	"bloompos/backend/internal/store"
	"bloompos/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const orderColumns = `
	id, kind, client_name, event_address, event_date,
	subtotal, discount_percentage, discount_amount, total_amount,
	status, stock_depleted, version, created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var (
		order      domain.Order
		clientName sql.NullString
		address    sql.NullString
		eventDate  sql.NullTime
	)
	err := row.Scan(
		&order.ID,
		&order.Kind,
		&clientName,
		&address,
		&eventDate,
		&order.Subtotal,
		&order.DiscountPercentage,
		&order.DiscountAmount,
		&order.TotalAmount,
		&order.Status,
		&order.StockDepleted,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Kind == domain.OrderKindEvent {
		order.Event = &domain.EventDetails{ClientName: clientName.String, Address: address.String}
		if eventDate.Valid {
			at := eventDate.Time.UTC()
			order.Event.EventDate = &at
		}
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.Lines = []domain.OrderLineItem{}
	order.PaymentHistory = []domain.PaymentRecord{}
	return order, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	order.Version = 1

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	clientName, address, eventDate := eventColumns(order.Event)
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO orders (
			id, kind, client_name, event_address, event_date,
			subtotal, discount_percentage, discount_amount, total_amount,
			status, stock_depleted, version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, order.ID, order.Kind, clientName, address, eventDate,
		order.Subtotal, order.DiscountPercentage, order.DiscountAmount, order.TotalAmount,
		order.Status, order.StockDepleted, order.Version, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("order %s: %w", order.ID, store.ErrConflict)
		}
		return nil, err
	}
	if err := insertLines(ctx, pgTx, order.ID, order.Lines); err != nil {
		return nil, err
	}
	if err := insertPayments(ctx, pgTx, order.ID, 0, order.PaymentHistory); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := order.Clone()
	return &created, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	orders := []domain.Order{order}
	if err := s.loadChildren(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (s *Store) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadChildren(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) loadChildren(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	index := make(map[string]int, len(orders))
	ids := make([]string, 0, len(orders))
	for i, order := range orders {
		index[order.ID] = i
		ids = append(ids, order.ID)
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return err
	}
	for lineRows.Next() {
		var orderID string
		var line domain.OrderLineItem
		if err := lineRows.Scan(&orderID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPrice); err != nil {
			_ = lineRows.Close()
			return err
		}
		i := index[orderID]
		orders[i].Lines = append(orders[i].Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return err
	}
	_ = lineRows.Close()

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, amount_paid, method, is_downpayment, COALESCE(proof_ref,''), recorded_at
		FROM order_payments
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var orderID string
		var payment domain.PaymentRecord
		if err := paymentRows.Scan(&orderID, &payment.AmountPaid, &payment.Method, &payment.IsDownpayment, &payment.ProofRef, &payment.RecordedAt); err != nil {
			return err
		}
		payment.RecordedAt = payment.RecordedAt.UTC()
		i := index[orderID]
		orders[i].PaymentHistory = append(orders[i].PaymentHistory, payment)
	}
	return paymentRows.Err()
}

func (s *Store) SaveOrder(ctx context.Context, order domain.Order, expectedVersion int64, decrements []domain.BatchDecrement) (*domain.Order, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var currentVersion int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT version
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, order.ID).Scan(&currentVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if currentVersion != expectedVersion {
		return nil, fmt.Errorf("order %s at version %d, expected %d: %w", order.ID, currentVersion, expectedVersion, store.ErrConflict)
	}

	if err := applyDecrements(ctx, pgTx, decrements); err != nil {
		return nil, err
	}

	order.Version = expectedVersion + 1
	clientName, address, eventDate := eventColumns(order.Event)
	_, err = pgTx.ExecContext(ctx, `
		UPDATE orders
		SET client_name = $2, event_address = $3, event_date = $4,
			subtotal = $5, discount_percentage = $6, discount_amount = $7, total_amount = $8,
			status = $9, stock_depleted = $10, version = $11, updated_at = $12
		WHERE id = $1
	`, order.ID, clientName, address, eventDate,
		order.Subtotal, order.DiscountPercentage, order.DiscountAmount, order.TotalAmount,
		order.Status, order.StockDepleted, order.Version, order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, order.ID); err != nil {
		return nil, err
	}
	if err := insertLines(ctx, pgTx, order.ID, order.Lines); err != nil {
		return nil, err
	}

	// Payment history is append-only: only records beyond the stored ones are written.
	var stored int
	if err := pgTx.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_payments WHERE order_id = $1`, order.ID).Scan(&stored); err != nil {
		return nil, err
	}
	if stored > len(order.PaymentHistory) {
		return nil, fmt.Errorf("order %s would drop recorded payments: %w", order.ID, store.ErrConflict)
	}
	if err := insertPayments(ctx, pgTx, order.ID, stored, order.PaymentHistory[stored:]); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	saved := order.Clone()
	return &saved, nil
}

func applyDecrements(ctx context.Context, q querier, decrements []domain.BatchDecrement) error {
	used := make(map[string]int, len(decrements))
	for _, dec := range decrements {
		used[dec.BatchID] += dec.Quantity
	}
	batchIDs := make([]string, 0, len(used))
	for id := range used {
		batchIDs = append(batchIDs, id)
	}
	// Fixed row order keeps concurrent commits from deadlocking.
	sort.Strings(batchIDs)

	for _, id := range batchIDs {
		res, err := q.ExecContext(ctx, `
			UPDATE stock_batches
			SET quantity_on_hand = quantity_on_hand - $2
			WHERE id = $1 AND retired_at IS NULL AND quantity_on_hand >= $2
		`, id, used[id])
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("batch %s: %w", id, domain.ErrInsufficientStock)
		}
	}
	return nil
}

func insertLines(ctx context.Context, q querier, orderID string, lines []domain.OrderLineItem) error {
	for i, line := range lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, position, product_id, product_name, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, orderID, i, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertPayments(ctx context.Context, q querier, orderID string, offset int, payments []domain.PaymentRecord) error {
	for i, payment := range payments {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_payments (order_id, position, amount_paid, method, is_downpayment, proof_ref, recorded_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, orderID, offset+i, payment.AmountPaid, payment.Method, payment.IsDownpayment, nullIfEmpty(payment.ProofRef), payment.RecordedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return fmt.Errorf("order %s: %w", id, store.ErrConflict)
}

const batchColumns = `
	id, product_id, product_name, category, quantity_on_hand, unit_price,
	received_at, lifespan_days, minimum_threshold, COALESCE(supplier,'')`

func scanBatch(row interface{ Scan(dest ...any) error }) (domain.StockBatch, error) {
	var batch domain.StockBatch
	err := row.Scan(
		&batch.ID,
		&batch.ProductID,
		&batch.ProductName,
		&batch.Category,
		&batch.QuantityOnHand,
		&batch.UnitPrice,
		&batch.ReceivedAt,
		&batch.LifespanDays,
		&batch.MinimumThreshold,
		&batch.Supplier,
	)
	batch.ReceivedAt = batch.ReceivedAt.UTC()
	return batch, err
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	if strings.TrimSpace(batch.ProductID) == "" || batch.QuantityOnHand < 0 || batch.UnitPrice.IsNegative() {
		return nil, domain.ErrInvalidBatch
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_batches (
			id, product_id, product_name, category, quantity_on_hand, unit_price,
			received_at, lifespan_days, minimum_threshold, supplier
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, batch.ID, batch.ProductID, batch.ProductName, batch.Category, batch.QuantityOnHand, batch.UnitPrice,
		batch.ReceivedAt, batch.LifespanDays, batch.MinimumThreshold, nullIfEmpty(batch.Supplier))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("batch %s: %w", batch.ID, store.ErrConflict)
		}
		return nil, err
	}

	created := batch
	return &created, nil
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.StockBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM stock_batches
		WHERE retired_at IS NULL AND ($1 = '' OR product_id = $1)
		ORDER BY received_at ASC, id ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.StockBatch, 0, 64)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) GetBatchesByProducts(ctx context.Context, productIDs []string) (map[string][]domain.StockBatch, error) {
	result := make(map[string][]domain.StockBatch, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM stock_batches
		WHERE retired_at IS NULL AND product_id = ANY($1)
		ORDER BY received_at ASC, id ASC
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		result[batch.ProductID] = append(result[batch.ProductID], batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) RetireExpired(ctx context.Context, now time.Time) ([]domain.SpoilageRecord, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	rows, err := pgTx.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM stock_batches
		WHERE retired_at IS NULL AND category = $1 AND lifespan_days > 0
		ORDER BY id
		FOR UPDATE
	`, domain.CategoryPerishable)
	if err != nil {
		return nil, err
	}
	expired := make([]domain.StockBatch, 0, 16)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		if inventory.IsExpired(batch, now) {
			expired = append(expired, batch)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	records := make([]domain.SpoilageRecord, 0, len(expired))
	for _, batch := range inventory.OrderByExpiry(expired) {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE stock_batches SET retired_at = $2, quantity_on_hand = 0 WHERE id = $1
		`, batch.ID, now); err != nil {
			return nil, err
		}
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
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO spoilage_records (id, batch_id, product_id, product_name, quantity, unit_price, expired_at, retired_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, record.ID, record.BatchID, record.ProductID, record.ProductName, record.Quantity, record.UnitPrice, record.ExpiredAt, record.RetiredAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListSpoilage(ctx context.Context, limit int) ([]domain.SpoilageRecord, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, product_id, product_name, quantity, unit_price, expired_at, retired_at
		FROM spoilage_records
		ORDER BY retired_at DESC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.SpoilageRecord, 0, limit)
	for rows.Next() {
		var r domain.SpoilageRecord
		if err := rows.Scan(&r.ID, &r.BatchID, &r.ProductID, &r.ProductName, &r.Quantity, &r.UnitPrice, &r.ExpiredAt, &r.RetiredAt); err != nil {
			return nil, err
		}
		r.ExpiredAt = r.ExpiredAt.UTC()
		r.RetiredAt = r.RetiredAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, entityID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, COALESCE(detail,''), created_at
		FROM audit_logs
		WHERE ($1 = '' OR entity_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func eventColumns(event *domain.EventDetails) (clientName any, address any, eventDate any) {
	if event == nil {
		return nil, nil, nil
	}
	return nullIfEmpty(event.ClientName), nullIfEmpty(event.Address), nullTime(event.EventDate)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStatusNotAllowed  = errors.New("current status does not allow this change")
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, order_number, user_id, status, payment_status, subtotal, shipping_fee, tax, total,
	currency, transaction_id, shipping_address, billing_address, notes, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (domain.Order, error) {
	var o domain.Order
	err := s.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentStatus, &o.Subtotal, &o.ShippingFee, &o.Tax, &o.Total,
		&o.Currency, &o.TransactionID, &o.ShippingAddress, &o.BillingAddress, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// CreateTx inserts the order with its items and tracking history inside tx.
// A second order with the same order number fails with a unique violation
// on orders_order_number_key.
func (r *OrderRepository) CreateTx(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	order.ID = uuid.New().String()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, user_id, status, payment_status, subtotal, shipping_fee, tax, total,
			currency, transaction_id, shipping_address, billing_address, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, order.ID, order.OrderNumber, order.UserID, order.Status, order.PaymentStatus, order.Subtotal, order.ShippingFee, order.Tax, order.Total,
		order.Currency, order.TransactionID, order.ShippingAddress, order.BillingAddress, order.Notes, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return err
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, variant_id, quantity, unit_price, line_total, selected_attributes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, uuid.New().String(), order.ID, i, item.ProductID, item.VariantID, item.Quantity, item.UnitPrice, item.LineTotal, item.SelectedAttributes)
		if err != nil {
			return err
		}
	}

	for _, entry := range order.Tracking {
		if err := insertTracking(ctx, tx, order.ID, entry); err != nil {
			return err
		}
	}

	return nil
}

func insertTracking(ctx context.Context, tx *sql.Tx, orderID string, entry domain.TrackingEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_tracking (order_id, status, description, location, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, orderID, entry.Status, entry.Description, entry.Location, entry.Timestamp)
	return err
}

// GetByNumber loads an order with its items and tracking history.
func (r *OrderRepository) GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_number = $1
	`, orderNumber))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	orders := []*domain.Order{&order}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	if err := r.loadTracking(ctx, orders); err != nil {
		return nil, err
	}

	return &order, nil
}

// ListByUser returns the user's orders, newest first, with their items.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, list); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(list))
	for _, o := range list {
		orders = append(orders, *o)
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		o.Items = []domain.OrderItem{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, variant_id, quantity, unit_price, line_total, selected_attributes
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.VariantID, &item.Quantity, &item.UnitPrice, &item.LineTotal, &item.SelectedAttributes); err != nil {
			return err
		}
		o := byID[orderID]
		o.Items = append(o.Items, item)
	}

	return rows.Err()
}

func (r *OrderRepository) loadTracking(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		o.Tracking = []domain.TrackingEntry{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, status, description, location, created_at
		FROM order_tracking
		WHERE order_id = ANY($1::uuid[])
		ORDER BY id
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var entry domain.TrackingEntry
		if err := rows.Scan(&orderID, &entry.Status, &entry.Description, &entry.Location, &entry.Timestamp); err != nil {
			return err
		}
		o := byID[orderID]
		o.Tracking = append(o.Tracking, entry)
	}

	return rows.Err()
}

// Transition moves an order to next and appends one tracking entry, under a
// row lock. It returns nil, nil when the order does not exist,
// ErrStatusNotAllowed when allowFrom rejects the locked current status and
// ErrInvalidTransition when the state machine forbids the move. A nil
// allowFrom accepts any current status.
func (r *OrderRepository) Transition(ctx context.Context, orderNumber string, next domain.OrderStatus, entry domain.TrackingEntry, allowFrom func(domain.OrderStatus) bool) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	var current domain.OrderStatus
	err = tx.QueryRowContext(ctx, `
		SELECT id, status FROM orders WHERE order_number = $1 FOR UPDATE
	`, orderNumber).Scan(&id, &current)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if allowFrom != nil && !allowFrom(current) {
		return nil, ErrStatusNotAllowed
	}
	if !current.CanTransitionTo(next) {
		return nil, ErrInvalidTransition
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3
	`, next, entry.Timestamp, id); err != nil {
		return nil, err
	}

	entry.Status = next
	if err := insertTracking(ctx, tx, id, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetByNumber(ctx, orderNumber)
}

// Stats aggregates order counts relative to now's day and month in UTC.
func (r *OrderRepository) Stats(ctx context.Context, now time.Time) (*domain.OrderStats, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats := &domain.OrderStats{ByStatus: make(map[domain.OrderStatus]int)}

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM orders GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status domain.OrderStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE created_at >= $1),
			COUNT(*) FILTER (WHERE created_at >= $2),
			COALESCE(SUM(total) FILTER (WHERE payment_status = $3 AND status <> $4), 0)
		FROM orders
	`, dayStart, monthStart, domain.PaymentStatusPaid, domain.OrderStatusCancelled).Scan(&stats.Today, &stats.ThisMonth, &stats.PaidRevenue)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

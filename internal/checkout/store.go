package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-payments/internal/cart"
	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/inventory"
	"github.com/joao-fontenele/orderflow-payments/internal/orders"
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
)

// PostgresStore keeps intents and incidents in Postgres and composes the
// order, inventory and cart repositories into the settlement transaction.
type PostgresStore struct {
	db       *sql.DB
	orders   *orders.OrderRepository
	variants *inventory.VariantRepository
	carts    *cart.CartRepository
}

func NewPostgresStore(db *sql.DB, orderRepo *orders.OrderRepository, variantRepo *inventory.VariantRepository, cartRepo *cart.CartRepository) *PostgresStore {
	return &PostgresStore{
		db:       db,
		orders:   orderRepo,
		variants: variantRepo,
		carts:    cartRepo,
	}
}

func (s *PostgresStore) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM checkout_intents WHERE reference = $1)
			OR EXISTS (SELECT 1 FROM orders WHERE order_number = $1)
	`, reference).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) CreateIntent(ctx context.Context, intent *domain.CheckoutIntent) error {
	customer, err := json.Marshal(intent.Customer)
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}
	lines, err := json.Marshal(intent.Lines)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkout_intents (reference, user_id, customer, line_items, subtotal, shipping_fee, tax, total,
			currency, shipping_address, billing_address, notes, state, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $14)
	`, intent.Reference, intent.UserID, customer, lines, intent.Subtotal, intent.ShippingFee, intent.Tax, intent.Total,
		intent.Currency, intent.ShippingAddress, intent.BillingAddress, intent.Notes, intent.State, intent.CreatedAt, intent.ExpiresAt)
	if isCode(err, pqUniqueViolation) {
		return ErrReferenceTaken
	}
	return err
}

func (s *PostgresStore) GetIntent(ctx context.Context, reference string) (*domain.CheckoutIntent, error) {
	var (
		intent          domain.CheckoutIntent
		customer, lines []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT reference, user_id, customer, line_items, subtotal, shipping_fee, tax, total,
			currency, shipping_address, billing_address, notes, state, created_at, expires_at
		FROM checkout_intents
		WHERE reference = $1
	`, reference).Scan(&intent.Reference, &intent.UserID, &customer, &lines, &intent.Subtotal, &intent.ShippingFee, &intent.Tax, &intent.Total,
		&intent.Currency, &intent.ShippingAddress, &intent.BillingAddress, &intent.Notes, &intent.State, &intent.CreatedAt, &intent.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(customer, &intent.Customer); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	if err := json.Unmarshal(lines, &intent.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal line items: %w", err)
	}

	return &intent, nil
}

func (s *PostgresStore) SetIntentState(ctx context.Context, reference string, state domain.IntentState) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE checkout_intents SET state = $2, updated_at = NOW()
		WHERE reference = $1 AND state = $3
	`, reference, state, domain.IntentStateOpen)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return s.orders.GetByNumber(ctx, orderNumber)
}

// Materialize runs the settlement in one SERIALIZABLE transaction. The order
// row goes first so that a losing concurrent writer blocks on the unique
// order number and fails before touching stock.
func (s *PostgresStore) Materialize(ctx context.Context, intent *domain.CheckoutIntent, order *domain.Order) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.orders.CreateTx(ctx, tx, order); err != nil {
		return classify(err, "insert order")
	}

	for _, line := range intent.Lines {
		if err := s.variants.DecrementTx(ctx, tx, line.VariantID, line.Quantity); err != nil {
			if errors.Is(err, inventory.ErrInsufficientStock) {
				return fmt.Errorf("decrement %s: %w", line.VariantID, err)
			}
			return classify(err, "decrement stock")
		}
	}

	if err := s.carts.ClearTx(ctx, tx, intent.UserID, intent.CartItemIDs()); err != nil {
		return classify(err, "clear cart")
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE checkout_intents SET state = $2, updated_at = NOW()
		WHERE reference = $1 AND state = $3
	`, intent.Reference, domain.IntentStateConsumed, domain.IntentStateOpen)
	if err != nil {
		return classify(err, "consume intent")
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("consume intent: %w", ErrSettlementConflict)
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "commit settlement")
	}
	return nil
}

func (s *PostgresStore) RecordIncident(ctx context.Context, inc *domain.Incident) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_incidents (id, order_number, kind, user_id, transaction_id, amount, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_number, kind) DO NOTHING
	`, inc.ID, inc.OrderNumber, inc.Kind, inc.UserID, inc.TransactionID, inc.Amount, inc.Detail, inc.CreatedAt)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, includeResolved bool) ([]domain.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_number, kind, user_id, transaction_id, amount, detail, resolved, created_at, resolved_at
		FROM payment_incidents
		WHERE $1 OR NOT resolved
		ORDER BY created_at DESC
	`, includeResolved)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	incidents := []domain.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return incidents, nil
}

func (s *PostgresStore) ResolveIncident(ctx context.Context, id string, at time.Time) (*domain.Incident, error) {
	inc, err := scanIncident(s.db.QueryRowContext(ctx, `
		UPDATE payment_incidents
		SET resolved = TRUE, resolved_at = COALESCE(resolved_at, $2)
		WHERE id = $1
		RETURNING id, order_number, kind, user_id, transaction_id, amount, detail, resolved, created_at, resolved_at
	`, id, at))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &inc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(s rowScanner) (domain.Incident, error) {
	var (
		inc        domain.Incident
		resolvedAt sql.NullTime
	)
	err := s.Scan(&inc.ID, &inc.OrderNumber, &inc.Kind, &inc.UserID, &inc.TransactionID, &inc.Amount, &inc.Detail, &inc.Resolved, &inc.CreatedAt, &resolvedAt)
	if resolvedAt.Valid {
		inc.ResolvedAt = &resolvedAt.Time
	}
	return inc, err
}

// AbandonExpired marks open intents past their expiry as abandoned.
func (s *PostgresStore) AbandonExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE checkout_intents SET state = $1, updated_at = $2
		WHERE state = $3 AND expires_at <= $2
	`, domain.IntentStateAbandoned, now, domain.IntentStateOpen)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// PurgeTerminal deletes intents that left the open state before cutoff.
// Exhausted intents are kept for the incident trail.
func (s *PostgresStore) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM checkout_intents
		WHERE state = ANY($1) AND updated_at < $2
	`, pq.Array([]string{
		string(domain.IntentStateConsumed),
		string(domain.IntentStateFailed),
		string(domain.IntentStateAbandoned),
	}), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func isCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

func classify(err error, op string) error {
	if isCode(err, pqUniqueViolation) || isCode(err, pqSerializationFailure) {
		return fmt.Errorf("%s: %w: %v", op, ErrSettlementConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

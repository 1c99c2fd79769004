package cart

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
)

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// ListLines returns the user's cart lines joined with their variants, oldest
// first. When ids is non-empty only those lines are returned. Lines whose
// variant no longer exists come back with a nil Variant.
func (r *CartRepository) ListLines(ctx context.Context, userID string, ids []string) ([]domain.CartLine, error) {
	query := `
		SELECT c.id, c.user_id, c.product_id, c.variant_id, c.quantity, c.selected_attributes, c.created_at,
			v.id, v.product_id, v.product_name, v.title, v.selling_price, v.available_stock
		FROM cart_items c
		LEFT JOIN variants v ON v.id = c.variant_id
		WHERE c.user_id = $1`
	args := []any{userID}
	if len(ids) > 0 {
		query += ` AND c.id = ANY($2)`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY c.created_at, c.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	lines := []domain.CartLine{}
	for rows.Next() {
		var (
			line          domain.CartLine
			vID, vProduct sql.NullString
			vName, vTitle sql.NullString
			vPrice        sql.NullInt64
			vAvailable    sql.NullInt64
		)
		if err := rows.Scan(
			&line.ID, &line.UserID, &line.ProductID, &line.VariantID, &line.Quantity, &line.SelectedAttributes, &line.CreatedAt,
			&vID, &vProduct, &vName, &vTitle, &vPrice, &vAvailable,
		); err != nil {
			return nil, err
		}

		if vID.Valid {
			line.Variant = &domain.Variant{
				ID:             vID.String,
				ProductID:      vProduct.String,
				ProductName:    vName.String,
				Title:          vTitle.String,
				SellingPrice:   vPrice.Int64,
				AvailableStock: int(vAvailable.Int64),
			}
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

func (r *CartRepository) Add(ctx context.Context, line *domain.CartLine) error {
	line.ID = uuid.New().String()
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_items (id, user_id, product_id, variant_id, quantity, selected_attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, line.ID, line.UserID, line.ProductID, line.VariantID, line.Quantity, line.SelectedAttributes, line.CreatedAt)
	return err
}

// Remove deletes one of the user's lines and reports whether it existed.
func (r *CartRepository) Remove(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_items WHERE user_id = $1 AND id = $2
	`, userID, id)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// ClearTx removes the given lines of the user's cart inside tx.
func (r *CartRepository) ClearTx(ctx context.Context, tx *sql.Tx, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		DELETE FROM cart_items WHERE user_id = $1 AND id = ANY($2)
	`, userID, pq.Array(ids))
	return err
}

package inventory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type VariantRepository struct {
	db *sql.DB
}

func NewVariantRepository(db *sql.DB) *VariantRepository {
	return &VariantRepository{db: db}
}

const variantColumns = `id, product_id, product_name, title, selling_price, available_stock`

type scanner interface {
	Scan(dest ...any) error
}

func scanVariant(s scanner) (domain.Variant, error) {
	var v domain.Variant
	err := s.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.Title, &v.SellingPrice, &v.AvailableStock)
	return v, err
}

func (r *VariantRepository) ListAll(ctx context.Context) ([]domain.Variant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+variantColumns+`
		FROM variants
		ORDER BY product_name, title, id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	variants := []domain.Variant{}
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return variants, nil
}

func (r *VariantRepository) GetVariant(ctx context.Context, id string) (*domain.Variant, error) {
	v, err := scanVariant(r.db.QueryRowContext(ctx, `
		SELECT `+variantColumns+`
		FROM variants
		WHERE id = $1
	`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &v, nil
}

// GetVariants loads the given variants keyed by id. Unknown ids are absent
// from the result.
func (r *VariantRepository) GetVariants(ctx context.Context, ids []string) (map[string]domain.Variant, error) {
	out := make(map[string]domain.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+variantColumns+`
		FROM variants
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out[v.ID] = v
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// DecrementTx takes quantity units of a variant inside tx. The update only
// applies while enough stock remains at the instant of the write.
func (r *VariantRepository) DecrementTx(ctx context.Context, tx *sql.Tx, variantID string, quantity int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE variants
		SET available_stock = available_stock - $2, updated_at = NOW()
		WHERE id = $1 AND available_stock >= $2
	`, variantID, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrInsufficientStock
	}

	return nil
}

func (r *VariantRepository) Restock(ctx context.Context, variantID string, quantity int) (*domain.Variant, error) {
	v, err := scanVariant(r.db.QueryRowContext(ctx, `
		UPDATE variants
		SET available_stock = available_stock + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+variantColumns, variantID, quantity))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &v, nil
}

// Upsert creates or replaces a variant's catalog snapshot and stock level.
func (r *VariantRepository) Upsert(ctx context.Context, v domain.Variant) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO variants (id, product_id, product_name, title, selling_price, available_stock)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			product_name = EXCLUDED.product_name,
			title = EXCLUDED.title,
			selling_price = EXCLUDED.selling_price,
			available_stock = EXCLUDED.available_stock,
			updated_at = NOW()
	`, v.ID, v.ProductID, v.ProductName, v.Title, v.SellingPrice, v.AvailableStock)
	return err
}

package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const saleColumns = `id, outlet_id, total_amount, paid_amount, settled_at, created_at`

func scanSale(row interface{ Scan(...any) error }) (Sale, error) {
	var s Sale
	err := row.Scan(
		&s.ID, &s.OutletID, &s.TotalAmount, &s.PaidAmount, &s.SettledAt,
		&s.CreatedAt,
	)
	return s, err
}

func (q *Queries) CreateSale(ctx context.Context, outletID uuid.UUID) (Sale, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO sales (outlet_id)
		VALUES ($1) RETURNING `+saleColumns, outletID)
	return scanSale(row)
}

func (q *Queries) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	row := q.db.QueryRow(ctx, `SELECT `+saleColumns+`
		FROM sales WHERE id = $1`, id)
	return scanSale(row)
}

type AdjustSaleTotalParams struct {
	ID    uuid.UUID
	Delta pgtype.Numeric
}

// AdjustSaleTotal moves total_amount by delta (positive for added lines,
// negative for deletes/transfers out).
func (q *Queries) AdjustSaleTotal(ctx context.Context, arg AdjustSaleTotalParams) (Sale, error) {
	row := q.db.QueryRow(ctx, `UPDATE sales
		SET total_amount = total_amount + $2
		WHERE id = $1 RETURNING `+saleColumns, arg.ID, arg.Delta)
	return scanSale(row)
}

type AddSalePaymentParams struct {
	ID     uuid.UUID
	Amount pgtype.Numeric
}

func (q *Queries) AddSalePayment(ctx context.Context, arg AddSalePaymentParams) (Sale, error) {
	row := q.db.QueryRow(ctx, `UPDATE sales
		SET paid_amount = paid_amount + $2
		WHERE id = $1 RETURNING `+saleColumns, arg.ID, arg.Amount)
	return scanSale(row)
}

func (q *Queries) SettleSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	row := q.db.QueryRow(ctx, `UPDATE sales SET settled_at = now()
		WHERE id = $1 AND settled_at IS NULL
		RETURNING `+saleColumns, id)
	return scanSale(row)
}

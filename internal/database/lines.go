package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const lineColumns = `id, session_id, sale_id, product_id, description,
	quantity, unit_price, tax_amount, discount_amount, total, paid_at,
	split_id, created_at`

func scanLine(row interface{ Scan(...any) error }) (OrderLine, error) {
	var l OrderLine
	err := row.Scan(
		&l.ID, &l.SessionID, &l.SaleID, &l.ProductID, &l.Description,
		&l.Quantity, &l.UnitPrice, &l.TaxAmount, &l.DiscountAmount, &l.Total,
		&l.PaidAt, &l.SplitID, &l.CreatedAt,
	)
	return l, err
}

func collectLines(rows pgx.Rows) ([]OrderLine, error) {
	defer rows.Close()
	var lines []OrderLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type CreateLineParams struct {
	SessionID      uuid.UUID
	SaleID         uuid.UUID
	ProductID      uuid.UUID
	Description    string
	Quantity       int32
	UnitPrice      pgtype.Numeric
	TaxAmount      pgtype.Numeric
	DiscountAmount pgtype.Numeric
	Total          pgtype.Numeric
}

func (q *Queries) CreateLine(ctx context.Context, arg CreateLineParams) (OrderLine, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO order_lines
		(session_id, sale_id, product_id, description, quantity, unit_price,
		 tax_amount, discount_amount, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+lineColumns,
		arg.SessionID, arg.SaleID, arg.ProductID, arg.Description,
		arg.Quantity, arg.UnitPrice, arg.TaxAmount, arg.DiscountAmount,
		arg.Total)
	return scanLine(row)
}

func (q *Queries) GetLine(ctx context.Context, id uuid.UUID) (OrderLine, error) {
	row := q.db.QueryRow(ctx, `SELECT `+lineColumns+`
		FROM order_lines WHERE id = $1`, id)
	return scanLine(row)
}

// GetLineForUpdate locks the line row for the duration of the transaction.
func (q *Queries) GetLineForUpdate(ctx context.Context, id uuid.UUID) (OrderLine, error) {
	row := q.db.QueryRow(ctx, `SELECT `+lineColumns+`
		FROM order_lines WHERE id = $1 FOR NO KEY UPDATE`, id)
	return scanLine(row)
}

func (q *Queries) ListLinesBySession(ctx context.Context, sessionID uuid.UUID) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, `SELECT `+lineColumns+`
		FROM order_lines WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, err
	}
	return collectLines(rows)
}

func (q *Queries) ListUnpaidLinesBySession(ctx context.Context, sessionID uuid.UUID) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, `SELECT `+lineColumns+`
		FROM order_lines
		WHERE session_id = $1 AND paid_at IS NULL
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	return collectLines(rows)
}

type UpdateLineQuantityParams struct {
	ID       uuid.UUID
	Quantity int32
	Total    pgtype.Numeric
}

// UpdateLineQuantity refuses paid lines at the SQL level as well; the
// service checks first and maps no-rows to an invalid-state error.
func (q *Queries) UpdateLineQuantity(ctx context.Context, arg UpdateLineQuantityParams) (OrderLine, error) {
	row := q.db.QueryRow(ctx, `UPDATE order_lines
		SET quantity = $2, total = $3
		WHERE id = $1 AND paid_at IS NULL
		RETURNING `+lineColumns, arg.ID, arg.Quantity, arg.Total)
	return scanLine(row)
}

type UpdateLineSessionParams struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	SaleID    uuid.UUID
}

// UpdateLineSession moves a whole line into another session (transfer/merge).
func (q *Queries) UpdateLineSession(ctx context.Context, arg UpdateLineSessionParams) (OrderLine, error) {
	row := q.db.QueryRow(ctx, `UPDATE order_lines
		SET session_id = $2, sale_id = $3, split_id = NULL
		WHERE id = $1 AND paid_at IS NULL
		RETURNING `+lineColumns, arg.ID, arg.SessionID, arg.SaleID)
	return scanLine(row)
}

func (q *Queries) DeleteLine(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM order_lines
		WHERE id = $1 AND paid_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type MarkLinesPaidParams struct {
	IDs     []uuid.UUID
	SplitID pgtype.UUID
}

// MarkLinesPaid stamps paid_at and the owning split on the given lines.
func (q *Queries) MarkLinesPaid(ctx context.Context, arg MarkLinesPaidParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE order_lines
		SET paid_at = now(), split_id = $2
		WHERE id = ANY($1) AND paid_at IS NULL`, arg.IDs, arg.SplitID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ClearLineSplits detaches all unpaid lines of a session from their splits.
// Used when a split batch is replaced or cancelled.
func (q *Queries) ClearLineSplits(ctx context.Context, sessionID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE order_lines SET split_id = NULL
		WHERE session_id = $1 AND paid_at IS NULL`, sessionID)
	return err
}

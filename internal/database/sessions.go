package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const sessionColumns = `id, outlet_id, table_id, status, customers, sale_id,
	customer_id, folio_id, reservation_id, opened_by, opened_at, closed_at`

func scanSession(row interface{ Scan(...any) error }) (TableSession, error) {
	var s TableSession
	err := row.Scan(
		&s.ID, &s.OutletID, &s.TableID, &s.Status, &s.Customers, &s.SaleID,
		&s.CustomerID, &s.FolioID, &s.ReservationID, &s.OpenedBy, &s.OpenedAt,
		&s.ClosedAt,
	)
	return s, err
}

type GetSessionByTableParams struct {
	OutletID uuid.UUID
	TableID  uuid.UUID
}

// GetSessionByTable returns the open (non-CLOSED) session for a table.
func (q *Queries) GetSessionByTable(ctx context.Context, arg GetSessionByTableParams) (TableSession, error) {
	row := q.db.QueryRow(ctx, `SELECT `+sessionColumns+`
		FROM table_sessions
		WHERE outlet_id = $1 AND table_id = $2 AND status != 'CLOSED'`,
		arg.OutletID, arg.TableID)
	return scanSession(row)
}

func (q *Queries) GetSession(ctx context.Context, id uuid.UUID) (TableSession, error) {
	row := q.db.QueryRow(ctx, `SELECT `+sessionColumns+`
		FROM table_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetSessionForUpdate locks the session row (FOR NO KEY UPDATE) to serialize
// concurrent mutations of the same session inside a transaction.
func (q *Queries) GetSessionForUpdate(ctx context.Context, id uuid.UUID) (TableSession, error) {
	row := q.db.QueryRow(ctx, `SELECT `+sessionColumns+`
		FROM table_sessions WHERE id = $1 FOR NO KEY UPDATE`, id)
	return scanSession(row)
}

type CreateSessionParams struct {
	OutletID  uuid.UUID
	TableID   uuid.UUID
	Customers int32
	SaleID    uuid.UUID
	OpenedBy  uuid.UUID
}

// CreateSession inserts an ACTIVE session. The partial unique index on
// (outlet_id, table_id) WHERE status != 'CLOSED' makes create-if-absent
// atomic; a losing racer gets a 23505.
func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (TableSession, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO table_sessions
		(outlet_id, table_id, status, customers, sale_id, opened_by)
		VALUES ($1, $2, 'ACTIVE', $3, $4, $5)
		RETURNING `+sessionColumns,
		arg.OutletID, arg.TableID, arg.Customers, arg.SaleID, arg.OpenedBy)
	return scanSession(row)
}

type UpdateSessionStatusParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) UpdateSessionStatus(ctx context.Context, arg UpdateSessionStatusParams) (TableSession, error) {
	row := q.db.QueryRow(ctx, `UPDATE table_sessions SET status = $2
		WHERE id = $1 RETURNING `+sessionColumns, arg.ID, arg.Status)
	return scanSession(row)
}

func (q *Queries) CloseSession(ctx context.Context, id uuid.UUID) (TableSession, error) {
	row := q.db.QueryRow(ctx, `UPDATE table_sessions
		SET status = 'CLOSED', closed_at = now()
		WHERE id = $1 AND status != 'CLOSED'
		RETURNING `+sessionColumns, id)
	return scanSession(row)
}

type AssignSessionCustomerParams struct {
	ID         uuid.UUID
	CustomerID pgtype.UUID
	Customers  int32
}

func (q *Queries) AssignSessionCustomer(ctx context.Context, arg AssignSessionCustomerParams) (TableSession, error) {
	row := q.db.QueryRow(ctx, `UPDATE table_sessions
		SET customer_id = $2, customers = GREATEST(customers, $3)
		WHERE id = $1 RETURNING `+sessionColumns,
		arg.ID, arg.CustomerID, arg.Customers)
	return scanSession(row)
}

type LinkSessionFolioParams struct {
	ID            uuid.UUID
	FolioID       pgtype.Text
	CustomerID    pgtype.UUID
	ReservationID pgtype.Text
}

func (q *Queries) LinkSessionFolio(ctx context.Context, arg LinkSessionFolioParams) (TableSession, error) {
	row := q.db.QueryRow(ctx, `UPDATE table_sessions
		SET folio_id = $2, customer_id = COALESCE($3, customer_id),
			reservation_id = $4
		WHERE id = $1 RETURNING `+sessionColumns,
		arg.ID, arg.FolioID, arg.CustomerID, arg.ReservationID)
	return scanSession(row)
}

package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const splitColumns = `id, session_id, name, batch, seq, kind, total, paid_at, created_at`

func scanSplit(row interface{ Scan(...any) error }) (BillSplit, error) {
	var s BillSplit
	err := row.Scan(
		&s.ID, &s.SessionID, &s.Name, &s.Batch, &s.Seq, &s.Kind, &s.Total,
		&s.PaidAt, &s.CreatedAt,
	)
	return s, err
}

type CreateSplitParams struct {
	SessionID uuid.UUID
	Name      string
	Batch     int32
	Seq       int32
	Kind      string
	Total     pgtype.Numeric
}

func (q *Queries) CreateSplit(ctx context.Context, arg CreateSplitParams) (BillSplit, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO bill_splits
		(session_id, name, batch, seq, kind, total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+splitColumns,
		arg.SessionID, arg.Name, arg.Batch, arg.Seq, arg.Kind, arg.Total)
	return scanSplit(row)
}

type CreateSplitAssignmentParams struct {
	SplitID  uuid.UUID
	LineID   uuid.UUID
	Quantity int32
}

func (q *Queries) CreateSplitAssignment(ctx context.Context, arg CreateSplitAssignmentParams) error {
	_, err := q.db.Exec(ctx, `INSERT INTO split_assignments
		(split_id, line_id, quantity) VALUES ($1, $2, $3)`,
		arg.SplitID, arg.LineID, arg.Quantity)
	return err
}

func (q *Queries) GetSplit(ctx context.Context, id uuid.UUID) (BillSplit, error) {
	row := q.db.QueryRow(ctx, `SELECT `+splitColumns+`
		FROM bill_splits WHERE id = $1`, id)
	return scanSplit(row)
}

func (q *Queries) GetSplitForUpdate(ctx context.Context, id uuid.UUID) (BillSplit, error) {
	row := q.db.QueryRow(ctx, `SELECT `+splitColumns+`
		FROM bill_splits WHERE id = $1 FOR NO KEY UPDATE`, id)
	return scanSplit(row)
}

// CurrentSplitBatch returns the highest batch number for a session, 0 when
// the session has never been split.
func (q *Queries) CurrentSplitBatch(ctx context.Context, sessionID uuid.UUID) (int32, error) {
	var batch int32
	err := q.db.QueryRow(ctx, `SELECT COALESCE(MAX(batch), 0)
		FROM bill_splits WHERE session_id = $1`, sessionID).Scan(&batch)
	return batch, err
}

// ListCurrentSplits returns the splits of the session's live (highest) batch
// in sequence order.
func (q *Queries) ListCurrentSplits(ctx context.Context, sessionID uuid.UUID) ([]BillSplit, error) {
	rows, err := q.db.Query(ctx, `SELECT `+splitColumns+`
		FROM bill_splits
		WHERE session_id = $1
		  AND batch = (SELECT COALESCE(MAX(batch), 0)
		               FROM bill_splits WHERE session_id = $1)
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var splits []BillSplit
	for rows.Next() {
		s, err := scanSplit(rows)
		if err != nil {
			return nil, err
		}
		splits = append(splits, s)
	}
	return splits, rows.Err()
}

func (q *Queries) ListAssignmentsBySplit(ctx context.Context, splitID uuid.UUID) ([]SplitAssignment, error) {
	rows, err := q.db.Query(ctx, `SELECT split_id, line_id, quantity
		FROM split_assignments WHERE split_id = $1 ORDER BY line_id`, splitID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

// ListCurrentAssignments returns the assignments of the live batch.
func (q *Queries) ListCurrentAssignments(ctx context.Context, sessionID uuid.UUID) ([]SplitAssignment, error) {
	rows, err := q.db.Query(ctx, `SELECT sa.split_id, sa.line_id, sa.quantity
		FROM split_assignments sa
		JOIN bill_splits bs ON bs.id = sa.split_id
		WHERE bs.session_id = $1
		  AND bs.batch = (SELECT COALESCE(MAX(batch), 0)
		                  FROM bill_splits WHERE session_id = $1)
		ORDER BY bs.seq, sa.line_id`, sessionID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

func collectAssignments(rows interface {
	Next() bool
	Scan(...any) error
	Close()
	Err() error
},
) ([]SplitAssignment, error) {
	defer rows.Close()
	var assignments []SplitAssignment
	for rows.Next() {
		var a SplitAssignment
		if err := rows.Scan(&a.SplitID, &a.LineID, &a.Quantity); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (q *Queries) MarkSplitPaid(ctx context.Context, id uuid.UUID) (BillSplit, error) {
	row := q.db.QueryRow(ctx, `UPDATE bill_splits SET paid_at = now()
		WHERE id = $1 AND paid_at IS NULL
		RETURNING `+splitColumns, id)
	return scanSplit(row)
}

// DeleteUnpaidSplits removes every unpaid split of the session, across all
// batches. Paid splits stay as history. Assignments cascade.
func (q *Queries) DeleteUnpaidSplits(ctx context.Context, sessionID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM bill_splits
		WHERE session_id = $1 AND paid_at IS NULL`, sessionID)
	return err
}

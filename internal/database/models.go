package database

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// TableSession is one continuous occupation of a table. A row exists only
// while the table is occupied; at most one non-CLOSED row per table.
type TableSession struct {
	ID            uuid.UUID
	OutletID      uuid.UUID
	TableID       uuid.UUID
	Status        string
	Customers     int32
	SaleID        uuid.UUID
	CustomerID    pgtype.UUID
	FolioID       pgtype.Text
	ReservationID pgtype.Text
	OpenedBy      uuid.UUID
	OpenedAt      pgtype.Timestamptz
	ClosedAt      pgtype.Timestamptz
}

// OrderLine is a single line item of a session's order. Once PaidAt is set
// the line is immutable.
type OrderLine struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	SaleID         uuid.UUID
	ProductID      uuid.UUID
	Description    string
	Quantity       int32
	UnitPrice      pgtype.Numeric
	TaxAmount      pgtype.Numeric
	DiscountAmount pgtype.Numeric
	Total          pgtype.Numeric
	PaidAt         pgtype.Timestamptz
	SplitID        pgtype.UUID
	CreatedAt      pgtype.Timestamptz
}

// BillSplit is one named portion of a split bill. Kind EQUAL splits carry no
// assignments; their total is synthetic. Batch increments on every re-split;
// only the highest batch is live, paid splits of older batches are history.
type BillSplit struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Name      string
	Batch     int32
	Seq       int32
	Kind      string
	Total     pgtype.Numeric
	PaidAt    pgtype.Timestamptz
	CreatedAt pgtype.Timestamptz
}

// SplitAssignment maps (part of) an order line into a split.
type SplitAssignment struct {
	SplitID  uuid.UUID
	LineID   uuid.UUID
	Quantity int32
}

// Sale is the financial record a session settles into.
type Sale struct {
	ID          uuid.UUID
	OutletID    uuid.UUID
	TotalAmount pgtype.Numeric
	PaidAmount  pgtype.Numeric
	SettledAt   pgtype.Timestamptz
	CreatedAt   pgtype.Timestamptz
}

type User struct {
	ID             uuid.UUID
	OutletID       uuid.UUID
	FullName       string
	Email          string
	HashedPassword string
	Role           string
	CreatedAt      pgtype.Timestamptz
}

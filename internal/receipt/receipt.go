// Package receipt renders and dispatches customer receipts. Printing is a
// downstream convenience: callers log failures and never let them fail the
// payment that triggered the print.
package receipt

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item is one printed receipt line.
type Item struct {
	Description string
	Quantity    int32
	Total       decimal.Decimal
}

// Payload is everything a sink needs to print one receipt. SplitName is
// empty for a whole-order receipt; an equal-division split carries a single
// synthetic Item ("1/N of table total") instead of order lines.
type Payload struct {
	OutletID     uuid.UUID
	TableID      uuid.UUID
	SessionID    uuid.UUID
	SplitName    string
	Items        []Item
	Total        decimal.Decimal
	Method       string
	CustomerName string
	Header       string
	Footer       string
	PaidAt       time.Time
}

// Sink prints a receipt somewhere.
type Sink interface {
	Print(ctx context.Context, p Payload) error
}

package service

import "errors"

// Error kinds. Every error returned by the engine wraps exactly one of these
// four roots so callers can branch with errors.Is without knowing the
// specific failure.
var (
	// ErrValidation: malformed input. No state change occurred.
	ErrValidation = errors.New("validation error")
	// ErrInvalidState: operation not legal in the current session state.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict: a concurrent create/transfer race was lost; re-fetch and retry.
	ErrConflict = errors.New("conflict")
	// ErrStaleSplit: the split batch no longer covers the unpaid item set.
	// Recoverable only by re-splitting; prior split/paid state is untouched.
	ErrStaleSplit = errors.New("stale split")
)

// Specific errors, each wrapping its kind.
var (
	ErrEmptyItems         = wrap(ErrValidation, "items are required")
	ErrInvalidQuantity    = wrap(ErrValidation, "quantity must be > 0")
	ErrInvalidPartySize   = wrap(ErrValidation, "customers must be >= 1")
	ErrQuantityExceeds    = wrap(ErrValidation, "quantity exceeds line quantity")
	ErrLineNotInUnpaidSet = wrap(ErrValidation, "line is not in the unpaid set")
	ErrEmptySplitBatch    = wrap(ErrValidation, "split batch is empty")
	ErrSameSession        = wrap(ErrValidation, "source and target session are the same")

	ErrLinePaid           = wrap(ErrInvalidState, "line is already paid")
	ErrNoUnpaidLines      = wrap(ErrInvalidState, "session has no unpaid lines")
	ErrUnpaidLinesLeft    = wrap(ErrInvalidState, "unpaid lines remain")
	ErrSessionClosed      = wrap(ErrInvalidState, "session is closed")
	ErrSplitPaid          = wrap(ErrInvalidState, "split is already paid")
	ErrNotPartiallyPaid   = wrap(ErrInvalidState, "no split has been paid yet")
	ErrForceCloseRequired = wrap(ErrInvalidState, "unpaid splits remain; force close required")

	ErrSessionExists = wrap(ErrConflict, "an open session for the table already exists")

	ErrUnassignedItems = wrap(ErrStaleSplit, "order has items not covered by the split")
	ErrSplitOutdated   = wrap(ErrStaleSplit, "order changed since the split was confirmed")
)

func wrap(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

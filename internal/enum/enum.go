package enum

const (
	SessionStatusActive        = "ACTIVE"
	SessionStatusBillRequested = "BILL_REQUESTED"
	SessionStatusClosed        = "CLOSED"
)

// Coordinator states derived from the split rows of a session.
const (
	SplitStateNone          = "NO_SPLIT"
	SplitStatePending       = "SPLIT_PENDING"
	SplitStatePartiallyPaid = "PARTIALLY_PAID"
	SplitStateFullyPaid     = "FULLY_PAID"
	SplitStateReleased      = "RELEASED"
)

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleCashier = "CASHIER"
	UserRoleWaiter  = "WAITER"
)

const (
	SplitKindItems = "ITEMS"
	SplitKindEqual = "EQUAL"
)

const (
	PaymentMethodCash     = "CASH"
	PaymentMethodCard     = "CARD"
	PaymentMethodQRIS     = "QRIS"
	PaymentMethodTransfer = "TRANSFER"
)

// FolioSourcePOS tags guest-folio lines pushed by this engine so a resync
// can replace exactly the lines it owns and nothing else.
const FolioSourcePOS = "pos"

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SessionStore defines the DB methods needed by the session manager.
// Satisfied by *database.Queries (and its WithTx variant).
type SessionStore interface {
	GetSessionByTable(ctx context.Context, arg database.GetSessionByTableParams) (database.TableSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (database.TableSession, error)
	GetSessionForUpdate(ctx context.Context, id uuid.UUID) (database.TableSession, error)
	CreateSession(ctx context.Context, arg database.CreateSessionParams) (database.TableSession, error)
	UpdateSessionStatus(ctx context.Context, arg database.UpdateSessionStatusParams) (database.TableSession, error)
	CloseSession(ctx context.Context, id uuid.UUID) (database.TableSession, error)
	AssignSessionCustomer(ctx context.Context, arg database.AssignSessionCustomerParams) (database.TableSession, error)
	LinkSessionFolio(ctx context.Context, arg database.LinkSessionFolioParams) (database.TableSession, error)

	CreateSale(ctx context.Context, outletID uuid.UUID) (database.Sale, error)
	AdjustSaleTotal(ctx context.Context, arg database.AdjustSaleTotalParams) (database.Sale, error)
	SettleSale(ctx context.Context, id uuid.UUID) (database.Sale, error)

	CreateLine(ctx context.Context, arg database.CreateLineParams) (database.OrderLine, error)
	GetLine(ctx context.Context, id uuid.UUID) (database.OrderLine, error)
	GetLineForUpdate(ctx context.Context, id uuid.UUID) (database.OrderLine, error)
	ListLinesBySession(ctx context.Context, sessionID uuid.UUID) ([]database.OrderLine, error)
	ListUnpaidLinesBySession(ctx context.Context, sessionID uuid.UUID) ([]database.OrderLine, error)
	UpdateLineQuantity(ctx context.Context, arg database.UpdateLineQuantityParams) (database.OrderLine, error)
	UpdateLineSession(ctx context.Context, arg database.UpdateLineSessionParams) (database.OrderLine, error)
	DeleteLine(ctx context.Context, id uuid.UUID) error
	ClearLineSplits(ctx context.Context, sessionID uuid.UUID) error

	ListCurrentSplits(ctx context.Context, sessionID uuid.UUID) ([]database.BillSplit, error)
	DeleteUnpaidSplits(ctx context.Context, sessionID uuid.UUID) error
}

// NewSessionStore creates a SessionStore from a DBTX (pool or tx).
type NewSessionStore func(db database.DBTX) SessionStore

// FolioSync mirrors the unpaid item set of folio-linked sessions into the
// guest-folio ledger. Both methods are fire-and-forget: implementations must
// never block the caller on ledger I/O and must swallow (log) failures.
type FolioSync interface {
	AppendLines(session database.TableSession, lines []database.OrderLine)
	ScheduleResync(sessionID uuid.UUID)
}

// SessionManager is the single authoritative owner of a table's order
// lifecycle. All mutations of one session are serialized through a per-table
// lock; the database's partial unique index and row locks back that up
// across processes.
type SessionManager struct {
	store    SessionStore
	pool     TxBeginner
	newStore NewSessionStore
	locks    *tableLocks
	folio    FolioSync
}

// NewSessionManager creates a SessionManager. folio may be nil when no
// property-management integration is configured.
func NewSessionManager(store SessionStore, pool TxBeginner, newStore NewSessionStore, folio FolioSync) *SessionManager {
	return &SessionManager{
		store:    store,
		pool:     pool,
		newStore: newStore,
		locks:    newTableLocks(),
		folio:    folio,
	}
}

// EnsureSessionRequest identifies the table and the opener. Customers
// defaults to 1 when zero.
type EnsureSessionRequest struct {
	OutletID  uuid.UUID
	TableID   uuid.UUID
	OpenedBy  uuid.UUID
	Customers int32
}

// EnsureSession returns the open session for the table, creating one (with
// its sale) if the table is free. Creation only ever happens from
// state-changing commands; read paths use GetTableState instead. A lost
// create race returns ErrSessionExists and the caller retries the fetch.
func (m *SessionManager) EnsureSession(ctx context.Context, req EnsureSessionRequest) (database.TableSession, error) {
	if req.Customers < 0 {
		return database.TableSession{}, ErrInvalidPartySize
	}
	if req.Customers == 0 {
		req.Customers = 1
	}

	unlock := m.locks.lock(req.TableID)
	defer unlock()

	return m.ensureSessionLocked(ctx, req)
}

// ensureSessionLocked is EnsureSession minus locking, for callers that
// already hold the table lock (transfer, merge).
func (m *SessionManager) ensureSessionLocked(ctx context.Context, req EnsureSessionRequest) (database.TableSession, error) {
	session, err := m.store.GetSessionByTable(ctx, database.GetSessionByTableParams{
		OutletID: req.OutletID,
		TableID:  req.TableID,
	})
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return database.TableSession{}, fmt.Errorf("get session by table: %w", err)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return database.TableSession{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := m.newStore(tx)
	sale, err := store.CreateSale(ctx, req.OutletID)
	if err != nil {
		return database.TableSession{}, fmt.Errorf("create sale: %w", err)
	}
	session, err = store.CreateSession(ctx, database.CreateSessionParams{
		OutletID:  req.OutletID,
		TableID:   req.TableID,
		Customers: req.Customers,
		SaleID:    sale.ID,
		OpenedBy:  req.OpenedBy,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return database.TableSession{}, ErrSessionExists
		}
		return database.TableSession{}, fmt.Errorf("create session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return database.TableSession{}, fmt.Errorf("commit tx: %w", err)
	}
	return session, nil
}

// NewItem is one product to add to a session's order.
type NewItem struct {
	ProductID      uuid.UUID
	Description    string
	Quantity       int32
	UnitPrice      decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
}

func (i NewItem) total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt32(i.Quantity)).
		Sub(i.DiscountAmount).Add(i.TaxAmount)
}

// AddItems appends order lines to the session. When the session is linked to
// a guest folio, the new lines are also pushed into the folio ledger; a
// ledger failure is logged by the syncer and never fails the add.
func (m *SessionManager) AddItems(ctx context.Context, sessionID uuid.UUID, items []NewItem) ([]database.OrderLine, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}
	}

	session, err := m.fetchSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.lock(session.TableID)
	defer unlock()

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := m.newStore(tx)

	session, err = store.GetSessionForUpdate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	if session.Status == enum.SessionStatusClosed {
		return nil, ErrSessionClosed
	}

	var lines []database.OrderLine
	added := decimal.Zero
	for _, item := range items {
		line, err := store.CreateLine(ctx, database.CreateLineParams{
			SessionID:      session.ID,
			SaleID:         session.SaleID,
			ProductID:      item.ProductID,
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitPrice:      decimalToNumeric(item.UnitPrice),
			TaxAmount:      decimalToNumeric(item.TaxAmount),
			DiscountAmount: decimalToNumeric(item.DiscountAmount),
			Total:          decimalToNumeric(item.total()),
		})
		if err != nil {
			return nil, fmt.Errorf("create line: %w", err)
		}
		lines = append(lines, line)
		added = added.Add(item.total())
	}
	if _, err := store.AdjustSaleTotal(ctx, database.AdjustSaleTotalParams{
		ID:    session.SaleID,
		Delta: decimalToNumeric(added),
	}); err != nil {
		return nil, fmt.Errorf("adjust sale total: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	if m.folio != nil && session.FolioID.Valid {
		m.folio.AppendLines(session, lines)
	}
	return lines, nil
}

// UpdateQuantity changes an unpaid line's quantity. Use DeleteItem to remove
// a line; zero and negative quantities are rejected.
func (m *SessionManager) UpdateQuantity(ctx context.Context, lineID uuid.UUID, quantity int32) (database.OrderLine, error) {
	if quantity <= 0 {
		return database.OrderLine{}, ErrInvalidQuantity
	}

	_, session, err := m.fetchLineSession(ctx, lineID)
	if err != nil {
		return database.OrderLine{}, err
	}
	unlock := m.locks.lock(session.TableID)
	defer unlock()

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return database.OrderLine{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := m.newStore(tx)

	line, err := store.GetLineForUpdate(ctx, lineID)
	if err != nil {
		return database.OrderLine{}, fmt.Errorf("lock line: %w", err)
	}
	if line.PaidAt.Valid {
		return database.OrderLine{}, ErrLinePaid
	}

	oldTotal := numericToDecimal(line.Total)
	newTotal := numericToDecimal(line.UnitPrice).
		Mul(decimal.NewFromInt32(quantity)).
		Sub(numericToDecimal(line.DiscountAmount)).
		Add(numericToDecimal(line.TaxAmount))

	updated, err := store.UpdateLineQuantity(ctx, database.UpdateLineQuantityParams{
		ID:       lineID,
		Quantity: quantity,
		Total:    decimalToNumeric(newTotal),
	})
	if err != nil {
		return database.OrderLine{}, fmt.Errorf("update line: %w", err)
	}
	if _, err := store.AdjustSaleTotal(ctx, database.AdjustSaleTotalParams{
		ID:    line.SaleID,
		Delta: decimalToNumeric(newTotal.Sub(oldTotal)),
	}); err != nil {
		return database.OrderLine{}, fmt.Errorf("adjust sale total: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return database.OrderLine{}, fmt.Errorf("commit tx: %w", err)
	}

	m.scheduleResync(session)
	return updated, nil
}

// DeleteItem removes an unpaid line from the order.
func (m *SessionManager) DeleteItem(ctx context.Context, lineID uuid.UUID) error {
	_, session, err := m.fetchLineSession(ctx, lineID)
	if err != nil {
		return err
	}
	unlock := m.locks.lock(session.TableID)
	defer unlock()

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := m.newStore(tx)

	line, err := store.GetLineForUpdate(ctx, lineID)
	if err != nil {
		return fmt.Errorf("lock line: %w", err)
	}
	if line.PaidAt.Valid {
		return ErrLinePaid
	}

	if err := store.DeleteLine(ctx, lineID); err != nil {
		return fmt.Errorf("delete line: %w", err)
	}
	if _, err := store.AdjustSaleTotal(ctx, database.AdjustSaleTotalParams{
		ID:    line.SaleID,
		Delta: decimalToNumeric(numericToDecimal(line.Total).Neg()),
	}); err != nil {
		return fmt.Errorf("adjust sale total: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	m.scheduleResync(session)
	return nil
}

// TransferItem moves quantity units of a line to the session of another
// table, creating that session if the table is free. Moving the full
// quantity re-homes the line; a partial move shrinks the source line and
// creates a new line on the target, conserving the line's total value.
func (m *SessionManager) TransferItem(ctx context.Context, lineID uuid.UUID, targetTableID uuid.UUID, quantity int32) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	_, source, err := m.fetchLineSession(ctx, lineID)
	if err != nil {
		return err
	}
	if source.TableID == targetTableID {
		return ErrSameSession
	}

	// Both tables locked in global order to dodge opposite-direction
	// transfer deadlocks.
	unlock := m.locks.lockAll(source.TableID, targetTableID)
	defer unlock()

	target, err := m.ensureSessionLocked(ctx, EnsureSessionRequest{
		OutletID:  source.OutletID,
		TableID:   targetTableID,
		OpenedBy:  source.OpenedBy,
		Customers: 1,
	})
	if err != nil {
		return err
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := m.newStore(tx)

	line, err := store.GetLineForUpdate(ctx, lineID)
	if err != nil {
		return fmt.Errorf("lock line: %w", err)
	}
	if line.PaidAt.Valid {
		return ErrLinePaid
	}
	if quantity > line.Quantity {
		return ErrQuantityExceeds
	}

	lineTotal := numericToDecimal(line.Total)
	var movedValue decimal.Decimal

	if quantity == line.Quantity {
		movedValue = lineTotal
		if _, err := store.UpdateLineSession(ctx, database.UpdateLineSessionParams{
			ID:        lineID,
			SessionID: target.ID,
			SaleID:    target.SaleID,
		}); err != nil {
			return fmt.Errorf("move line: %w", err)
		}
	} else {
		keptQty := line.Quantity - quantity
		keptValue := lineTotal.
			Mul(decimal.NewFromInt32(keptQty)).
			Div(decimal.NewFromInt32(line.Quantity)).
			Round(2)
		movedValue = lineTotal.Sub(keptValue)

		if _, err := store.UpdateLineQuantity(ctx, database.UpdateLineQuantityParams{
			ID:       lineID,
			Quantity: keptQty,
			Total:    decimalToNumeric(keptValue),
		}); err != nil {
			return fmt.Errorf("shrink line: %w", err)
		}
		if _, err := store.CreateLine(ctx, database.CreateLineParams{
			SessionID:      target.ID,
			SaleID:         target.SaleID,
			ProductID:      line.ProductID,
			Description:    line.Description,
			Quantity:       quantity,
			UnitPrice:      line.UnitPrice,
			TaxAmount:      decimalToNumeric(decimal.Zero),
			DiscountAmount: decimalToNumeric(decimal.Zero),
			Total:          decimalToNumeric(movedValue),
		}); err != nil {
			return fmt.Errorf("create target line: %w", err)
		}
	}

	if _, err := store.AdjustSaleTotal(ctx, database.AdjustSaleTotalParams{
		ID:    source.SaleID,
		Delta: decimalToNumeric(movedValue.Neg()),
	}); err != nil {
		return fmt.Errorf("adjust source sale: %w", err)
	}
	if _, err := store.AdjustSaleTotal(ctx, database.AdjustSaleTotalParams{
		ID:    target.SaleID,
		Delta: decimalToNumeric(movedValue),
	}); err != nil {
		return fmt.Errorf("adjust target sale: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	m.scheduleResync(source)
	m.scheduleResync(target)
	return nil
}

// RequestBill moves the session to BILL_REQUESTED.
func (m *SessionManager) RequestBill(ctx context.Context, sessionID uuid.UUID) (database.TableSession, error) {
	session, err := m.fetchSession(ctx, sessionID)
	if err != nil {
		return database.TableSession{}, err
	}
	unlock := m.locks.lock(session.TableID)
	defer unlock()

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return database.TableSession{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := m.newStore(tx)

	session, err = store.GetSessionForUpdate(ctx, sessionID)
	if err != nil {
		return database.TableSession{}, fmt.Errorf("lock session: %w", err)
	}
	if session.Status == enum.SessionStatusClosed {
		return database.TableSession{}, ErrSessionClosed
	}
	unpaid, err := store.ListUnpaidLinesBySession(ctx, sessionID)
	if err != nil {
		return database.TableSession{}, fmt.Errorf("list unpaid lines: %w", err)
	}
	if len(unpaid) == 0 {
		return database.TableSession{}, ErrNoUnpaidLines
	}

	session, err = store.UpdateSessionStatus(ctx, database.UpdateSessionStatusParams{
		ID:     sessionID,
		Status: enum.SessionStatusBillRequested,
	})
	if err != nil {
		return database.TableSession{}, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return database.TableSession{}, fmt.Errorf("commit tx: %w", err)
	}
	return session, nil
}

// MergeSessions moves all unpaid lines of each listed table's session into
// the primary table's session and closes the drained sessions. Each merged
// table is its own transaction: either all of its lines move or none do.
func (m *SessionManager) MergeSessions(ctx context.Context, outletID uuid.UUID, primaryTableID uuid.UUID, mergeTableIDs []uuid.UUID, mergedBy uuid.UUID) (database.TableSession, error) {
	if len(mergeTableIDs) == 0 {
		return database.TableSession{}, wrap(ErrValidation, "no tables to merge")
	}
	for _, id := range mergeTableIDs {
		if id == primaryTableID {
			return database.TableSession{}, ErrSameSession
		}
	}

	all := append([]uuid.UUID{primaryTableID}, mergeTableIDs...)
	unlock := m.locks.lockAll(all...)
	defer unlock()

	primary, err := m.ensureSessionLocked(ctx, EnsureSessionRequest{
		OutletID:  outletID,
		TableID:   primaryTableID,
		OpenedBy:  mergedBy,
		Customers: 1,
	})
	if err != nil {
		return database.TableSession{}, err
	}

	for _, tableID := range mergeTableIDs {
		if err := m.mergeOneTable(ctx, outletID, tableID, primary); err != nil {
			return database.TableSession{}, fmt.Errorf("merge table %s: %w", tableID, err)
		}
	}

	m.scheduleResync(primary)
	return primary, nil
}

func (m *SessionManager) mergeOneTable(ctx context.Context, outletID, tableID uuid.UUID, primary database.TableSession) error {
	session, err := m.store.GetSessionByTable(ctx, database.GetSessionByTableParams{
		OutletID: outletID,
		TableID:  tableID,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil // empty table, nothing to merge
	}
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := m.newStore(tx)

	if _, err := store.GetSessionForUpdate(ctx, session.ID); err != nil {
		return fmt.Errorf("lock session: %w", err)
	}

	unpaid, err := store.ListUnpaidLinesBySession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("list unpaid lines: %w", err)
	}

	moved := decimal.Zero
	for _, line := range unpaid {
		if _, err := store.UpdateLineSession(ctx, database.UpdateLineSessionParams{
			ID:        line.ID,
			SessionID: primary.ID,
			SaleID:    primary.SaleID,
		}); err != nil {
			return fmt.Errorf("move line %s: %w", line.ID, err)
		}
		moved = moved.Add(numericToDecimal(line.Total))
	}

	// A pending split over lines that just moved is meaningless.
	if err := store.DeleteUnpaidSplits(ctx, session.ID); err != nil {
		return fmt.Errorf("drop splits: %w", err)
	}

	if !moved.IsZero() {
		if _, err := store.AdjustSaleTotal(ctx, database.AdjustSaleTotalParams{
			ID:    session.SaleID,
			Delta: decimalToNumeric(moved.Neg()),
		}); err != nil {
			return fmt.Errorf("adjust merged sale: %w", err)
		}
		if _, err := store.AdjustSaleTotal(ctx, database.AdjustSaleTotalParams{
			ID:    primary.SaleID,
			Delta: decimalToNumeric(moved),
		}); err != nil {
			return fmt.Errorf("adjust primary sale: %w", err)
		}
	}

	if _, err := store.CloseSession(ctx, session.ID); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	m.scheduleResync(session)
	return nil
}

// Release closes the table's session. Without force it refuses while unpaid
// lines remain; with force (an operator override decided at the coordinator
// level) it closes anyway, leaving the unpaid lines untouched.
func (m *SessionManager) Release(ctx context.Context, outletID, tableID uuid.UUID, force bool) error {
	unlock := m.locks.lock(tableID)
	defer unlock()
	return m.releaseLocked(ctx, outletID, tableID, force)
}

func (m *SessionManager) releaseLocked(ctx context.Context, outletID, tableID uuid.UUID, force bool) error {
	session, err := m.store.GetSessionByTable(ctx, database.GetSessionByTableParams{
		OutletID: outletID,
		TableID:  tableID,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionClosed
	}
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := m.newStore(tx)

	if _, err := store.GetSessionForUpdate(ctx, session.ID); err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	unpaid, err := store.ListUnpaidLinesBySession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("list unpaid lines: %w", err)
	}
	if len(unpaid) > 0 && !force {
		return ErrUnpaidLinesLeft
	}

	if err := store.DeleteUnpaidSplits(ctx, session.ID); err != nil {
		return fmt.Errorf("drop splits: %w", err)
	}
	if _, err := store.CloseSession(ctx, session.ID); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if len(unpaid) == 0 {
		if _, err := store.SettleSale(ctx, session.SaleID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("settle sale: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	m.scheduleResync(session)
	return nil
}

// AssignCustomer ties a customer to the session, bumping the party size if
// needed. Creates the session when the table is still free (first customer
// assignment is a creation trigger, like the first item).
func (m *SessionManager) AssignCustomer(ctx context.Context, req EnsureSessionRequest, customerID uuid.UUID) (database.TableSession, error) {
	session, err := m.EnsureSession(ctx, req)
	if err != nil {
		return database.TableSession{}, err
	}
	return m.store.AssignSessionCustomer(ctx, database.AssignSessionCustomerParams{
		ID:         session.ID,
		CustomerID: uuidToPg(customerID),
		Customers:  req.Customers,
	})
}

// LinkFolio attaches a guest folio to the session and pushes the current
// unpaid lines into the ledger.
func (m *SessionManager) LinkFolio(ctx context.Context, sessionID uuid.UUID, folioID string, customerID uuid.UUID, reservationID string) (database.TableSession, error) {
	if folioID == "" {
		return database.TableSession{}, wrap(ErrValidation, "folio_id is required")
	}
	session, err := m.fetchSession(ctx, sessionID)
	if err != nil {
		return database.TableSession{}, err
	}
	unlock := m.locks.lock(session.TableID)
	defer unlock()

	session, err = m.store.LinkSessionFolio(ctx, database.LinkSessionFolioParams{
		ID:            sessionID,
		FolioID:       textToPg(folioID),
		CustomerID:    uuidToPg(customerID),
		ReservationID: textToPg(reservationID),
	})
	if err != nil {
		return database.TableSession{}, fmt.Errorf("link folio: %w", err)
	}

	m.scheduleResync(session)
	return session, nil
}

// TableState is the read-only snapshot handed to terminals.
type TableState struct {
	Session database.TableSession
	Lines   []database.OrderLine
	Splits  []database.BillSplit
}

// GetTableState reports the open session of a table with its lines and live
// split batch. It never creates anything; a free table returns pgx.ErrNoRows.
func (m *SessionManager) GetTableState(ctx context.Context, outletID, tableID uuid.UUID) (TableState, error) {
	session, err := m.store.GetSessionByTable(ctx, database.GetSessionByTableParams{
		OutletID: outletID,
		TableID:  tableID,
	})
	if err != nil {
		return TableState{}, err
	}
	lines, err := m.store.ListLinesBySession(ctx, session.ID)
	if err != nil {
		return TableState{}, err
	}
	splits, err := m.store.ListCurrentSplits(ctx, session.ID)
	if err != nil {
		return TableState{}, err
	}
	return TableState{Session: session, Lines: lines, Splits: splits}, nil
}

// --- Helpers ---

func (m *SessionManager) fetchSession(ctx context.Context, sessionID uuid.UUID) (database.TableSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return database.TableSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (m *SessionManager) fetchLineSession(ctx context.Context, lineID uuid.UUID) (database.OrderLine, database.TableSession, error) {
	line, err := m.store.GetLine(ctx, lineID)
	if err != nil {
		return database.OrderLine{}, database.TableSession{}, fmt.Errorf("get line: %w", err)
	}
	session, err := m.store.GetSession(ctx, line.SessionID)
	if err != nil {
		return database.OrderLine{}, database.TableSession{}, fmt.Errorf("get session: %w", err)
	}
	return line, session, nil
}

func (m *SessionManager) scheduleResync(session database.TableSession) {
	if m.folio != nil && session.FolioID.Valid {
		m.folio.ScheduleResync(session.ID)
	}
}

// isUniqueViolation checks for a pg unique constraint violation (code 23505),
// raised by the partial index on open sessions when a create race is lost.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

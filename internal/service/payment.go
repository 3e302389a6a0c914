package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/receipt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// SplitStore defines the DB methods needed by the payment coordinator.
// Satisfied by *database.Queries.
type SplitStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (database.TableSession, error)
	GetSessionForUpdate(ctx context.Context, id uuid.UUID) (database.TableSession, error)
	GetSessionByTable(ctx context.Context, arg database.GetSessionByTableParams) (database.TableSession, error)

	ListLinesBySession(ctx context.Context, sessionID uuid.UUID) ([]database.OrderLine, error)
	ListUnpaidLinesBySession(ctx context.Context, sessionID uuid.UUID) ([]database.OrderLine, error)
	MarkLinesPaid(ctx context.Context, arg database.MarkLinesPaidParams) (int64, error)
	ClearLineSplits(ctx context.Context, sessionID uuid.UUID) error

	CreateSplit(ctx context.Context, arg database.CreateSplitParams) (database.BillSplit, error)
	CreateSplitAssignment(ctx context.Context, arg database.CreateSplitAssignmentParams) error
	GetSplitForUpdate(ctx context.Context, id uuid.UUID) (database.BillSplit, error)
	CurrentSplitBatch(ctx context.Context, sessionID uuid.UUID) (int32, error)
	ListCurrentSplits(ctx context.Context, sessionID uuid.UUID) ([]database.BillSplit, error)
	ListAssignmentsBySplit(ctx context.Context, splitID uuid.UUID) ([]database.SplitAssignment, error)
	MarkSplitPaid(ctx context.Context, id uuid.UUID) (database.BillSplit, error)
	DeleteUnpaidSplits(ctx context.Context, sessionID uuid.UUID) error

	AddSalePayment(ctx context.Context, arg database.AddSalePaymentParams) (database.Sale, error)
}

// NewSplitStore creates a SplitStore from a DBTX (pool or tx).
type NewSplitStore func(db database.DBTX) SplitStore

// PaymentCoordinator drives a session's bill through split confirmation and
// per-split payment. Its state machine is derived from the split rows on
// every call; the only in-memory state is the "currently selected split"
// pointer, which is a UI convenience and never load-bearing.
type PaymentCoordinator struct {
	store    SplitStore
	pool     TxBeginner
	newStore NewSplitStore
	sessions *SessionManager
	receipts receipt.Sink
	log      *slog.Logger

	mu       sync.Mutex
	selected map[uuid.UUID]uuid.UUID // session id -> selected split id
}

func NewPaymentCoordinator(store SplitStore, pool TxBeginner, newStore NewSplitStore, sessions *SessionManager, receipts receipt.Sink, log *slog.Logger) *PaymentCoordinator {
	return &PaymentCoordinator{
		store:    store,
		pool:     pool,
		newStore: newStore,
		sessions: sessions,
		receipts: receipts,
		log:      log,
		selected: make(map[uuid.UUID]uuid.UUID),
	}
}

// PaymentStatus is the derived coordinator state for one session.
type PaymentStatus struct {
	State             string
	Splits            []database.BillSplit
	SelectedSplitID   uuid.UUID
	UnassignedLineIDs []uuid.UUID
}

// Plan is the dry-run half of splitting: it partitions the current unpaid
// lines without persisting anything.
func (c *PaymentCoordinator) Plan(ctx context.Context, sessionID uuid.UUID, reqs []SplitRequest) ([]PlannedSplit, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.Status == enum.SessionStatusClosed {
		return nil, ErrSessionClosed
	}
	unpaid, err := c.store.ListUnpaidLinesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list unpaid lines: %w", err)
	}
	return PlanSplit(unpaid, reqs)
}

// ConfirmSplit freezes a new split batch over the session's current unpaid
// lines. Unpaid splits of any earlier batch are discarded and the paid set
// resets: already-paid splits stay as history but a re-split always starts
// the live batch from scratch.
func (c *PaymentCoordinator) ConfirmSplit(ctx context.Context, sessionID uuid.UUID, reqs []SplitRequest) ([]database.BillSplit, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	unlock := c.sessions.locks.lock(session.TableID)
	defer unlock()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := c.newStore(tx)

	session, err = store.GetSessionForUpdate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	if session.Status == enum.SessionStatusClosed {
		return nil, ErrSessionClosed
	}

	unpaid, err := store.ListUnpaidLinesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list unpaid lines: %w", err)
	}
	planned, err := PlanSplit(unpaid, reqs)
	if err != nil {
		return nil, err
	}

	if err := store.DeleteUnpaidSplits(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("drop old splits: %w", err)
	}
	if err := store.ClearLineSplits(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("clear line splits: %w", err)
	}
	batch, err := store.CurrentSplitBatch(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("current batch: %w", err)
	}
	batch++

	splits := make([]database.BillSplit, 0, len(planned))
	for _, p := range planned {
		split, err := store.CreateSplit(ctx, database.CreateSplitParams{
			SessionID: sessionID,
			Name:      p.Name,
			Batch:     batch,
			Seq:       p.Seq,
			Kind:      p.Kind,
			Total:     decimalToNumeric(p.Total),
		})
		if err != nil {
			return nil, fmt.Errorf("create split: %w", err)
		}
		for _, item := range p.Items {
			if err := store.CreateSplitAssignment(ctx, database.CreateSplitAssignmentParams{
				SplitID:  split.ID,
				LineID:   item.LineID,
				Quantity: item.Quantity,
			}); err != nil {
				return nil, fmt.Errorf("create assignment: %w", err)
			}
		}
		splits = append(splits, split)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	c.mu.Lock()
	delete(c.selected, sessionID)
	c.mu.Unlock()
	return splits, nil
}

// SelectSplitToPay moves the "currently selected" pointer. It does not change
// the payment state.
func (c *PaymentCoordinator) SelectSplitToPay(ctx context.Context, sessionID, splitID uuid.UUID) error {
	splits, err := c.store.ListCurrentSplits(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list splits: %w", err)
	}
	for _, s := range splits {
		if s.ID != splitID {
			continue
		}
		if s.PaidAt.Valid {
			return ErrSplitPaid
		}
		c.mu.Lock()
		c.selected[sessionID] = splitID
		c.mu.Unlock()
		return nil
	}
	return wrap(ErrValidation, "split is not part of the live batch")
}

// ConfirmPayment marks the split paid. Before mutating anything it verifies
// the live batch still covers the order exactly as confirmed; any drift
// (items added, removed, or changed since the split was frozen) surfaces as
// a stale-split error and forces a re-split, so no item is ever silently
// excluded from billing. The per-split receipt is dispatched after commit
// and its failure never fails the payment.
func (c *PaymentCoordinator) ConfirmPayment(ctx context.Context, sessionID, splitID uuid.UUID, method string) (database.BillSplit, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return database.BillSplit{}, fmt.Errorf("get session: %w", err)
	}
	unlock := c.sessions.locks.lock(session.TableID)
	defer unlock()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return database.BillSplit{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := c.newStore(tx)

	session, err = store.GetSessionForUpdate(ctx, sessionID)
	if err != nil {
		return database.BillSplit{}, fmt.Errorf("lock session: %w", err)
	}
	if session.Status == enum.SessionStatusClosed {
		return database.BillSplit{}, ErrSessionClosed
	}

	split, err := store.GetSplitForUpdate(ctx, splitID)
	if err != nil {
		return database.BillSplit{}, fmt.Errorf("lock split: %w", err)
	}
	if split.SessionID != sessionID {
		return database.BillSplit{}, wrap(ErrValidation, "split does not belong to the session")
	}
	batch, err := store.CurrentSplitBatch(ctx, sessionID)
	if err != nil {
		return database.BillSplit{}, fmt.Errorf("current batch: %w", err)
	}
	if split.Batch != batch {
		return database.BillSplit{}, wrap(ErrInvalidState, "split belongs to a superseded batch")
	}
	if split.PaidAt.Valid {
		return database.BillSplit{}, ErrSplitPaid
	}

	splits, err := store.ListCurrentSplits(ctx, sessionID)
	if err != nil {
		return database.BillSplit{}, fmt.Errorf("list splits: %w", err)
	}
	assignments := make(map[uuid.UUID][]database.SplitAssignment, len(splits))
	for _, s := range splits {
		as, err := store.ListAssignmentsBySplit(ctx, s.ID)
		if err != nil {
			return database.BillSplit{}, fmt.Errorf("list assignments: %w", err)
		}
		assignments[s.ID] = as
	}
	allLines, err := store.ListLinesBySession(ctx, sessionID)
	if err != nil {
		return database.BillSplit{}, fmt.Errorf("list lines: %w", err)
	}
	unpaid := unpaidOf(allLines)

	if err := verifyBatch(splits, assignments, allLines, unpaid); err != nil {
		return database.BillSplit{}, err
	}

	paid, err := store.MarkSplitPaid(ctx, splitID)
	if err != nil {
		return database.BillSplit{}, fmt.Errorf("mark split paid: %w", err)
	}

	// An item-based payment settles the lines it fully covers, counting
	// coverage across every paid split of the batch.
	if split.Kind == enum.SplitKindItems {
		covered := coveredLineIDs(splits, assignments, unpaid, splitID)
		if len(covered) > 0 {
			if _, err := store.MarkLinesPaid(ctx, database.MarkLinesPaidParams{
				IDs:     covered,
				SplitID: uuidToPg(splitID),
			}); err != nil {
				return database.BillSplit{}, fmt.Errorf("mark lines paid: %w", err)
			}
		}
	}

	if _, err := store.AddSalePayment(ctx, database.AddSalePaymentParams{
		ID:     session.SaleID,
		Amount: split.Total,
	}); err != nil {
		return database.BillSplit{}, fmt.Errorf("add sale payment: %w", err)
	}

	// Last split of the batch: whatever is still unpaid was covered by
	// equal-division value, so settle those lines too.
	if lastUnpaidSplit(splits, splitID) {
		remaining, err := store.ListUnpaidLinesBySession(ctx, sessionID)
		if err != nil {
			return database.BillSplit{}, fmt.Errorf("list unpaid lines: %w", err)
		}
		if len(remaining) > 0 {
			ids := make([]uuid.UUID, len(remaining))
			for i, l := range remaining {
				ids[i] = l.ID
			}
			if _, err := store.MarkLinesPaid(ctx, database.MarkLinesPaidParams{
				IDs:     ids,
				SplitID: pgtype.UUID{},
			}); err != nil {
				return database.BillSplit{}, fmt.Errorf("mark lines paid: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return database.BillSplit{}, fmt.Errorf("commit tx: %w", err)
	}

	c.mu.Lock()
	if c.selected[sessionID] == splitID {
		delete(c.selected, sessionID)
	}
	c.mu.Unlock()

	c.printSplitReceipt(ctx, session, paid, splits, assignments[splitID], allLines, method)
	c.sessions.scheduleResync(session)
	return paid, nil
}

// Status derives the coordinator state from the session and split rows.
func (c *PaymentCoordinator) Status(ctx context.Context, sessionID uuid.UUID) (PaymentStatus, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("get session: %w", err)
	}
	splits, err := c.store.ListCurrentSplits(ctx, sessionID)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("list splits: %w", err)
	}
	unpaid, err := c.store.ListUnpaidLinesBySession(ctx, sessionID)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("list unpaid lines: %w", err)
	}

	status := PaymentStatus{Splits: splits}
	c.mu.Lock()
	status.SelectedSplitID = c.selected[sessionID]
	c.mu.Unlock()

	if session.Status == enum.SessionStatusClosed {
		status.State = enum.SplitStateReleased
		return status, nil
	}
	if len(splits) == 0 {
		status.State = enum.SplitStateNone
		return status, nil
	}

	paidCount := 0
	referenced := make(map[uuid.UUID]bool)
	hasEqual := false
	for _, s := range splits {
		if s.PaidAt.Valid {
			paidCount++
		}
		if s.Kind == enum.SplitKindEqual {
			hasEqual = true
			continue
		}
		as, err := c.store.ListAssignmentsBySplit(ctx, s.ID)
		if err != nil {
			return PaymentStatus{}, fmt.Errorf("list assignments: %w", err)
		}
		for _, a := range as {
			referenced[a.LineID] = true
		}
	}
	if !hasEqual {
		for _, l := range unpaid {
			if !referenced[l.ID] {
				status.UnassignedLineIDs = append(status.UnassignedLineIDs, l.ID)
			}
		}
	}

	switch {
	case paidCount == 0:
		status.State = enum.SplitStatePending
	case paidCount < len(splits):
		status.State = enum.SplitStatePartiallyPaid
	case len(unpaid) > 0:
		// Every split paid but items slipped in after the batch froze;
		// hold at partially-paid until a re-split covers them.
		status.State = enum.SplitStatePartiallyPaid
		for _, l := range unpaid {
			if !referenced[l.ID] && hasEqual {
				status.UnassignedLineIDs = append(status.UnassignedLineIDs, l.ID)
			}
		}
	default:
		status.State = enum.SplitStateFullyPaid
	}
	return status, nil
}

// FinishWithPartialPayments abandons the unpaid rest of the bill and closes
// the table. Legal only once at least one split has been paid; while unpaid
// splits remain it additionally demands the forceClose override. The unpaid
// lines stay unpaid on the closed session.
func (c *PaymentCoordinator) FinishWithPartialPayments(ctx context.Context, sessionID uuid.UUID, forceClose bool) error {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	unlock := c.sessions.locks.lock(session.TableID)
	defer unlock()

	if session.Status == enum.SessionStatusClosed {
		return ErrSessionClosed
	}
	splits, err := c.store.ListCurrentSplits(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list splits: %w", err)
	}
	paidCount := 0
	for _, s := range splits {
		if s.PaidAt.Valid {
			paidCount++
		}
	}
	if paidCount == 0 {
		return ErrNotPartiallyPaid
	}
	unpaid, err := c.store.ListUnpaidLinesBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list unpaid lines: %w", err)
	}
	if paidCount == len(splits) && len(unpaid) == 0 {
		return wrap(ErrInvalidState, "bill is fully paid; release the table instead")
	}
	if paidCount < len(splits) && !forceClose {
		return ErrForceCloseRequired
	}

	if err := c.sessions.releaseLocked(ctx, session.OutletID, session.TableID, true); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.selected, sessionID)
	c.mu.Unlock()
	return nil
}

// Release closes a fully-paid table (or any table, with force).
func (c *PaymentCoordinator) Release(ctx context.Context, outletID, tableID uuid.UUID, force bool) error {
	session, err := c.store.GetSessionByTable(ctx, database.GetSessionByTableParams{
		OutletID: outletID,
		TableID:  tableID,
	})
	if err == nil {
		defer func() {
			c.mu.Lock()
			delete(c.selected, session.ID)
			c.mu.Unlock()
		}()
	}
	return c.sessions.Release(ctx, outletID, tableID, force)
}

// verifyBatch re-plans the live batch over the current order and compares it
// against the stored splits. The universe is every line the batch can see:
// still-unpaid lines plus the lines its already-paid splits consumed. Any
// mismatch means the order drifted since the batch froze.
func verifyBatch(splits []database.BillSplit, assignments map[uuid.UUID][]database.SplitAssignment, allLines, unpaid []database.OrderLine) error {
	liveSplit := make(map[uuid.UUID]bool, len(splits))
	hasEqual := false
	reqs := make([]SplitRequest, 0, len(splits))
	for _, s := range splits {
		liveSplit[s.ID] = true
		req := SplitRequest{Name: s.Name}
		if s.Kind == enum.SplitKindEqual {
			hasEqual = true
		} else {
			for _, a := range assignments[s.ID] {
				req.Items = append(req.Items, SplitItemRequest{LineID: a.LineID, Quantity: a.Quantity})
			}
		}
		reqs = append(reqs, req)
	}

	// Without an equal-division member nothing sweeps up stray value, so
	// every unpaid line must be referenced explicitly.
	if !hasEqual {
		referenced := make(map[uuid.UUID]bool)
		for _, as := range assignments {
			for _, a := range as {
				referenced[a.LineID] = true
			}
		}
		for _, l := range unpaid {
			if !referenced[l.ID] {
				return ErrUnassignedItems
			}
		}
	}

	universe := make([]database.OrderLine, 0, len(allLines))
	for _, l := range allLines {
		if !l.PaidAt.Valid || (l.SplitID.Valid && liveSplit[l.SplitID.Bytes]) {
			universe = append(universe, l)
		}
	}

	planned, err := PlanSplit(universe, reqs)
	if err != nil {
		return ErrSplitOutdated
	}
	if len(planned) != len(splits) {
		return ErrSplitOutdated
	}
	for i, p := range planned {
		if !p.Total.Equal(numericToDecimal(splits[i].Total)) {
			return ErrSplitOutdated
		}
	}
	return nil
}

// coveredLineIDs returns the unpaid lines whose quantity is now fully
// consumed by paid splits of the batch, counting payingID as paid.
func coveredLineIDs(splits []database.BillSplit, assignments map[uuid.UUID][]database.SplitAssignment, unpaid []database.OrderLine, payingID uuid.UUID) []uuid.UUID {
	paidQty := make(map[uuid.UUID]int32)
	for _, s := range splits {
		if !s.PaidAt.Valid && s.ID != payingID {
			continue
		}
		for _, a := range assignments[s.ID] {
			paidQty[a.LineID] += a.Quantity
		}
	}
	var ids []uuid.UUID
	for _, l := range unpaid {
		if paidQty[l.ID] >= l.Quantity {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

func lastUnpaidSplit(splits []database.BillSplit, payingID uuid.UUID) bool {
	for _, s := range splits {
		if !s.PaidAt.Valid && s.ID != payingID {
			return false
		}
	}
	return true
}

func unpaidOf(lines []database.OrderLine) []database.OrderLine {
	var unpaid []database.OrderLine
	for _, l := range lines {
		if !l.PaidAt.Valid {
			unpaid = append(unpaid, l)
		}
	}
	return unpaid
}

func (c *PaymentCoordinator) printSplitReceipt(ctx context.Context, session database.TableSession, split database.BillSplit, splits []database.BillSplit, assigned []database.SplitAssignment, allLines []database.OrderLine, method string) {
	if c.receipts == nil {
		return
	}

	payload := receipt.Payload{
		OutletID:  session.OutletID,
		TableID:   session.TableID,
		SessionID: session.ID,
		SplitName: split.Name,
		Total:     numericToDecimal(split.Total),
		Method:    method,
		PaidAt:    time.Now(),
	}

	if split.Kind == enum.SplitKindEqual {
		payload.Items = []receipt.Item{{
			Description: fmt.Sprintf("1/%d of table total", len(splits)),
			Quantity:    1,
			Total:       payload.Total,
		}}
	} else {
		byID := make(map[uuid.UUID]database.OrderLine, len(allLines))
		for _, l := range allLines {
			byID[l.ID] = l
		}
		for _, a := range assigned {
			line, ok := byID[a.LineID]
			if !ok {
				continue
			}
			value := numericToDecimal(line.Total).
				Mul(decimal.NewFromInt32(a.Quantity)).
				Div(decimal.NewFromInt32(line.Quantity)).
				Round(2)
			payload.Items = append(payload.Items, receipt.Item{
				Description: line.Description,
				Quantity:    a.Quantity,
				Total:       value,
			})
		}
	}

	if err := c.receipts.Print(ctx, payload); err != nil {
		c.log.Warn("receipt print failed",
			"session_id", session.ID, "split_id", split.ID, "error", err)
	}
}

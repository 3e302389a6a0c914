package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// --- Transaction mocks ---

// mockTx implements pgx.Tx with only the methods we need.
// Commit/Rollback are no-ops; the memory store applies writes immediately.
type mockTx struct {
	commitErr   error
	rollbackErr error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error          { return m.commitErr }
func (m *mockTx) Rollback(ctx context.Context) error        { return m.rollbackErr }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// --- In-memory store ---

// memStore is a stateful in-memory implementation of SessionStore and
// SplitStore, close enough to the SQL semantics for scenario tests.
type memStore struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]database.TableSession
	lines       map[uuid.UUID]database.OrderLine
	lineOrder   []uuid.UUID
	splits      map[uuid.UUID]database.BillSplit
	splitOrder  []uuid.UUID
	assignments map[uuid.UUID][]database.SplitAssignment
	sales       map[uuid.UUID]database.Sale
}

func newMemStore() *memStore {
	return &memStore{
		sessions:    make(map[uuid.UUID]database.TableSession),
		lines:       make(map[uuid.UUID]database.OrderLine),
		splits:      make(map[uuid.UUID]database.BillSplit),
		assignments: make(map[uuid.UUID][]database.SplitAssignment),
		sales:       make(map[uuid.UUID]database.Sale),
	}
}

// -- sessions --

func (s *memStore) GetSessionByTable(_ context.Context, arg database.GetSessionByTableParams) (database.TableSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.OutletID == arg.OutletID && sess.TableID == arg.TableID && sess.Status != enum.SessionStatusClosed {
			return sess, nil
		}
	}
	return database.TableSession{}, pgx.ErrNoRows
}

func (s *memStore) GetSession(_ context.Context, id uuid.UUID) (database.TableSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return database.TableSession{}, pgx.ErrNoRows
	}
	return sess, nil
}

func (s *memStore) GetSessionForUpdate(ctx context.Context, id uuid.UUID) (database.TableSession, error) {
	return s.GetSession(ctx, id)
}

func (s *memStore) CreateSession(_ context.Context, arg database.CreateSessionParams) (database.TableSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.OutletID == arg.OutletID && sess.TableID == arg.TableID && sess.Status != enum.SessionStatusClosed {
			return database.TableSession{}, &pgconn.PgError{Code: "23505"}
		}
	}
	sess := database.TableSession{
		ID:        uuid.New(),
		OutletID:  arg.OutletID,
		TableID:   arg.TableID,
		Status:    enum.SessionStatusActive,
		Customers: arg.Customers,
		SaleID:    arg.SaleID,
		OpenedBy:  arg.OpenedBy,
		OpenedAt:  pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memStore) UpdateSessionStatus(_ context.Context, arg database.UpdateSessionStatusParams) (database.TableSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[arg.ID]
	if !ok {
		return database.TableSession{}, pgx.ErrNoRows
	}
	sess.Status = arg.Status
	s.sessions[arg.ID] = sess
	return sess, nil
}

func (s *memStore) CloseSession(_ context.Context, id uuid.UUID) (database.TableSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return database.TableSession{}, pgx.ErrNoRows
	}
	sess.Status = enum.SessionStatusClosed
	sess.ClosedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	s.sessions[id] = sess
	return sess, nil
}

func (s *memStore) AssignSessionCustomer(_ context.Context, arg database.AssignSessionCustomerParams) (database.TableSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[arg.ID]
	if !ok {
		return database.TableSession{}, pgx.ErrNoRows
	}
	sess.CustomerID = arg.CustomerID
	if arg.Customers > sess.Customers {
		sess.Customers = arg.Customers
	}
	s.sessions[arg.ID] = sess
	return sess, nil
}

func (s *memStore) LinkSessionFolio(_ context.Context, arg database.LinkSessionFolioParams) (database.TableSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[arg.ID]
	if !ok {
		return database.TableSession{}, pgx.ErrNoRows
	}
	sess.FolioID = arg.FolioID
	sess.CustomerID = arg.CustomerID
	sess.ReservationID = arg.ReservationID
	s.sessions[arg.ID] = sess
	return sess, nil
}

// -- sales --

func (s *memStore) CreateSale(_ context.Context, outletID uuid.UUID) (database.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale := database.Sale{
		ID:          uuid.New(),
		OutletID:    outletID,
		TotalAmount: makeNumeric("0.00"),
		PaidAmount:  makeNumeric("0.00"),
	}
	s.sales[sale.ID] = sale
	return sale, nil
}

func (s *memStore) AdjustSaleTotal(_ context.Context, arg database.AdjustSaleTotalParams) (database.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[arg.ID]
	if !ok {
		return database.Sale{}, pgx.ErrNoRows
	}
	sale.TotalAmount = decimalToNumeric(numericToDecimal(sale.TotalAmount).Add(numericToDecimal(arg.Delta)))
	s.sales[arg.ID] = sale
	return sale, nil
}

func (s *memStore) AddSalePayment(_ context.Context, arg database.AddSalePaymentParams) (database.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[arg.ID]
	if !ok {
		return database.Sale{}, pgx.ErrNoRows
	}
	sale.PaidAmount = decimalToNumeric(numericToDecimal(sale.PaidAmount).Add(numericToDecimal(arg.Amount)))
	s.sales[arg.ID] = sale
	return sale, nil
}

func (s *memStore) SettleSale(_ context.Context, id uuid.UUID) (database.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	if !ok || sale.SettledAt.Valid {
		return database.Sale{}, pgx.ErrNoRows
	}
	sale.SettledAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	s.sales[id] = sale
	return sale, nil
}

// -- lines --

func (s *memStore) CreateLine(_ context.Context, arg database.CreateLineParams) (database.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := database.OrderLine{
		ID:             uuid.New(),
		SessionID:      arg.SessionID,
		SaleID:         arg.SaleID,
		ProductID:      arg.ProductID,
		Description:    arg.Description,
		Quantity:       arg.Quantity,
		UnitPrice:      arg.UnitPrice,
		TaxAmount:      arg.TaxAmount,
		DiscountAmount: arg.DiscountAmount,
		Total:          arg.Total,
		CreatedAt:      pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	s.lines[line.ID] = line
	s.lineOrder = append(s.lineOrder, line.ID)
	return line, nil
}

func (s *memStore) GetLine(_ context.Context, id uuid.UUID) (database.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.lines[id]
	if !ok {
		return database.OrderLine{}, pgx.ErrNoRows
	}
	return line, nil
}

func (s *memStore) GetLineForUpdate(ctx context.Context, id uuid.UUID) (database.OrderLine, error) {
	return s.GetLine(ctx, id)
}

func (s *memStore) ListLinesBySession(_ context.Context, sessionID uuid.UUID) ([]database.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.OrderLine
	for _, id := range s.lineOrder {
		line, ok := s.lines[id]
		if ok && line.SessionID == sessionID {
			out = append(out, line)
		}
	}
	return out, nil
}

func (s *memStore) ListUnpaidLinesBySession(ctx context.Context, sessionID uuid.UUID) ([]database.OrderLine, error) {
	all, _ := s.ListLinesBySession(ctx, sessionID)
	var out []database.OrderLine
	for _, line := range all {
		if !line.PaidAt.Valid {
			out = append(out, line)
		}
	}
	return out, nil
}

func (s *memStore) UpdateLineQuantity(_ context.Context, arg database.UpdateLineQuantityParams) (database.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.lines[arg.ID]
	if !ok || line.PaidAt.Valid {
		return database.OrderLine{}, pgx.ErrNoRows
	}
	line.Quantity = arg.Quantity
	line.Total = arg.Total
	s.lines[arg.ID] = line
	return line, nil
}

func (s *memStore) UpdateLineSession(_ context.Context, arg database.UpdateLineSessionParams) (database.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.lines[arg.ID]
	if !ok || line.PaidAt.Valid {
		return database.OrderLine{}, pgx.ErrNoRows
	}
	line.SessionID = arg.SessionID
	line.SaleID = arg.SaleID
	line.SplitID = pgtype.UUID{}
	s.lines[arg.ID] = line
	return line, nil
}

func (s *memStore) DeleteLine(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.lines[id]
	if !ok || line.PaidAt.Valid {
		return pgx.ErrNoRows
	}
	delete(s.lines, id)
	return nil
}

func (s *memStore) MarkLinesPaid(_ context.Context, arg database.MarkLinesPaidParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range arg.IDs {
		line, ok := s.lines[id]
		if !ok || line.PaidAt.Valid {
			continue
		}
		line.PaidAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
		line.SplitID = arg.SplitID
		s.lines[id] = line
		n++
	}
	return n, nil
}

func (s *memStore) ClearLineSplits(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, line := range s.lines {
		if line.SessionID == sessionID && !line.PaidAt.Valid {
			line.SplitID = pgtype.UUID{}
			s.lines[id] = line
		}
	}
	return nil
}

// -- splits --

func (s *memStore) CreateSplit(_ context.Context, arg database.CreateSplitParams) (database.BillSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	split := database.BillSplit{
		ID:        uuid.New(),
		SessionID: arg.SessionID,
		Name:      arg.Name,
		Batch:     arg.Batch,
		Seq:       arg.Seq,
		Kind:      arg.Kind,
		Total:     arg.Total,
		CreatedAt: pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	s.splits[split.ID] = split
	s.splitOrder = append(s.splitOrder, split.ID)
	return split, nil
}

func (s *memStore) CreateSplitAssignment(_ context.Context, arg database.CreateSplitAssignmentParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[arg.SplitID] = append(s.assignments[arg.SplitID], database.SplitAssignment{
		SplitID:  arg.SplitID,
		LineID:   arg.LineID,
		Quantity: arg.Quantity,
	})
	return nil
}

func (s *memStore) GetSplitForUpdate(_ context.Context, id uuid.UUID) (database.BillSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	split, ok := s.splits[id]
	if !ok {
		return database.BillSplit{}, pgx.ErrNoRows
	}
	return split, nil
}

func (s *memStore) CurrentSplitBatch(_ context.Context, sessionID uuid.UUID) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentBatchLocked(sessionID), nil
}

func (s *memStore) currentBatchLocked(sessionID uuid.UUID) int32 {
	var batch int32
	for _, split := range s.splits {
		if split.SessionID == sessionID && split.Batch > batch {
			batch = split.Batch
		}
	}
	return batch
}

func (s *memStore) ListCurrentSplits(_ context.Context, sessionID uuid.UUID) ([]database.BillSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.currentBatchLocked(sessionID)
	var out []database.BillSplit
	for _, id := range s.splitOrder {
		split, ok := s.splits[id]
		if ok && split.SessionID == sessionID && split.Batch == batch {
			out = append(out, split)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *memStore) ListAssignmentsBySplit(_ context.Context, splitID uuid.UUID) ([]database.SplitAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.SplitAssignment(nil), s.assignments[splitID]...), nil
}

func (s *memStore) MarkSplitPaid(_ context.Context, id uuid.UUID) (database.BillSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	split, ok := s.splits[id]
	if !ok || split.PaidAt.Valid {
		return database.BillSplit{}, pgx.ErrNoRows
	}
	split.PaidAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	s.splits[id] = split
	return split, nil
}

func (s *memStore) DeleteUnpaidSplits(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, split := range s.splits {
		if split.SessionID == sessionID && !split.PaidAt.Valid {
			delete(s.splits, id)
			delete(s.assignments, id)
			for lid, line := range s.lines {
				if line.SplitID.Valid && line.SplitID.Bytes == id {
					line.SplitID = pgtype.UUID{}
					s.lines[lid] = line
				}
			}
		}
	}
	return nil
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

func makeLine(sessionID uuid.UUID, quantity int32, total string) database.OrderLine {
	return database.OrderLine{
		ID:        uuid.New(),
		SessionID: sessionID,
		ProductID: uuid.New(),
		Quantity:  quantity,
		UnitPrice: makeNumeric("0.00"),
		Total:     makeNumeric(total),
	}
}

// newTestManager creates a SessionManager over an in-memory store.
func newTestManager(store *memStore) *SessionManager {
	pool := &mockTxBeginner{tx: &mockTx{}}
	return NewSessionManager(
		store,
		pool,
		func(db database.DBTX) SessionStore { return store },
		nil,
	)
}

// newTestCoordinator creates a PaymentCoordinator (and its SessionManager)
// over the same in-memory store.
func newTestCoordinator(store *memStore) *PaymentCoordinator {
	pool := &mockTxBeginner{tx: &mockTx{}}
	sessions := newTestManager(store)
	return NewPaymentCoordinator(
		store,
		pool,
		func(db database.DBTX) SplitStore { return store },
		sessions,
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

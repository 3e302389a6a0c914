package service

import (
	"context"
	"errors"
	"testing"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// paymentFixture is a session with two unpaid lines (10.00 and 20.00).
type paymentFixture struct {
	store   *memStore
	c       *PaymentCoordinator
	session database.TableSession
	lines   []database.OrderLine
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	store := newMemStore()
	c := newTestCoordinator(store)
	session := openTestSession(t, c.sessions, uuid.New(), uuid.New())

	lines, err := c.sessions.AddItems(context.Background(), session.ID, []NewItem{
		{ProductID: uuid.New(), Description: "Pasta", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		{ProductID: uuid.New(), Description: "Wine", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
	})
	if err != nil {
		t.Fatalf("AddItems: %v", err)
	}
	return &paymentFixture{store: store, c: c, session: session, lines: lines}
}

func TestConfirmSplit_CreatesBatch(t *testing.T) {
	f := newPaymentFixture(t)

	splits, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 2))
	if err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}
	if len(splits) != 2 {
		t.Fatalf("expected 2 splits, got %d", len(splits))
	}
	for _, s := range splits {
		if s.Batch != 1 {
			t.Fatalf("batch = %d, expected 1", s.Batch)
		}
		if !numericEquals(s.Total, "15.00") {
			t.Fatalf("split total = %v, expected 15.00", s.Total)
		}
	}

	// Pay one split, then re-split: the paid row stays as history and the
	// new batch gets the next number.
	if _, err := f.c.ConfirmPayment(context.Background(), f.session.ID, splits[0].ID, enum.PaymentMethodCash); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	resplit, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 3))
	if err != nil {
		t.Fatalf("ConfirmSplit again: %v", err)
	}
	if resplit[0].Batch != 2 {
		t.Fatalf("batch = %d, expected 2", resplit[0].Batch)
	}
	live, _ := f.store.ListCurrentSplits(context.Background(), f.session.ID)
	if len(live) != 3 {
		t.Fatalf("live batch has %d splits, expected 3", len(live))
	}
	// 3 live splits plus the paid one kept as history.
	if len(f.store.splits) != 4 {
		t.Fatalf("%d splits stored, expected 4", len(f.store.splits))
	}
}

func TestConfirmSplit_ClosedSession(t *testing.T) {
	f := newPaymentFixture(t)
	if _, err := f.store.CloseSession(context.Background(), f.session.ID); err != nil {
		t.Fatalf("close session: %v", err)
	}

	_, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 2))
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestConfirmPayment_ItemSplits(t *testing.T) {
	f := newPaymentFixture(t)

	splits, err := f.c.ConfirmSplit(context.Background(), f.session.ID, []SplitRequest{
		{Name: "Ana", Items: []SplitItemRequest{{LineID: f.lines[0].ID, Quantity: 1}}},
		{Name: "Ben", Items: []SplitItemRequest{{LineID: f.lines[1].ID, Quantity: 2}}},
	})
	if err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}

	paid, err := f.c.ConfirmPayment(context.Background(), f.session.ID, splits[0].ID, enum.PaymentMethodCash)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if !paid.PaidAt.Valid {
		t.Fatal("split not marked paid")
	}

	line := f.store.lines[f.lines[0].ID]
	if !line.PaidAt.Valid {
		t.Fatal("covered line not marked paid")
	}
	if !line.SplitID.Valid || line.SplitID.Bytes != splits[0].ID {
		t.Fatal("paid line not stamped with its split")
	}
	if f.store.lines[f.lines[1].ID].PaidAt.Valid {
		t.Fatal("uncovered line marked paid")
	}
	if !numericEquals(f.store.sales[f.session.SaleID].PaidAmount, "10.00") {
		t.Fatalf("sale paid = %v, expected 10.00", f.store.sales[f.session.SaleID].PaidAmount)
	}

	status, err := f.c.Status(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != enum.SplitStatePartiallyPaid {
		t.Fatalf("state = %s, expected PARTIALLY_PAID", status.State)
	}

	if _, err := f.c.ConfirmPayment(context.Background(), f.session.ID, splits[1].ID, enum.PaymentMethodCard); err != nil {
		t.Fatalf("ConfirmPayment second: %v", err)
	}
	if !f.store.lines[f.lines[1].ID].PaidAt.Valid {
		t.Fatal("second line not paid")
	}
	if !numericEquals(f.store.sales[f.session.SaleID].PaidAmount, "30.00") {
		t.Fatalf("sale paid = %v, expected 30.00", f.store.sales[f.session.SaleID].PaidAmount)
	}

	status, _ = f.c.Status(context.Background(), f.session.ID)
	if status.State != enum.SplitStateFullyPaid {
		t.Fatalf("state = %s, expected FULLY_PAID", status.State)
	}
}

func TestConfirmPayment_EqualSplitsSettleLines(t *testing.T) {
	f := newPaymentFixture(t)

	splits, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 2))
	if err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}

	if _, err := f.c.ConfirmPayment(context.Background(), f.session.ID, splits[0].ID, enum.PaymentMethodCash); err != nil {
		t.Fatalf("ConfirmPayment first: %v", err)
	}
	// Equal splits settle no lines until the last one is paid.
	for _, l := range f.lines {
		if f.store.lines[l.ID].PaidAt.Valid {
			t.Fatal("line paid before the batch completed")
		}
	}

	if _, err := f.c.ConfirmPayment(context.Background(), f.session.ID, splits[1].ID, enum.PaymentMethodCash); err != nil {
		t.Fatalf("ConfirmPayment last: %v", err)
	}
	for _, l := range f.lines {
		got := f.store.lines[l.ID]
		if !got.PaidAt.Valid {
			t.Fatal("line unpaid after last split payment")
		}
		if got.SplitID.Valid {
			t.Fatal("equal-division payment stamped a split on the line")
		}
	}
	if !numericEquals(f.store.sales[f.session.SaleID].PaidAmount, "30.00") {
		t.Fatalf("sale paid = %v, expected 30.00", f.store.sales[f.session.SaleID].PaidAmount)
	}
}

func TestConfirmPayment_StaleAfterNewItem(t *testing.T) {
	f := newPaymentFixture(t)

	splits, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 2))
	if err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}

	// The order changes after the batch froze.
	if _, err := f.c.sessions.AddItems(context.Background(), f.session.ID, []NewItem{
		{ProductID: uuid.New(), Description: "Dessert", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
	}); err != nil {
		t.Fatalf("AddItems: %v", err)
	}

	_, err = f.c.ConfirmPayment(context.Background(), f.session.ID, splits[0].ID, enum.PaymentMethodCash)
	if !errors.Is(err, ErrStaleSplit) {
		t.Fatalf("expected a stale-split error, got %v", err)
	}
	if !errors.Is(err, ErrSplitOutdated) {
		t.Fatalf("expected ErrSplitOutdated, got %v", err)
	}

	// Nothing was mutated.
	if f.store.splits[splits[0].ID].PaidAt.Valid {
		t.Fatal("split marked paid despite stale batch")
	}
	if !numericEquals(f.store.sales[f.session.SaleID].PaidAmount, "0.00") {
		t.Fatalf("sale paid = %v, expected 0.00", f.store.sales[f.session.SaleID].PaidAmount)
	}
}

func TestConfirmPayment_UnassignedItem(t *testing.T) {
	f := newPaymentFixture(t)

	// Item-only batch covering both lines.
	splits, err := f.c.ConfirmSplit(context.Background(), f.session.ID, []SplitRequest{
		{Items: []SplitItemRequest{{LineID: f.lines[0].ID, Quantity: 1}}},
		{Items: []SplitItemRequest{{LineID: f.lines[1].ID, Quantity: 2}}},
	})
	if err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}

	if _, err := f.c.sessions.AddItems(context.Background(), f.session.ID, []NewItem{
		{ProductID: uuid.New(), Description: "Coffee", Quantity: 1, UnitPrice: decimal.RequireFromString("3.00")},
	}); err != nil {
		t.Fatalf("AddItems: %v", err)
	}

	_, err = f.c.ConfirmPayment(context.Background(), f.session.ID, splits[0].ID, enum.PaymentMethodCash)
	if !errors.Is(err, ErrUnassignedItems) {
		t.Fatalf("expected ErrUnassignedItems, got %v", err)
	}
}

func TestConfirmPayment_AlreadyPaid(t *testing.T) {
	f := newPaymentFixture(t)

	splits, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 2))
	if err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}
	if _, err := f.c.ConfirmPayment(context.Background(), f.session.ID, splits[0].ID, enum.PaymentMethodCash); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	_, err = f.c.ConfirmPayment(context.Background(), f.session.ID, splits[0].ID, enum.PaymentMethodCash)
	if !errors.Is(err, ErrSplitPaid) {
		t.Fatalf("expected ErrSplitPaid, got %v", err)
	}
}

func TestConfirmPayment_SupersededBatch(t *testing.T) {
	f := newPaymentFixture(t)

	old, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 2))
	if err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}
	stale := old[0]

	if _, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 3)); err != nil {
		t.Fatalf("ConfirmSplit again: %v", err)
	}
	// Resurrect the dropped batch-1 row to simulate a payment racing a
	// re-split on its stale split id.
	f.store.mu.Lock()
	f.store.splits[stale.ID] = stale
	f.store.mu.Unlock()

	_, err = f.c.ConfirmPayment(context.Background(), f.session.ID, stale.ID, enum.PaymentMethodCash)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected an invalid-state error, got %v", err)
	}
}

func TestSelectSplitToPay(t *testing.T) {
	f := newPaymentFixture(t)

	splits, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 2))
	if err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}

	if err := f.c.SelectSplitToPay(context.Background(), f.session.ID, splits[1].ID); err != nil {
		t.Fatalf("SelectSplitToPay: %v", err)
	}
	status, _ := f.c.Status(context.Background(), f.session.ID)
	if status.SelectedSplitID != splits[1].ID {
		t.Fatalf("selected = %s, expected %s", status.SelectedSplitID, splits[1].ID)
	}

	if err := f.c.SelectSplitToPay(context.Background(), f.session.ID, uuid.New()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown split, got %v", err)
	}

	if _, err := f.c.ConfirmPayment(context.Background(), f.session.ID, splits[1].ID, enum.PaymentMethodCash); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if err := f.c.SelectSplitToPay(context.Background(), f.session.ID, splits[1].ID); !errors.Is(err, ErrSplitPaid) {
		t.Fatalf("expected ErrSplitPaid, got %v", err)
	}
	// Paying the selected split clears the pointer.
	status, _ = f.c.Status(context.Background(), f.session.ID)
	if status.SelectedSplitID != uuid.Nil {
		t.Fatalf("selected = %s, expected cleared", status.SelectedSplitID)
	}
}

func TestStatus_Derivation(t *testing.T) {
	f := newPaymentFixture(t)

	status, err := f.c.Status(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != enum.SplitStateNone {
		t.Fatalf("state = %s, expected NO_SPLIT", status.State)
	}

	if _, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 2)); err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}
	status, _ = f.c.Status(context.Background(), f.session.ID)
	if status.State != enum.SplitStatePending {
		t.Fatalf("state = %s, expected SPLIT_PENDING", status.State)
	}

	if _, err := f.store.CloseSession(context.Background(), f.session.ID); err != nil {
		t.Fatalf("close session: %v", err)
	}
	status, _ = f.c.Status(context.Background(), f.session.ID)
	if status.State != enum.SplitStateReleased {
		t.Fatalf("state = %s, expected RELEASED", status.State)
	}
}

func TestStatus_UnassignedLines(t *testing.T) {
	f := newPaymentFixture(t)

	// Item-only batch referencing just the first line.
	if _, err := f.c.ConfirmSplit(context.Background(), f.session.ID, []SplitRequest{
		{Items: []SplitItemRequest{{LineID: f.lines[0].ID, Quantity: 1}}},
	}); err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}

	status, err := f.c.Status(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status.UnassignedLineIDs) != 1 || status.UnassignedLineIDs[0] != f.lines[1].ID {
		t.Fatalf("unassigned = %v, expected just the second line", status.UnassignedLineIDs)
	}
}

func TestFinishWithPartialPayments(t *testing.T) {
	f := newPaymentFixture(t)

	splits, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 2))
	if err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}

	err = f.c.FinishWithPartialPayments(context.Background(), f.session.ID, false)
	if !errors.Is(err, ErrNotPartiallyPaid) {
		t.Fatalf("expected ErrNotPartiallyPaid, got %v", err)
	}

	if _, err := f.c.ConfirmPayment(context.Background(), f.session.ID, splits[0].ID, enum.PaymentMethodCash); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	err = f.c.FinishWithPartialPayments(context.Background(), f.session.ID, false)
	if !errors.Is(err, ErrForceCloseRequired) {
		t.Fatalf("expected ErrForceCloseRequired, got %v", err)
	}

	if err := f.c.FinishWithPartialPayments(context.Background(), f.session.ID, true); err != nil {
		t.Fatalf("force finish: %v", err)
	}
	if f.store.sessions[f.session.ID].Status != enum.SessionStatusClosed {
		t.Fatal("session not closed")
	}
	// Abandoned lines stay unpaid on the closed session.
	unpaid, _ := f.store.ListUnpaidLinesBySession(context.Background(), f.session.ID)
	if len(unpaid) != 2 {
		t.Fatalf("%d unpaid lines, expected 2", len(unpaid))
	}
}

func TestFinishWithPartialPayments_FullyPaid(t *testing.T) {
	f := newPaymentFixture(t)

	splits, err := f.c.ConfirmSplit(context.Background(), f.session.ID, make([]SplitRequest, 2))
	if err != nil {
		t.Fatalf("ConfirmSplit: %v", err)
	}
	for _, s := range splits {
		if _, err := f.c.ConfirmPayment(context.Background(), f.session.ID, s.ID, enum.PaymentMethodCash); err != nil {
			t.Fatalf("ConfirmPayment: %v", err)
		}
	}

	err = f.c.FinishWithPartialPayments(context.Background(), f.session.ID, false)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected an invalid-state error, got %v", err)
	}
}

package folio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the read surface the syncer needs to recompute a session's
// desired folio state. Satisfied by *database.Queries.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (database.TableSession, error)
	ListUnpaidLinesBySession(ctx context.Context, sessionID uuid.UUID) ([]database.OrderLine, error)
}

// Syncer keeps the POS-owned slice of a guest folio equal to the session's
// unpaid item set. Resyncs are full replacements recomputed from current
// state, so a burst of edits collapses to one trailing resync and
// out-of-order delivery self-heals on the next pass.
type Syncer struct {
	client  Client
	store   Store
	log     *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]*syncFlag
}

type syncFlag struct {
	dirty bool
}

func NewSyncer(client Client, store Store, log *slog.Logger) *Syncer {
	return &Syncer{
		client:  client,
		store:   store,
		log:     log,
		timeout: 30 * time.Second,
		pending: make(map[uuid.UUID]*syncFlag),
	}
}

// AppendLines pushes freshly added lines straight onto the folio without a
// full resync. Any failure falls back to scheduling one.
func (s *Syncer) AppendLines(session database.TableSession, lines []database.OrderLine) {
	if !session.FolioID.Valid {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		for _, line := range lines {
			if _, err := s.client.AddItem(ctx, session.FolioID.String, AddItemRequest{
				Description: itemDescription(line),
				Amount:      lineAmount(line),
				Source:      enum.FolioSourcePOS,
				CreatedBy:   session.OpenedBy.String(),
			}); err != nil {
				s.log.Warn("folio append failed, scheduling resync",
					"session_id", session.ID, "folio_id", session.FolioID.String, "error", err)
				s.ScheduleResync(session.ID)
				return
			}
		}
	}()
}

// ScheduleResync marks the session dirty and makes sure one worker is
// draining it. Calling it while a resync runs queues exactly one more pass.
func (s *Syncer) ScheduleResync(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flag, ok := s.pending[sessionID]; ok {
		flag.dirty = true
		return
	}
	s.pending[sessionID] = &syncFlag{dirty: true}
	go s.drain(sessionID)
}

func (s *Syncer) drain(sessionID uuid.UUID) {
	for {
		s.mu.Lock()
		flag := s.pending[sessionID]
		if flag == nil || !flag.dirty {
			delete(s.pending, sessionID)
			s.mu.Unlock()
			return
		}
		flag.dirty = false
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.Resync(ctx, sessionID)
		cancel()
		if err != nil {
			s.log.Warn("folio resync failed", "session_id", sessionID, "error", err)
		}
	}
}

// Resync replaces every POS-sourced folio line with one line per currently
// unpaid order line. A closed session resolves to the empty set. Lines from
// other sources are never touched.
func (s *Syncer) Resync(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if !session.FolioID.Valid {
		return nil
	}
	folioID := session.FolioID.String

	var desired []database.OrderLine
	if session.Status != enum.SessionStatusClosed {
		desired, err = s.store.ListUnpaidLinesBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("list unpaid lines: %w", err)
		}
	}

	existing, err := s.client.ListItems(ctx, folioID, enum.FolioSourcePOS)
	if err != nil {
		return fmt.Errorf("list folio items: %w", err)
	}
	for _, item := range existing {
		if err := s.client.RemoveItem(ctx, folioID, item.ID); err != nil {
			return fmt.Errorf("remove folio item %s: %w", item.ID, err)
		}
	}
	for _, line := range desired {
		if _, err := s.client.AddItem(ctx, folioID, AddItemRequest{
			Description: itemDescription(line),
			Amount:      lineAmount(line),
			Source:      enum.FolioSourcePOS,
			CreatedBy:   session.OpenedBy.String(),
		}); err != nil {
			return fmt.Errorf("add folio item: %w", err)
		}
	}
	return nil
}

func itemDescription(line database.OrderLine) string {
	if line.Quantity > 1 {
		return fmt.Sprintf("%dx %s", line.Quantity, line.Description)
	}
	return line.Description
}

func lineAmount(line database.OrderLine) decimal.Decimal {
	val, err := line.Total.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// writeServiceError maps the engine's error kinds onto HTTP statuses. Stale
// splits get a machine-readable code so the UI can drop into re-split mode.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrStaleSplit):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
			"code":  "stale_split",
		})
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, pgx.ErrNoRows):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// --- Response types ---

type sessionResponse struct {
	ID            uuid.UUID  `json:"id"`
	OutletID      uuid.UUID  `json:"outlet_id"`
	TableID       uuid.UUID  `json:"table_id"`
	Status        string     `json:"status"`
	Customers     int32      `json:"customers"`
	SaleID        uuid.UUID  `json:"sale_id"`
	CustomerID    *string    `json:"customer_id"`
	FolioID       *string    `json:"folio_id"`
	ReservationID *string    `json:"reservation_id"`
	OpenedBy      uuid.UUID  `json:"opened_by"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at"`
}

type lineResponse struct {
	ID             uuid.UUID  `json:"id"`
	SessionID      uuid.UUID  `json:"session_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	Description    string     `json:"description"`
	Quantity       int32      `json:"quantity"`
	UnitPrice      string     `json:"unit_price"`
	TaxAmount      string     `json:"tax_amount"`
	DiscountAmount string     `json:"discount_amount"`
	Total          string     `json:"total"`
	PaidAt         *time.Time `json:"paid_at"`
	SplitID        *string    `json:"split_id"`
	CreatedAt      time.Time  `json:"created_at"`
}

type splitResponse struct {
	ID     uuid.UUID  `json:"id"`
	Name   string     `json:"name"`
	Batch  int32      `json:"batch"`
	Seq    int32      `json:"seq"`
	Kind   string     `json:"kind"`
	Total  string     `json:"total"`
	PaidAt *time.Time `json:"paid_at"`
}

type tableStateResponse struct {
	Session sessionResponse `json:"session"`
	Lines   []lineResponse  `json:"lines"`
	Splits  []splitResponse `json:"splits"`
}

// --- Converters ---

func toSessionResponse(s database.TableSession) sessionResponse {
	return sessionResponse{
		ID:            s.ID,
		OutletID:      s.OutletID,
		TableID:       s.TableID,
		Status:        s.Status,
		Customers:     s.Customers,
		SaleID:        s.SaleID,
		CustomerID:    pgUUIDPtr(s.CustomerID),
		FolioID:       pgTextPtr(s.FolioID),
		ReservationID: pgTextPtr(s.ReservationID),
		OpenedBy:      s.OpenedBy,
		OpenedAt:      s.OpenedAt.Time,
		ClosedAt:      pgTimePtr(s.ClosedAt),
	}
}

func toLineResponse(l database.OrderLine) lineResponse {
	return lineResponse{
		ID:             l.ID,
		SessionID:      l.SessionID,
		ProductID:      l.ProductID,
		Description:    l.Description,
		Quantity:       l.Quantity,
		UnitPrice:      numericString(l.UnitPrice),
		TaxAmount:      numericString(l.TaxAmount),
		DiscountAmount: numericString(l.DiscountAmount),
		Total:          numericString(l.Total),
		PaidAt:         pgTimePtr(l.PaidAt),
		SplitID:        pgUUIDPtr(l.SplitID),
		CreatedAt:      l.CreatedAt.Time,
	}
}

func toSplitResponse(s database.BillSplit) splitResponse {
	return splitResponse{
		ID:     s.ID,
		Name:   s.Name,
		Batch:  s.Batch,
		Seq:    s.Seq,
		Kind:   s.Kind,
		Total:  numericString(s.Total),
		PaidAt: pgTimePtr(s.PaidAt),
	}
}

func toLineResponses(lines []database.OrderLine) []lineResponse {
	out := make([]lineResponse, len(lines))
	for i, l := range lines {
		out[i] = toLineResponse(l)
	}
	return out
}

func toSplitResponses(splits []database.BillSplit) []splitResponse {
	out := make([]splitResponse, len(splits))
	for i, s := range splits {
		out[i] = toSplitResponse(s)
	}
	return out
}

// --- pgtype helpers ---

func numericString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	return val.(string)
}

func pgTimePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func pgTextPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgUUIDPtr(u pgtype.UUID) *string {
	if !u.Valid {
		return nil
	}
	s := uuid.UUID(u.Bytes).String()
	return &s
}

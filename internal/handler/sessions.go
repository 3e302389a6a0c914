package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/service"
	"github.com/comanda-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionServicer defines the session-manager methods needed by session and
// line handlers. Satisfied by *service.SessionManager.
type SessionServicer interface {
	AddItems(ctx context.Context, sessionID uuid.UUID, items []service.NewItem) ([]database.OrderLine, error)
	UpdateQuantity(ctx context.Context, lineID uuid.UUID, quantity int32) (database.OrderLine, error)
	DeleteItem(ctx context.Context, lineID uuid.UUID) error
	TransferItem(ctx context.Context, lineID, targetTableID uuid.UUID, quantity int32) error
	RequestBill(ctx context.Context, sessionID uuid.UUID) (database.TableSession, error)
	AssignCustomer(ctx context.Context, req service.EnsureSessionRequest, customerID uuid.UUID) (database.TableSession, error)
	LinkFolio(ctx context.Context, sessionID uuid.UUID, folioID string, customerID uuid.UUID, reservationID string) (database.TableSession, error)
}

// SessionReader resolves sessions and lines for event broadcasting.
// Satisfied by *database.Queries.
type SessionReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (database.TableSession, error)
	GetLine(ctx context.Context, id uuid.UUID) (database.OrderLine, error)
}

// SessionHandler handles order-line and session endpoints.
type SessionHandler struct {
	svc   SessionServicer
	store SessionReader
	hub   *ws.Hub
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(svc SessionServicer, store SessionReader, hub *ws.Hub) *SessionHandler {
	return &SessionHandler{svc: svc, store: store, hub: hub}
}

// RegisterRoutes registers session endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{id}/items", h.AddItems)
	r.Post("/sessions/{id}/bill", h.RequestBill)
	r.Post("/sessions/{id}/customer", h.AssignCustomer)
	r.Post("/sessions/{id}/folio", h.LinkFolio)
	r.Patch("/lines/{id}", h.UpdateLine)
	r.Delete("/lines/{id}", h.DeleteLine)
	r.Post("/lines/{id}/transfer", h.TransferLine)
}

// --- Request types ---

type addItemsRequest struct {
	Items []addItemRequest `json:"items"`
}

type addItemRequest struct {
	ProductID      string `json:"product_id"`
	Description    string `json:"description"`
	Quantity       int32  `json:"quantity"`
	UnitPrice      string `json:"unit_price"`
	TaxAmount      string `json:"tax_amount"`
	DiscountAmount string `json:"discount_amount"`
}

type updateLineRequest struct {
	Quantity int32 `json:"quantity"`
}

type transferLineRequest struct {
	TableID  string `json:"table_id"`
	Quantity int32  `json:"quantity"`
}

type assignCustomerRequest struct {
	CustomerID string `json:"customer_id"`
	Customers  int32  `json:"customers"`
}

type linkFolioRequest struct {
	FolioID       string `json:"folio_id"`
	CustomerID    string `json:"customer_id"`
	ReservationID string `json:"reservation_id"`
}

// --- Handlers ---

// AddItems handles POST /outlets/{oid}/sessions/{id}/items.
func (h *SessionHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	var req addItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items are required"})
		return
	}

	items := make([]service.NewItem, len(req.Items))
	for i, item := range req.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": formatItemError(i, "invalid product_id"),
			})
			return
		}
		if item.Description == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": formatItemError(i, "description is required"),
			})
			return
		}
		unitPrice, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": formatItemError(i, "invalid unit_price"),
			})
			return
		}
		tax, err := parseOptionalDecimal(item.TaxAmount)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": formatItemError(i, "invalid tax_amount"),
			})
			return
		}
		discount, err := parseOptionalDecimal(item.DiscountAmount)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": formatItemError(i, "invalid discount_amount"),
			})
			return
		}
		items[i] = service.NewItem{
			ProductID:      productID,
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitPrice:      unitPrice,
			TaxAmount:      tax,
			DiscountAmount: discount,
		}
	}

	lines, err := h.svc.AddItems(r.Context(), sessionID, items)
	if err != nil {
		writeServiceError(w, "add items", err)
		return
	}

	h.broadcastSession(r.Context(), sessionID, ws.EventLinesChanged)
	writeJSON(w, http.StatusCreated, map[string]any{"lines": toLineResponses(lines)})
}

// UpdateLine handles PATCH /outlets/{oid}/lines/{id}.
func (h *SessionHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid line ID"})
		return
	}

	var req updateLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	line, err := h.svc.UpdateQuantity(r.Context(), lineID, req.Quantity)
	if err != nil {
		writeServiceError(w, "update line", err)
		return
	}

	h.broadcastSession(r.Context(), line.SessionID, ws.EventLinesChanged)
	writeJSON(w, http.StatusOK, toLineResponse(line))
}

// DeleteLine handles DELETE /outlets/{oid}/lines/{id}.
func (h *SessionHandler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid line ID"})
		return
	}

	line, err := h.store.GetLine(r.Context(), lineID)
	if err != nil {
		writeServiceError(w, "get line", err)
		return
	}
	if err := h.svc.DeleteItem(r.Context(), lineID); err != nil {
		writeServiceError(w, "delete line", err)
		return
	}

	h.broadcastSession(r.Context(), line.SessionID, ws.EventLinesChanged)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// TransferLine handles POST /outlets/{oid}/lines/{id}/transfer.
func (h *SessionHandler) TransferLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid line ID"})
		return
	}

	var req transferLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	targetID, err := uuid.Parse(req.TableID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table_id"})
		return
	}

	line, err := h.store.GetLine(r.Context(), lineID)
	if err != nil {
		writeServiceError(w, "get line", err)
		return
	}
	if err := h.svc.TransferItem(r.Context(), lineID, targetID, req.Quantity); err != nil {
		writeServiceError(w, "transfer line", err)
		return
	}

	h.broadcastSession(r.Context(), line.SessionID, ws.EventLinesChanged)
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

// RequestBill handles POST /outlets/{oid}/sessions/{id}/bill.
func (h *SessionHandler) RequestBill(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	session, err := h.svc.RequestBill(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, "request bill", err)
		return
	}

	h.hub.BroadcastToOutlet(session.OutletID, ws.TableEvent(ws.EventBillRequested, session.TableID, session.ID))
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// AssignCustomer handles POST /outlets/{oid}/sessions/{id}/customer.
func (h *SessionHandler) AssignCustomer(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	var req assignCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid customer_id"})
		return
	}

	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, "get session", err)
		return
	}

	session, err = h.svc.AssignCustomer(r.Context(), service.EnsureSessionRequest{
		OutletID:  session.OutletID,
		TableID:   session.TableID,
		OpenedBy:  session.OpenedBy,
		Customers: req.Customers,
	}, customerID)
	if err != nil {
		writeServiceError(w, "assign customer", err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// LinkFolio handles POST /outlets/{oid}/sessions/{id}/folio.
func (h *SessionHandler) LinkFolio(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	var req linkFolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.FolioID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "folio_id is required"})
		return
	}
	customerID := uuid.Nil
	if req.CustomerID != "" {
		customerID, err = uuid.Parse(req.CustomerID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid customer_id"})
			return
		}
	}

	session, err := h.svc.LinkFolio(r.Context(), sessionID, req.FolioID, customerID, req.ReservationID)
	if err != nil {
		writeServiceError(w, "link folio", err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// --- Helpers ---

func (h *SessionHandler) broadcastSession(ctx context.Context, sessionID uuid.UUID, eventType string) {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	h.hub.BroadcastToOutlet(session.OutletID, ws.TableEvent(eventType, session.TableID, session.ID))
}

func formatItemError(index int, msg string) string {
	return fmt.Sprintf("items[%d]: %s", index, msg)
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

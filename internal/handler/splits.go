package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/service"
	"github.com/comanda-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PaymentServicer defines the coordinator methods needed by split handlers.
// Satisfied by *service.PaymentCoordinator.
type PaymentServicer interface {
	Plan(ctx context.Context, sessionID uuid.UUID, reqs []service.SplitRequest) ([]service.PlannedSplit, error)
	ConfirmSplit(ctx context.Context, sessionID uuid.UUID, reqs []service.SplitRequest) ([]database.BillSplit, error)
	SelectSplitToPay(ctx context.Context, sessionID, splitID uuid.UUID) error
	ConfirmPayment(ctx context.Context, sessionID, splitID uuid.UUID, method string) (database.BillSplit, error)
	Status(ctx context.Context, sessionID uuid.UUID) (service.PaymentStatus, error)
	FinishWithPartialPayments(ctx context.Context, sessionID uuid.UUID, forceClose bool) error
}

// SplitHandler handles bill-splitting and payment endpoints.
type SplitHandler struct {
	svc   PaymentServicer
	store SessionReader
	hub   *ws.Hub
}

// NewSplitHandler creates a new SplitHandler.
func NewSplitHandler(svc PaymentServicer, store SessionReader, hub *ws.Hub) *SplitHandler {
	return &SplitHandler{svc: svc, store: store, hub: hub}
}

// RegisterRoutes registers split endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}
func (h *SplitHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{id}/splits/plan", h.Plan)
	r.Post("/sessions/{id}/splits", h.Confirm)
	r.Get("/sessions/{id}/payment", h.Status)
	r.Post("/sessions/{id}/splits/{sid}/select", h.Select)
	r.Post("/sessions/{id}/splits/{sid}/pay", h.Pay)
	r.Post("/sessions/{id}/finish", h.Finish)
}

// --- Request / Response types ---

type splitBatchRequest struct {
	Splits []splitRequest `json:"splits"`
}

type splitRequest struct {
	Name  string             `json:"name"`
	Items []splitItemRequest `json:"items"`
}

type splitItemRequest struct {
	LineID   string `json:"line_id"`
	Quantity int32  `json:"quantity"`
}

type payRequest struct {
	Method string `json:"method"`
}

type finishRequest struct {
	ForceClose bool `json:"force_close"`
}

type plannedSplitResponse struct {
	Name  string `json:"name"`
	Seq   int32  `json:"seq"`
	Kind  string `json:"kind"`
	Total string `json:"total"`
}

type paymentStatusResponse struct {
	State             string          `json:"state"`
	Splits            []splitResponse `json:"splits"`
	SelectedSplitID   *uuid.UUID      `json:"selected_split_id,omitempty"`
	UnassignedLineIDs []uuid.UUID     `json:"unassigned_line_ids,omitempty"`
}

// --- Handlers ---

// Plan handles POST /outlets/{oid}/sessions/{id}/splits/plan. Dry run: the
// response is what Confirm would persist, nothing is written.
func (h *SplitHandler) Plan(w http.ResponseWriter, r *http.Request) {
	sessionID, reqs, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}

	planned, err := h.svc.Plan(r.Context(), sessionID, reqs)
	if err != nil {
		writeServiceError(w, "plan split", err)
		return
	}

	resp := make([]plannedSplitResponse, len(planned))
	for i, p := range planned {
		resp[i] = plannedSplitResponse{
			Name:  p.Name,
			Seq:   p.Seq,
			Kind:  p.Kind,
			Total: p.Total.StringFixed(2),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"splits": resp})
}

// Confirm handles POST /outlets/{oid}/sessions/{id}/splits.
func (h *SplitHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sessionID, reqs, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}

	splits, err := h.svc.ConfirmSplit(r.Context(), sessionID, reqs)
	if err != nil {
		writeServiceError(w, "confirm split", err)
		return
	}

	h.broadcastSession(r.Context(), sessionID, ws.EventSplitUpdated)
	writeJSON(w, http.StatusCreated, map[string]any{"splits": toSplitResponses(splits)})
}

// Status handles GET /outlets/{oid}/sessions/{id}/payment.
func (h *SplitHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	status, err := h.svc.Status(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, "payment status", err)
		return
	}

	resp := paymentStatusResponse{
		State:             status.State,
		Splits:            toSplitResponses(status.Splits),
		UnassignedLineIDs: status.UnassignedLineIDs,
	}
	if status.SelectedSplitID != uuid.Nil {
		resp.SelectedSplitID = &status.SelectedSplitID
	}
	writeJSON(w, http.StatusOK, resp)
}

// Select handles POST /outlets/{oid}/sessions/{id}/splits/{sid}/select.
func (h *SplitHandler) Select(w http.ResponseWriter, r *http.Request) {
	sessionID, splitID, ok := sessionSplitIDs(w, r)
	if !ok {
		return
	}

	if err := h.svc.SelectSplitToPay(r.Context(), sessionID, splitID); err != nil {
		writeServiceError(w, "select split", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "selected"})
}

// Pay handles POST /outlets/{oid}/sessions/{id}/splits/{sid}/pay.
func (h *SplitHandler) Pay(w http.ResponseWriter, r *http.Request) {
	sessionID, splitID, ok := sessionSplitIDs(w, r)
	if !ok {
		return
	}

	var req payRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	split, err := h.svc.ConfirmPayment(r.Context(), sessionID, splitID, req.Method)
	if err != nil {
		writeServiceError(w, "confirm payment", err)
		return
	}

	h.broadcastSession(r.Context(), sessionID, ws.EventSplitPaid)
	writeJSON(w, http.StatusOK, toSplitResponse(split))
}

// Finish handles POST /outlets/{oid}/sessions/{id}/finish.
func (h *SplitHandler) Finish(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	var req finishRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, "get session", err)
		return
	}
	if err := h.svc.FinishWithPartialPayments(r.Context(), sessionID, req.ForceClose); err != nil {
		writeServiceError(w, "finish session", err)
		return
	}

	h.hub.BroadcastToOutlet(session.OutletID, ws.TableEvent(ws.EventTableReleased, session.TableID, sessionID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "finished"})
}

// --- Helpers ---

func sessionSplitIDs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return uuid.Nil, uuid.Nil, false
	}
	splitID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid split ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return sessionID, splitID, true
}

func (h *SplitHandler) decodeBatch(w http.ResponseWriter, r *http.Request) (uuid.UUID, []service.SplitRequest, bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return uuid.Nil, nil, false
	}

	var req splitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return uuid.Nil, nil, false
	}
	if len(req.Splits) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "splits are required"})
		return uuid.Nil, nil, false
	}

	reqs := make([]service.SplitRequest, len(req.Splits))
	for i, s := range req.Splits {
		items := make([]service.SplitItemRequest, len(s.Items))
		for j, item := range s.Items {
			lineID, err := uuid.Parse(item.LineID)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": formatItemError(j, "invalid line_id"),
				})
				return uuid.Nil, nil, false
			}
			items[j] = service.SplitItemRequest{LineID: lineID, Quantity: item.Quantity}
		}
		reqs[i] = service.SplitRequest{Name: s.Name, Items: items}
	}
	return sessionID, reqs, true
}

func (h *SplitHandler) broadcastSession(ctx context.Context, sessionID uuid.UUID, eventType string) {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	h.hub.BroadcastToOutlet(session.OutletID, ws.TableEvent(eventType, session.TableID, session.ID))
}

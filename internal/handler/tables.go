package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/service"
	"github.com/comanda-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TableServicer defines the session-manager methods needed by table handlers.
// Satisfied by *service.SessionManager; narrow interface for testability.
type TableServicer interface {
	GetTableState(ctx context.Context, outletID, tableID uuid.UUID) (service.TableState, error)
	EnsureSession(ctx context.Context, req service.EnsureSessionRequest) (database.TableSession, error)
	MergeSessions(ctx context.Context, outletID, primaryTableID uuid.UUID, mergeTableIDs []uuid.UUID, mergedBy uuid.UUID) (database.TableSession, error)
}

// TableReleaser closes a table through the payment coordinator so the
// fully-paid check and selection cleanup happen in one place.
// Satisfied by *service.PaymentCoordinator.
type TableReleaser interface {
	Release(ctx context.Context, outletID, tableID uuid.UUID, force bool) error
}

// TableHandler handles the table-level endpoints of one outlet.
type TableHandler struct {
	svc      TableServicer
	releaser TableReleaser
	hub      *ws.Hub
}

// NewTableHandler creates a new TableHandler.
func NewTableHandler(svc TableServicer, releaser TableReleaser, hub *ws.Hub) *TableHandler {
	return &TableHandler{svc: svc, releaser: releaser, hub: hub}
}

// RegisterRoutes registers table endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}
func (h *TableHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tables/{tid}", h.GetState)
	r.Post("/tables/{tid}/session", h.OpenSession)
	r.Post("/tables/{tid}/release", h.Release)
	r.Post("/tables/merge", h.Merge)
}

// --- Request types ---

type openSessionRequest struct {
	Customers int32 `json:"customers"`
}

type releaseRequest struct {
	Force bool `json:"force"`
}

type mergeRequest struct {
	PrimaryTableID string   `json:"primary_table_id"`
	TableIDs       []string `json:"table_ids"`
}

// --- Handlers ---

// GetState handles GET /outlets/{oid}/tables/{tid}. A free table is a 404,
// not an empty session; reads never open sessions.
func (h *TableHandler) GetState(w http.ResponseWriter, r *http.Request) {
	outletID, tableID, ok := outletTableIDs(w, r)
	if !ok {
		return
	}

	state, err := h.svc.GetTableState(r.Context(), outletID, tableID)
	if err != nil {
		writeServiceError(w, "get table state", err)
		return
	}

	writeJSON(w, http.StatusOK, tableStateResponse{
		Session: toSessionResponse(state.Session),
		Lines:   toLineResponses(state.Lines),
		Splits:  toSplitResponses(state.Splits),
	})
}

// OpenSession handles POST /outlets/{oid}/tables/{tid}/session.
func (h *TableHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	outletID, tableID, ok := outletTableIDs(w, r)
	if !ok {
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req openSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	session, err := h.svc.EnsureSession(r.Context(), service.EnsureSessionRequest{
		OutletID:  outletID,
		TableID:   tableID,
		OpenedBy:  claims.UserID,
		Customers: req.Customers,
	})
	if err != nil {
		writeServiceError(w, "open session", err)
		return
	}

	h.hub.BroadcastToOutlet(outletID, ws.TableEvent(ws.EventSessionOpened, tableID, session.ID))
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// Release handles POST /outlets/{oid}/tables/{tid}/release.
func (h *TableHandler) Release(w http.ResponseWriter, r *http.Request) {
	outletID, tableID, ok := outletTableIDs(w, r)
	if !ok {
		return
	}

	var req releaseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	if err := h.releaser.Release(r.Context(), outletID, tableID, req.Force); err != nil {
		writeServiceError(w, "release table", err)
		return
	}

	h.hub.BroadcastToOutlet(outletID, ws.TableEvent(ws.EventTableReleased, tableID, uuid.Nil))
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// Merge handles POST /outlets/{oid}/tables/merge.
func (h *TableHandler) Merge(w http.ResponseWriter, r *http.Request) {
	outletID, err := uuid.Parse(chi.URLParam(r, "oid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outlet ID"})
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	primaryID, err := uuid.Parse(req.PrimaryTableID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid primary_table_id"})
		return
	}
	if len(req.TableIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "table_ids are required"})
		return
	}
	mergeIDs := make([]uuid.UUID, len(req.TableIDs))
	for i, s := range req.TableIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table id: " + s})
			return
		}
		mergeIDs[i] = id
	}

	session, err := h.svc.MergeSessions(r.Context(), outletID, primaryID, mergeIDs, claims.UserID)
	if err != nil {
		writeServiceError(w, "merge tables", err)
		return
	}

	h.hub.BroadcastToOutlet(outletID, ws.TableEvent(ws.EventTablesMerged, primaryID, session.ID))
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// --- Helpers ---

func outletTableIDs(w http.ResponseWriter, r *http.Request) (outletID, tableID uuid.UUID, ok bool) {
	outletID, err := uuid.Parse(chi.URLParam(r, "oid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outlet ID"})
		return uuid.Nil, uuid.Nil, false
	}
	tableID, err = uuid.Parse(chi.URLParam(r, "tid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return outletID, tableID, true
}

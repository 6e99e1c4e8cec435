package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voicebridge-ai/voicebridge/internal/call"
	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

// callbackStore is the callback-request persistence surface.
type callbackStore interface {
	ListCallbacks(ctx context.Context, tenantID string) ([]call.CallbackRequest, error)
	UpdateCallbackStatus(ctx context.Context, tenantID, id string, status call.CallbackStatus) error
}

// CallbacksHandler lets operators work the human-callback queue.
type CallbacksHandler struct {
	store  callbackStore
	logger *logging.Logger
}

// NewCallbacksHandler creates a CallbacksHandler.
func NewCallbacksHandler(store callbackStore, logger *logging.Logger) *CallbacksHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallbacksHandler{store: store, logger: logger}
}

// List is the HTTP handler for GET /voice/{tenantID}/callbacks.
func (h *CallbacksHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(r)

	callbacks, err := h.store.ListCallbacks(ctx, tenantID)
	if err != nil {
		h.logger.WithTenant(tenantID).Error("callbacks: list failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if status := call.CallbackStatus(r.URL.Query().Get("status")); status != "" {
		filtered := callbacks[:0]
		for _, cb := range callbacks {
			if cb.Status == status {
				filtered = append(filtered, cb)
			}
		}
		callbacks = filtered
	}
	if callbacks == nil {
		callbacks = []call.CallbackRequest{}
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"callbacks": callbacks})
}

type updateCallbackRequest struct {
	Status call.CallbackStatus `json:"status"`
}

// Update is the HTTP handler for PATCH /voice/{tenantID}/callbacks/{callbackID}.
func (h *CallbacksHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(r)
	callbackID := chi.URLParam(r, "callbackID")

	var req updateCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.store.UpdateCallbackStatus(ctx, tenantID, callbackID, req.Status)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, call.ErrInvalidCallbackStatus):
		http.Error(w, "invalid status", http.StatusBadRequest)
	case errors.Is(err, call.ErrCallbackNotFound):
		http.Error(w, "callback not found", http.StatusNotFound)
	default:
		h.logger.WithTenant(tenantID).Error("callbacks: update failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

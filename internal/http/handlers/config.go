package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voicebridge-ai/voicebridge/internal/tenant"
	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

// configStore is the tenant configuration persistence surface.
type configStore interface {
	Save(ctx context.Context, cfg *tenant.Config) error
	Get(ctx context.Context, tenantID string) (*tenant.Config, error)
}

// configInvalidator drops cached vendor clients after a config change.
type configInvalidator interface {
	Invalidate(tenantID string)
}

// ConfigHandler manages stored per-tenant configuration.
type ConfigHandler struct {
	store    configStore
	resolver configInvalidator
	logger   *logging.Logger
}

// ConfigHandlerConfig configures the ConfigHandler.
type ConfigHandlerConfig struct {
	Store    configStore
	Resolver configInvalidator
	Logger   *logging.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(cfg ConfigHandlerConfig) *ConfigHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &ConfigHandler{store: cfg.Store, resolver: cfg.Resolver, logger: cfg.Logger}
}

// Put is the HTTP handler for PUT /voice/{tenantID}/config. The stored
// config must be complete; partial updates are done by reading first.
func (h *ConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(r)

	var cfg tenant.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	// The path owns the tenant identity; a mismatched body is ignored.
	cfg.TenantID = tenantID

	if err := cfg.Validate(); err != nil {
		var verr *tenant.ValidationError
		if errors.As(err, &verr) {
			writeJSONStatus(w, http.StatusBadRequest, map[string]any{
				"error":   "invalid configuration",
				"missing": verr.Missing,
			})
			return
		}
		http.Error(w, "invalid configuration", http.StatusBadRequest)
		return
	}

	if err := h.store.Save(ctx, &cfg); err != nil {
		h.logger.WithTenant(tenantID).Error("config: save failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if h.resolver != nil {
		h.resolver.Invalidate(tenantID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get is the HTTP handler for GET /voice/{tenantID}/config. Secrets are
// masked; the plaintext never leaves the service.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(r)

	cfg, err := h.store.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrConfigNotFound) {
			http.Error(w, "config not found", http.StatusNotFound)
			return
		}
		h.logger.WithTenant(tenantID).Error("config: get failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, cfg.Redacted())
}

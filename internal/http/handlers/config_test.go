package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge-ai/voicebridge/internal/tenant"
)

type fakeConfigStore struct {
	saved       *tenant.Config
	stored      *tenant.Config
	err         error
	invalidated []string
}

func (f *fakeConfigStore) Save(ctx context.Context, cfg *tenant.Config) error {
	f.saved = cfg
	return f.err
}

func (f *fakeConfigStore) Get(ctx context.Context, tenantID string) (*tenant.Config, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stored, nil
}

func (f *fakeConfigStore) Invalidate(tenantID string) {
	f.invalidated = append(f.invalidated, tenantID)
}

func configRouter(h *ConfigHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/voice/{tenantID}/config", func(r chi.Router) {
		r.Put("/", h.Put)
		r.Get("/", h.Get)
	})
	return r
}

func fullConfigJSON() string {
	cfg := tenant.Config{
		TenantID: "ignored-by-server",
		Telephony: tenant.TelephonyConfig{
			AccountSID: "AC123", AuthToken: "tok", FromNumber: "+15550001111",
		},
		LLM:     tenant.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Persona: tenant.Persona{Name: "Sarah", Prompt: "You are Sarah."},
	}
	body, _ := json.Marshal(cfg)
	return string(body)
}

func TestConfigPutSavesAndInvalidates(t *testing.T) {
	store := &fakeConfigStore{}
	h := NewConfigHandler(ConfigHandlerConfig{Store: store, Resolver: store})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/voice/acme/config", strings.NewReader(fullConfigJSON()))
	configRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, store.saved)
	assert.Equal(t, "acme", store.saved.TenantID, "path tenant must override the body")
	assert.Equal(t, []string{"acme"}, store.invalidated)
}

func TestConfigPutRejectsIncomplete(t *testing.T) {
	store := &fakeConfigStore{}
	h := NewConfigHandler(ConfigHandlerConfig{Store: store, Resolver: store})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/voice/acme/config",
		strings.NewReader(`{"persona": {"name": "Sarah"}}`))
	configRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Missing []string `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Missing, "telephony.account_sid")
	assert.Nil(t, store.saved)
}

func TestConfigGetRedactsSecrets(t *testing.T) {
	store := &fakeConfigStore{stored: &tenant.Config{
		TenantID: "acme",
		Telephony: tenant.TelephonyConfig{
			AccountSID: "AC123", AuthToken: "super-secret", FromNumber: "+15550001111",
		},
		LLM:     tenant.LLMConfig{Provider: "openai", APIKey: "sk-live", Model: "gpt-4o-mini"},
		Persona: tenant.Persona{Name: "Sarah", Prompt: "You are Sarah."},
	}}
	h := NewConfigHandler(ConfigHandlerConfig{Store: store, Resolver: store})

	rec := httptest.NewRecorder()
	configRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/acme/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "super-secret")
	assert.NotContains(t, body, "sk-live")
	assert.Contains(t, body, "AC123", "account sid is not a secret")
}

func TestConfigGetNotFound(t *testing.T) {
	store := &fakeConfigStore{err: tenant.ErrConfigNotFound}
	h := NewConfigHandler(ConfigHandlerConfig{Store: store, Resolver: store})

	rec := httptest.NewRecorder()
	configRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/acme/config", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

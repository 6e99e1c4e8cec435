package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/voicebridge-ai/voicebridge/internal/tenant"
)

func TestTenantContextLiftsRouteParam(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/voice/{tenantID}", func(r chi.Router) {
		r.Use(TenantContext)
		r.Get("/check", func(w http.ResponseWriter, req *http.Request) {
			id, ok := tenant.TenantIDFromContext(req.Context())
			if !ok || id != "acme" {
				t.Fatalf("tenant in context: got %q ok=%v", id, ok)
			}
			w.WriteHeader(http.StatusOK)
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/acme/check", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequestLoggerPassesThrough(t *testing.T) {
	mw := RequestLogger(nil)
	rec := httptest.NewRecorder()
	called := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if !called || rec.Code != http.StatusNoContent {
		t.Fatalf("handler not invoked cleanly: called=%v code=%d", called, rec.Code)
	}
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/voicebridge-ai/voicebridge/internal/tenant"
)

// TenantContext lifts the {tenantID} route parameter into the request
// context. Every route under /voice/{tenantID} runs behind this, so
// handlers and stores never see a request without a tenant.
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
		if tenantID == "" {
			http.Error(w, "missing tenant id", http.StatusNotFound)
			return
		}
		ctx := tenant.WithTenantID(r.Context(), tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

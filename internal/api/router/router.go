// Package router assembles the HTTP surface: vendor webhooks, the
// operator API, and operational endpoints.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voicebridge-ai/voicebridge/internal/http/handlers"
	httpmiddleware "github.com/voicebridge-ai/voicebridge/internal/http/middleware"
	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger    *logging.Logger
	Voice     *handlers.VoiceHandler
	TenantCfg *handlers.ConfigHandler
	Callbacks *handlers.CallbacksHandler

	// OperatorAuthSecret protects the operator API. Webhook routes are
	// authenticated by vendor request signatures instead.
	OperatorAuthSecret string
	MetricsHandler     http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/voice/{tenantID}", func(r chi.Router) {
		r.Use(httpmiddleware.TenantContext)

		// Vendor webhooks. The telephony provider posts here mid-call, so
		// these cannot sit behind bearer auth.
		r.Post("/inbound", cfg.Voice.Inbound)
		r.Post("/status", cfg.Voice.Status)
		r.Post("/calls/{callID}", cfg.Voice.Turn)
		r.Post("/calls/{callID}/turn", cfg.Voice.Turn)
		r.Post("/calls/{callID}/status", cfg.Voice.Status)
		r.Get("/calls/{callID}/audio", cfg.Voice.Audio)

		// Operator API.
		r.Group(func(op chi.Router) {
			op.Use(httpmiddleware.OperatorJWT(cfg.OperatorAuthSecret))
			op.Post("/outbound", cfg.Voice.StartCall)
			op.Get("/calls/{callID}", cfg.Voice.GetCall)
			op.Get("/calls/{callID}/recording", cfg.Voice.Recording)
			op.Get("/analytics", cfg.Voice.Analytics)
			if cfg.TenantCfg != nil {
				op.Put("/config", cfg.TenantCfg.Put)
				op.Get("/config", cfg.TenantCfg.Get)
			}
			if cfg.Callbacks != nil {
				op.Get("/callbacks", cfg.Callbacks.List)
				op.Patch("/callbacks/{callbackID}", cfg.Callbacks.Update)
			}
		})
	})

	return r
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/voicebridge-ai/voicebridge/internal/call"
	"github.com/voicebridge-ai/voicebridge/internal/engine"
	"github.com/voicebridge-ai/voicebridge/internal/gateway/telephony"
	"github.com/voicebridge-ai/voicebridge/internal/tenant"
	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

var voiceTracer = otel.Tracer("voicebridge.internal.http.voice")

// callEngine is the engine surface the voice handler drives.
type callEngine interface {
	StartOutbound(ctx context.Context, tenantID string, req engine.OutboundRequest) (*call.Conversation, error)
	HandleInbound(ctx context.Context, tenantID string, ev engine.WebhookEvent) (*telephony.TwiML, error)
	HandleTurn(ctx context.Context, tenantID, conversationID string, ev engine.WebhookEvent) (*telephony.TwiML, error)
	HandleStatus(ctx context.Context, tenantID string, ev engine.WebhookEvent)
	AudioFor(ctx context.Context, callID string) ([]byte, error)
}

// conversationReader is the read side of the conversation store.
type conversationReader interface {
	GetByID(ctx context.Context, tenantID, id string) (*call.Conversation, error)
	Analytics(ctx context.Context, tenantID string, from, to *time.Time) (*call.Analytics, error)
}

// bundleResolver resolves tenant vendor clients for the recording proxy
// and webhook signature validation.
type bundleResolver interface {
	Resolve(ctx context.Context, tenantID string) (*tenant.Bundle, error)
}

// VoiceHandler serves the telephony webhooks and the operator call API.
type VoiceHandler struct {
	engine   callEngine
	store    conversationReader
	resolver bundleResolver
	baseURL  string
	logger   *logging.Logger
}

// VoiceHandlerConfig configures the VoiceHandler.
type VoiceHandlerConfig struct {
	Engine   callEngine
	Store    conversationReader
	Resolver bundleResolver
	// PublicBaseURL reconstructs the external webhook URL for signature
	// validation behind proxies.
	PublicBaseURL string
	Logger        *logging.Logger
}

// NewVoiceHandler creates a VoiceHandler.
func NewVoiceHandler(cfg VoiceHandlerConfig) *VoiceHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &VoiceHandler{
		engine:   cfg.Engine,
		store:    cfg.Store,
		resolver: cfg.Resolver,
		baseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:   cfg.Logger,
	}
}

type startCallRequest struct {
	To     string         `json:"to"`
	Config *tenant.Config `json:"config,omitempty"`
}

// StartCall is the HTTP handler for POST /voice/{tenantID}/outbound.
func (h *VoiceHandler) StartCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(r)

	var req startCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.engine.StartOutbound(ctx, tenantID, engine.OutboundRequest{
		To:     req.To,
		Config: req.Config,
	})
	if err != nil {
		var verr *tenant.ValidationError
		if errors.As(err, &verr) {
			writeJSONStatus(w, http.StatusBadRequest, map[string]any{
				"error":   "invalid configuration",
				"missing": verr.Missing,
			})
			return
		}
		h.logger.WithTenant(tenantID).Error("voice: start call failed", "error", err)
		writeJSONStatus(w, http.StatusBadGateway, map[string]any{"error": "call could not be placed"})
		return
	}
	writeJSONStatus(w, http.StatusCreated, conv)
}

// Inbound is the HTTP handler for POST /voice/{tenantID}/inbound.
func (h *VoiceHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(r)

	if !h.verifySignature(ctx, tenantID, r) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	ev := webhookEvent(r)

	doc, err := h.engine.HandleInbound(ctx, tenantID, ev)
	if err != nil {
		h.logger.WithTenant(tenantID).Error("voice: inbound failed", "error", err, "call_id", ev.CallID)
		h.writeTwiML(w, failureTwiML())
		return
	}
	h.writeTwiML(w, doc)
}

// Turn is the HTTP handler for POST /voice/{tenantID}/calls/{callID} and
// its /turn variant. The caller's utterance arrives here and the response
// body tells the vendor what to say next.
func (h *VoiceHandler) Turn(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	conversationID := chi.URLParam(r, "callID")

	ctx, span := voiceTracer.Start(r.Context(), "voice.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("voicebridge.tenant_id", tenantID),
		attribute.String("voicebridge.conversation_id", conversationID),
	)

	if !h.verifySignature(ctx, tenantID, r) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	ev := webhookEvent(r)

	doc, err := h.engine.HandleTurn(ctx, tenantID, conversationID, ev)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, engine.ErrUnknownCall) {
			http.Error(w, "call not found", http.StatusNotFound)
			return
		}
		// The caller is still on the line; end the call politely rather
		// than leaving dead air.
		h.logger.WithTenant(tenantID).Error("voice: turn failed", "error", err, "conversation_id", conversationID)
		h.writeTwiML(w, failureTwiML())
		return
	}
	h.writeTwiML(w, doc)
}

// Status is the HTTP handler for the vendor's lifecycle callbacks, posted
// both tenant-wide and per call. It always succeeds so the vendor never
// retries or drops the channel.
func (h *VoiceHandler) Status(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)

	ctx, span := voiceTracer.Start(r.Context(), "voice.status")
	defer span.End()
	span.SetAttributes(attribute.String("voicebridge.tenant_id", tenantID))

	if !h.verifySignature(ctx, tenantID, r) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	h.engine.HandleStatus(ctx, tenantID, webhookEvent(r))
	w.WriteHeader(http.StatusNoContent)
}

// GetCall is the HTTP handler for GET /voice/{tenantID}/calls/{callID}.
func (h *VoiceHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(r)
	conversationID := chi.URLParam(r, "callID")

	conv, err := h.store.GetByID(ctx, tenantID, conversationID)
	if err != nil {
		if errors.Is(err, call.ErrNotFound) {
			http.Error(w, "call not found", http.StatusNotFound)
			return
		}
		h.logger.WithTenant(tenantID).Error("voice: get call failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, conv)
}

// Recording is the HTTP handler for GET /voice/{tenantID}/calls/{callID}/recording.
// The vendor's recording URL requires account credentials, so the audio is
// proxied rather than redirected.
func (h *VoiceHandler) Recording(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(r)
	conversationID := chi.URLParam(r, "callID")

	conv, err := h.store.GetByID(ctx, tenantID, conversationID)
	if err != nil {
		if errors.Is(err, call.ErrNotFound) {
			http.Error(w, "call not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if conv.RecordingURL == "" {
		http.Error(w, "no recording", http.StatusNotFound)
		return
	}

	bundle, err := h.resolver.Resolve(ctx, tenantID)
	if err != nil {
		h.logger.WithTenant(tenantID).Error("voice: resolve for recording", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	audio, err := bundle.Telephony.DownloadRecording(ctx, conv.RecordingURL)
	if err != nil {
		h.logger.WithTenant(tenantID).Error("voice: download recording", "error", err)
		http.Error(w, "recording unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// Audio is the HTTP handler for GET /voice/{tenantID}/calls/{callID}/audio.
// It serves synthesized speech cached for the current turn; the vendor
// fetches this URL when the response contains a Play verb.
func (h *VoiceHandler) Audio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(r)
	conversationID := chi.URLParam(r, "callID")

	conv, err := h.store.GetByID(ctx, tenantID, conversationID)
	if err != nil || conv.ProviderCallID == "" {
		http.Error(w, "call not found", http.StatusNotFound)
		return
	}
	audio, err := h.engine.AudioFor(ctx, conv.ProviderCallID)
	if err != nil {
		h.logger.WithTenant(tenantID).Error("voice: load cached audio", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(audio) == 0 {
		http.Error(w, "no audio", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// Analytics is the HTTP handler for GET /voice/{tenantID}/analytics.
func (h *VoiceHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(r)

	from, err := parseTimeParam(r, "from")
	if err != nil {
		http.Error(w, "invalid from parameter", http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		http.Error(w, "invalid to parameter", http.StatusBadRequest)
		return
	}

	stats, err := h.store.Analytics(ctx, tenantID, from, to)
	if err != nil {
		h.logger.WithTenant(tenantID).Error("voice: analytics failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, stats)
}

// verifySignature validates the vendor's request signature when the
// tenant has a webhook secret configured. Tenants without one accept
// unsigned webhooks.
func (h *VoiceHandler) verifySignature(ctx context.Context, tenantID string, r *http.Request) bool {
	if h.resolver == nil {
		return true
	}
	bundle, err := h.resolver.Resolve(ctx, tenantID)
	if err != nil {
		// An unconfigured tenant fails later with a clearer error.
		return true
	}
	secret := bundle.Config.Telephony.WebhookSecret
	if secret == "" {
		return true
	}
	url := h.baseURL + r.URL.RequestURI()
	if !telephony.ValidateSignature(r, secret, url) {
		h.logger.WithTenant(tenantID).Warn("voice: webhook signature rejected", "path", r.URL.Path)
		return false
	}
	return true
}

// tenantFrom reads the tenant id set by the tenant middleware, falling
// back to the route parameter when a handler is mounted bare.
func tenantFrom(r *http.Request) string {
	if id, ok := tenant.TenantIDFromContext(r.Context()); ok {
		return id
	}
	return chi.URLParam(r, "tenantID")
}

// webhookEvent maps the vendor's form fields onto the engine's event.
func webhookEvent(r *http.Request) engine.WebhookEvent {
	_ = r.ParseForm()
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))
	return engine.WebhookEvent{
		CallID:       r.PostFormValue("CallSid"),
		From:         r.PostFormValue("From"),
		To:           r.PostFormValue("To"),
		SpeechResult: r.PostFormValue("SpeechResult"),
		RecordingURL: r.PostFormValue("RecordingUrl"),
		CallStatus:   r.PostFormValue("CallStatus"),
		AnsweredBy:   r.PostFormValue("AnsweredBy"),
		DurationSecs: duration,
	}
}

func (h *VoiceHandler) writeTwiML(w http.ResponseWriter, doc *telephony.TwiML) {
	body, err := doc.Render()
	if err != nil {
		h.logger.Error("voice: render twiml", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// failureTwiML ends the call politely when a webhook cannot be processed.
func failureTwiML() *telephony.TwiML {
	var doc telephony.TwiML
	doc.Say("I'm sorry, something went wrong on our end. Please try again later.").Hangup()
	return &doc
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

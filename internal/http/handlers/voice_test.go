package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge-ai/voicebridge/internal/call"
	"github.com/voicebridge-ai/voicebridge/internal/engine"
	"github.com/voicebridge-ai/voicebridge/internal/gateway/telephony"
	"github.com/voicebridge-ai/voicebridge/internal/tenant"
)

type fakeEngine struct {
	startResp  *call.Conversation
	startErr   error
	turnDoc    *telephony.TwiML
	turnErr    error
	inboundDoc *telephony.TwiML
	inboundErr error
	audio      []byte

	lastTenant string
	lastConvID string
	lastEvent  engine.WebhookEvent
	statusHits int
}

func (f *fakeEngine) StartOutbound(ctx context.Context, tenantID string, req engine.OutboundRequest) (*call.Conversation, error) {
	f.lastTenant = tenantID
	return f.startResp, f.startErr
}

func (f *fakeEngine) HandleInbound(ctx context.Context, tenantID string, ev engine.WebhookEvent) (*telephony.TwiML, error) {
	f.lastTenant, f.lastEvent = tenantID, ev
	return f.inboundDoc, f.inboundErr
}

func (f *fakeEngine) HandleTurn(ctx context.Context, tenantID, conversationID string, ev engine.WebhookEvent) (*telephony.TwiML, error) {
	f.lastTenant, f.lastConvID, f.lastEvent = tenantID, conversationID, ev
	return f.turnDoc, f.turnErr
}

func (f *fakeEngine) HandleStatus(ctx context.Context, tenantID string, ev engine.WebhookEvent) {
	f.lastTenant, f.lastEvent = tenantID, ev
	f.statusHits++
}

func (f *fakeEngine) AudioFor(ctx context.Context, callID string) ([]byte, error) {
	return f.audio, nil
}

type fakeReader struct {
	conv  *call.Conversation
	err   error
	stats *call.Analytics
}

func (f *fakeReader) GetByID(ctx context.Context, tenantID, id string) (*call.Conversation, error) {
	return f.conv, f.err
}

func (f *fakeReader) Analytics(ctx context.Context, tenantID string, from, to *time.Time) (*call.Analytics, error) {
	return f.stats, f.err
}

type fakeBundles struct {
	bundle *tenant.Bundle
	err    error
}

func (f *fakeBundles) Resolve(ctx context.Context, tenantID string) (*tenant.Bundle, error) {
	return f.bundle, f.err
}

func voiceRouter(h *VoiceHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/voice/{tenantID}", func(r chi.Router) {
		r.Post("/outbound", h.StartCall)
		r.Post("/inbound", h.Inbound)
		r.Post("/status", h.Status)
		r.Get("/analytics", h.Analytics)
		r.Route("/calls/{callID}", func(r chi.Router) {
			r.Get("/", h.GetCall)
			r.Post("/", h.Turn)
			r.Post("/turn", h.Turn)
			r.Post("/status", h.Status)
			r.Get("/audio", h.Audio)
			r.Get("/recording", h.Recording)
		})
	})
	return r
}

func gatherDoc(text string) *telephony.TwiML {
	var doc telephony.TwiML
	doc.GatherSpeech("https://svc.example.com/voice/acme/calls/c1/turn", telephony.SayPrompt(text))
	return &doc
}

func TestStartCallCreated(t *testing.T) {
	eng := &fakeEngine{startResp: &call.Conversation{ID: "c1", TenantID: "acme", ProviderCallID: "CA9"}}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: eng, Store: &fakeReader{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/acme/outbound",
		strings.NewReader(`{"to": "+15552223333"}`))
	voiceRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "acme", eng.lastTenant)
	var conv call.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "c1", conv.ID)
}

func TestStartCallValidationError(t *testing.T) {
	eng := &fakeEngine{startErr: &tenant.ValidationError{Missing: []string{"telephony.account_sid", "persona.name"}}}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: eng, Store: &fakeReader{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/acme/outbound", strings.NewReader(`{"to": "+15552223333"}`))
	voiceRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Missing []string `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"telephony.account_sid", "persona.name"}, body.Missing)
}

func TestStartCallDialFailure(t *testing.T) {
	eng := &fakeEngine{startErr: context.DeadlineExceeded}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: eng, Store: &fakeReader{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/acme/outbound", strings.NewReader(`{"to": "+15552223333"}`))
	voiceRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestTurnRendersTwiML(t *testing.T) {
	eng := &fakeEngine{turnDoc: gatherDoc("What time works for you?")}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: eng, Store: &fakeReader{}})

	form := url.Values{"CallSid": {"CA9"}, "SpeechResult": {"book me friday"}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/acme/calls/c1/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	voiceRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "What time works for you?")
	assert.Equal(t, "CA9", eng.lastEvent.CallID)
	assert.Equal(t, "book me friday", eng.lastEvent.SpeechResult)
	assert.Equal(t, "c1", eng.lastConvID)
}

func TestTurnUnknownCallIs404(t *testing.T) {
	eng := &fakeEngine{turnErr: engine.ErrUnknownCall}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: eng, Store: &fakeReader{}})

	form := url.Values{"CallSid": {"CA9"}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/acme/calls/nope/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	voiceRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTurnEngineErrorStillSpeaks(t *testing.T) {
	// The caller is on the line: any failure must end with spoken TwiML,
	// not an HTTP error page.
	eng := &fakeEngine{turnErr: context.DeadlineExceeded}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: eng, Store: &fakeReader{}})

	form := url.Values{"CallSid": {"CA9"}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/acme/calls/c1/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	voiceRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Hangup>")
}

func TestStatusAlwaysSucceeds(t *testing.T) {
	eng := &fakeEngine{}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: eng, Store: &fakeReader{}})
	router := voiceRouter(h)

	for _, path := range []string{"/voice/acme/status", "/voice/acme/calls/c1/status"} {
		form := url.Values{"CallSid": {"CA-unknown"}, "CallStatus": {"completed"}}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code, "path %s", path)
	}
	assert.Equal(t, 2, eng.statusHits)
}

func TestGetCallNotFound(t *testing.T) {
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: &fakeEngine{}, Store: &fakeReader{err: call.ErrNotFound}})

	rec := httptest.NewRecorder()
	voiceRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/acme/calls/c1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCallReturnsConversation(t *testing.T) {
	conv := &call.Conversation{ID: "c1", TenantID: "acme", Status: call.StatusCompleted}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: &fakeEngine{}, Store: &fakeReader{conv: conv}})

	rec := httptest.NewRecorder()
	voiceRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/acme/calls/c1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got call.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, call.StatusCompleted, got.Status)
}

func TestAudioServesCachedSpeech(t *testing.T) {
	eng := &fakeEngine{audio: []byte("mp3-bytes")}
	reader := &fakeReader{conv: &call.Conversation{ID: "c1", TenantID: "acme", ProviderCallID: "CA9"}}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: eng, Store: reader})

	rec := httptest.NewRecorder()
	voiceRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/acme/calls/c1/audio", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "mp3-bytes", rec.Body.String())
}

func TestAudioMissingIs404(t *testing.T) {
	reader := &fakeReader{conv: &call.Conversation{ID: "c1", TenantID: "acme", ProviderCallID: "CA9"}}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: &fakeEngine{}, Store: reader})

	rec := httptest.NewRecorder()
	voiceRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/acme/calls/c1/audio", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyticsParsesWindow(t *testing.T) {
	stats := &call.Analytics{TotalCalls: 12, CompletedCalls: 9, FailedCalls: 3, AverageRating: 7.5}
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: &fakeEngine{}, Store: &fakeReader{stats: stats}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/voice/acme/analytics?from=2026-08-01T00:00:00Z&to=2026-08-29T00:00:00Z", nil)
	voiceRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got call.Analytics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 12, got.TotalCalls)
}

func TestAnalyticsRejectsBadWindow(t *testing.T) {
	h := NewVoiceHandler(VoiceHandlerConfig{Engine: &fakeEngine{}, Store: &fakeReader{stats: &call.Analytics{}}})

	rec := httptest.NewRecorder()
	voiceRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/acme/analytics?from=yesterday", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookSignatureEnforced(t *testing.T) {
	secret := "whsec-123"
	bundle := &tenant.Bundle{Config: tenant.Config{
		TenantID:  "acme",
		Telephony: tenant.TelephonyConfig{WebhookSecret: secret},
	}}
	eng := &fakeEngine{turnDoc: gatherDoc("ok")}
	h := NewVoiceHandler(VoiceHandlerConfig{
		Engine:        eng,
		Store:         &fakeReader{},
		Resolver:      &fakeBundles{bundle: bundle},
		PublicBaseURL: "https://svc.example.com",
	})
	router := voiceRouter(h)

	form := url.Values{"CallSid": {"CA9"}, "SpeechResult": {"yes"}}

	unsigned := httptest.NewRequest(http.MethodPost, "/voice/acme/calls/c1/turn", strings.NewReader(form.Encode()))
	unsigned.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, unsigned)
	require.Equal(t, http.StatusForbidden, rec.Code)

	signed := httptest.NewRequest(http.MethodPost, "/voice/acme/calls/c1/turn", strings.NewReader(form.Encode()))
	signed.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	signed.Header.Set("X-Twilio-Signature",
		signWebhook(secret, "https://svc.example.com/voice/acme/calls/c1/turn", form))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, signed)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookUnconfiguredTenantSkipsSignature(t *testing.T) {
	eng := &fakeEngine{turnDoc: gatherDoc("ok")}
	h := NewVoiceHandler(VoiceHandlerConfig{
		Engine:        eng,
		Store:         &fakeReader{},
		Resolver:      &fakeBundles{err: tenant.ErrConfigNotFound},
		PublicBaseURL: "https://svc.example.com",
	})

	form := url.Values{"CallSid": {"CA9"}, "SpeechResult": {"yes"}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice/acme/calls/c1/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	voiceRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// signWebhook builds the vendor's HMAC-SHA1 signature: the full URL
// followed by the form parameters sorted by key.
func signWebhook(secret, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	payload := fullURL
	for _, k := range keys {
		for _, v := range form[k] {
			payload += k + v
		}
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

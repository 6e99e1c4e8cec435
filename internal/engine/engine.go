// Package engine drives the call-interaction state machine: consent
// gating, the ASR-LLM-TTS turn loop, transfer handling, and idempotent
// completion with post-call analysis.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voicebridge-ai/voicebridge/internal/analysis"
	"github.com/voicebridge-ai/voicebridge/internal/call"
	"github.com/voicebridge-ai/voicebridge/internal/gateway/llm"
	"github.com/voicebridge-ai/voicebridge/internal/gateway/telephony"
	"github.com/voicebridge-ai/voicebridge/internal/observability/metrics"
	"github.com/voicebridge-ai/voicebridge/internal/session"
	"github.com/voicebridge-ai/voicebridge/internal/tenant"
	"github.com/voicebridge-ai/voicebridge/internal/webhookurl"
	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

// ErrTurnInFlight indicates a second webhook arrived for a call whose
// previous turn is still being processed.
var ErrTurnInFlight = errors.New("engine: turn already in flight")

// ErrUnknownCall indicates a webhook for a call this service is not tracking.
var ErrUnknownCall = errors.New("engine: unknown call")

type conversationStore interface {
	Create(ctx context.Context, conv *call.Conversation) error
	GetByID(ctx context.Context, tenantID, id string) (*call.Conversation, error)
	FindByProviderCallID(ctx context.Context, tenantID, providerCallID string) (*call.Conversation, error)
	SetProviderCallID(ctx context.Context, tenantID, id, providerCallID string) error
	UpdateStatus(ctx context.Context, tenantID, id string, status call.Status) error
	AppendTurn(ctx context.Context, tenantID, conversationID string, turn call.Turn) error
	Transcript(ctx context.Context, tenantID, conversationID string) ([]call.Turn, error)
	Complete(ctx context.Context, tenantID, providerCallID string, endedAt time.Time, durationSecs int, recordingURL string) (bool, error)
	SaveAnalysis(ctx context.Context, tenantID, id string, a call.Analysis) error
	CreateCallback(ctx context.Context, req *call.CallbackRequest) error
	AttachCallbackNotes(ctx context.Context, tenantID, conversationID, notes string) error
}

type bundleResolver interface {
	Resolve(ctx context.Context, tenantID string) (*tenant.Bundle, error)
	ResolveWith(ctx context.Context, tenantID string, override tenant.Config) (*tenant.Bundle, error)
}

// Engine orchestrates live calls across the durable store, the session
// registry, and the tenant's vendor clients.
type Engine struct {
	store    conversationStore
	sessions *session.Store
	guard    *session.InflightGuard
	resolver bundleResolver
	intents  IntentClassifier

	baseURL         string
	llmTimeout      time.Duration
	ttsTimeout      time.Duration
	asrTimeout      time.Duration
	dialTimeout     time.Duration
	maxTurnFailures int

	metrics *metrics.CallMetrics
	logger  *logging.Logger
	wg      sync.WaitGroup
}

// Config wires the engine.
type Config struct {
	Store    conversationStore
	Sessions *session.Store
	Resolver bundleResolver
	// PublicBaseURL is the externally reachable base for webhook URLs.
	PublicBaseURL string
	LLMTimeout    time.Duration
	TTSTimeout    time.Duration
	ASRTimeout    time.Duration
	DialTimeout   time.Duration
	// MaxTurnFailures ends the call after this many consecutive turn
	// failures. Zero means the default of 3.
	MaxTurnFailures int
	// Intents overrides the keyword-based intent classification.
	Intents IntentClassifier
	Metrics         *metrics.CallMetrics
	Logger          *logging.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: conversation store required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("engine: session store required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("engine: tenant resolver required")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return nil, fmt.Errorf("engine: public base url required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:           cfg.Store,
		sessions:        cfg.Sessions,
		guard:           session.NewInflightGuard(),
		resolver:        cfg.Resolver,
		intents:         cfg.Intents,
		baseURL:         cfg.PublicBaseURL,
		llmTimeout:      cfg.LLMTimeout,
		ttsTimeout:      cfg.TTSTimeout,
		asrTimeout:      cfg.ASRTimeout,
		dialTimeout:     cfg.DialTimeout,
		maxTurnFailures: cfg.MaxTurnFailures,
		metrics:         cfg.Metrics,
		logger:          logger,
	}
	if e.llmTimeout <= 0 {
		e.llmTimeout = 30 * time.Second
	}
	if e.ttsTimeout <= 0 {
		e.ttsTimeout = 10 * time.Second
	}
	if e.asrTimeout <= 0 {
		e.asrTimeout = 10 * time.Second
	}
	if e.dialTimeout <= 0 {
		e.dialTimeout = 15 * time.Second
	}
	if e.maxTurnFailures <= 0 {
		e.maxTurnFailures = 3
	}
	if e.intents == nil {
		e.intents = KeywordClassifier{}
	}
	return e, nil
}

// Drain waits for detached post-call work (analysis) to finish. Called
// during graceful shutdown.
func (e *Engine) Drain() {
	e.wg.Wait()
}

// WebhookEvent carries the vendor webhook fields the engine consumes.
type WebhookEvent struct {
	CallID       string
	From         string
	To           string
	SpeechResult string
	RecordingURL string
	CallStatus   string
	AnsweredBy   string
	DurationSecs int
}

// OutboundRequest asks the engine to dial a customer.
type OutboundRequest struct {
	To string
	// Config optionally carries inline per-call tenant settings; inline
	// values win over the stored config.
	Config *tenant.Config
}

// StartOutbound creates the conversation, dials the customer, and
// registers the live session at the consent gate.
func (e *Engine) StartOutbound(ctx context.Context, tenantID string, req OutboundRequest) (*call.Conversation, error) {
	if strings.TrimSpace(req.To) == "" {
		return nil, &tenant.ValidationError{Missing: []string{"to"}}
	}
	bundle, err := e.bundleFor(ctx, tenantID, req.Config)
	if err != nil {
		return nil, err
	}

	conv := &call.Conversation{
		TenantID:       tenantID,
		Direction:      call.DirectionOutbound,
		CustomerNumber: req.To,
		Agent: call.AgentProfile{
			Name:   bundle.Config.Persona.Name,
			Prompt: bundle.Config.Persona.Prompt,
			Voice:  bundle.Config.Persona.Voice,
		},
	}
	if err := e.store.Create(ctx, conv); err != nil {
		return nil, err
	}

	answerURL, err := webhookurl.ForCall(e.baseURL, tenantID, conv.ID, webhookurl.ActionAnswer)
	if err != nil {
		return nil, err
	}
	statusURL, err := webhookurl.ForCall(e.baseURL, tenantID, conv.ID, webhookurl.ActionStatus)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.dialTimeout)
	defer cancel()
	placed, err := bundle.Telephony.PlaceCall(dialCtx, telephony.PlaceCallRequest{
		To:                req.To,
		AnswerURL:         answerURL,
		StatusCallbackURL: statusURL,
		DetectVoicemail:   true,
	})
	if err != nil {
		e.metrics.ObserveGatewayError("telephony")
		if serr := e.store.UpdateStatus(ctx, tenantID, conv.ID, call.StatusFailed); serr != nil {
			e.logger.Error("engine: mark failed after dial error", "error", serr)
		}
		return nil, fmt.Errorf("engine: dial: %w", err)
	}

	if err := e.store.SetProviderCallID(ctx, tenantID, conv.ID, placed.SID); err != nil {
		return nil, err
	}
	conv.ProviderCallID = placed.SID

	now := time.Now().UTC()
	if err := e.sessions.Save(ctx, &session.Session{
		CallID:         placed.SID,
		TenantID:       tenantID,
		ConversationID: conv.ID,
		State:          session.StateAwaitingConsent,
		StartedAt:      now,
		LastActivityAt: now,
	}); err != nil {
		return nil, err
	}
	e.metrics.SessionStarted()
	e.logger.WithTenant(tenantID).Info("engine: outbound call placed",
		"conversation_id", conv.ID, "call_id", placed.SID)
	return conv, nil
}

// HandleInbound registers an incoming call and answers with the consent
// prompt. All calls start at the consent gate.
func (e *Engine) HandleInbound(ctx context.Context, tenantID string, ev WebhookEvent) (*telephony.TwiML, error) {
	if ev.CallID == "" {
		return nil, fmt.Errorf("engine: inbound webhook missing call id")
	}
	bundle, err := e.bundleFor(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}

	conv := &call.Conversation{
		TenantID:       tenantID,
		ProviderCallID: ev.CallID,
		Direction:      call.DirectionInbound,
		CustomerNumber: ev.From,
		Agent: call.AgentProfile{
			Name:   bundle.Config.Persona.Name,
			Prompt: bundle.Config.Persona.Prompt,
			Voice:  bundle.Config.Persona.Voice,
		},
	}
	if err := e.store.Create(ctx, conv); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := e.sessions.Save(ctx, &session.Session{
		CallID:         ev.CallID,
		TenantID:       tenantID,
		ConversationID: conv.ID,
		State:          session.StateAwaitingConsent,
		StartedAt:      now,
		LastActivityAt: now,
	}); err != nil {
		return nil, err
	}
	e.metrics.SessionStarted()

	return e.consentTwiML(tenantID, conv.ID, bundle.Config.Persona.Name)
}

// HandleTurn processes one webhook in the conversation loop. The same
// endpoint serves the outbound answer event (no speech yet) and every
// subsequent caller utterance.
func (e *Engine) HandleTurn(ctx context.Context, tenantID, conversationID string, ev WebhookEvent) (*telephony.TwiML, error) {
	if ev.CallID == "" {
		return nil, ErrUnknownCall
	}

	release, ok := e.guard.Acquire(ev.CallID)
	if !ok {
		// A turn is already being processed; re-prompt without touching state.
		return e.repromptTwiML(tenantID, conversationID, stillProcessing)
	}
	defer release()

	sess, err := e.sessions.Get(ctx, ev.CallID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.TenantID != tenantID || sess.ConversationID != conversationID {
		return nil, ErrUnknownCall
	}

	bundle, err := e.bundleFor(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}

	switch sess.State {
	case session.StateAwaitingConsent:
		return e.handleConsent(ctx, sess, bundle, ev)
	case session.StateActive:
		return e.handleActiveTurn(ctx, sess, bundle, ev)
	case session.StateTransferPending:
		return e.handleTransferNotes(ctx, sess, ev)
	default:
		// Terminal state: nothing left to say.
		var doc telephony.TwiML
		doc.Say(callGoodbye).Hangup()
		return &doc, nil
	}
}

func (e *Engine) handleConsent(ctx context.Context, sess *session.Session, bundle *tenant.Bundle, ev WebhookEvent) (*telephony.TwiML, error) {
	personaName := bundle.Config.Persona.Name

	// The outbound answer webhook carries no speech: deliver the
	// disclosure and gather the caller's answer.
	if strings.TrimSpace(ev.SpeechResult) == "" && ev.RecordingURL == "" {
		return e.consentTwiML(sess.TenantID, sess.ConversationID, personaName)
	}

	userText, err := e.callerText(ctx, bundle, ev)
	if err != nil {
		return e.turnFailure(ctx, sess, err)
	}
	if err := e.store.AppendTurn(ctx, sess.TenantID, sess.ConversationID, call.Turn{
		Role: call.RoleUser, Content: userText, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return e.turnFailure(ctx, sess, err)
	}

	// Anything short of an explicit yes is a refusal.
	if !e.intents.IsConsent(userText) {
		if err := e.store.UpdateStatus(ctx, sess.TenantID, sess.ConversationID, call.StatusFailed); err != nil {
			e.logger.Error("engine: mark consent refusal", "error", err)
		}
		if _, err := e.sessions.Transition(ctx, sess.CallID, session.StateFailed); err != nil {
			e.logger.Error("engine: session consent refusal", "error", err)
		}
		e.metrics.ObserveTurn("consent_declined")
		var doc telephony.TwiML
		doc.Say(consentDeclined).Hangup()
		return &doc, nil
	}

	if err := e.store.UpdateStatus(ctx, sess.TenantID, sess.ConversationID, call.StatusActive); err != nil {
		return e.turnFailure(ctx, sess, err)
	}
	if _, err := e.sessions.Transition(ctx, sess.CallID, session.StateActive); err != nil {
		return e.turnFailure(ctx, sess, err)
	}

	greet := greeting(bundle.Config.Persona.Name)
	if err := e.store.AppendTurn(ctx, sess.TenantID, sess.ConversationID, call.Turn{
		Role: call.RoleAssistant, Content: greet, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return e.turnFailure(ctx, sess, err)
	}
	e.metrics.ObserveTurn("consent_granted")
	return e.speakAndGather(ctx, sess, bundle, greet)
}

func (e *Engine) handleActiveTurn(ctx context.Context, sess *session.Session, bundle *tenant.Bundle, ev WebhookEvent) (*telephony.TwiML, error) {
	userText, err := e.callerText(ctx, bundle, ev)
	if err != nil {
		return e.turnFailure(ctx, sess, err)
	}
	if strings.TrimSpace(userText) == "" {
		return e.turnFailure(ctx, sess, fmt.Errorf("engine: empty caller utterance"))
	}

	if err := e.store.AppendTurn(ctx, sess.TenantID, sess.ConversationID, call.Turn{
		Role: call.RoleUser, Content: userText, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return e.turnFailure(ctx, sess, err)
	}

	if e.intents.IsGoodbye(userText) {
		var doc telephony.TwiML
		doc.Say(callGoodbye).Hangup()
		e.metrics.ObserveTurn("goodbye")
		return &doc, nil
	}

	if e.intents.WantsTransfer(userText) {
		if err := e.store.CreateCallback(ctx, &call.CallbackRequest{
			ConversationID: sess.ConversationID,
			TenantID:       sess.TenantID,
			Reason:         userText,
		}); err != nil {
			return e.turnFailure(ctx, sess, err)
		}
		if _, err := e.sessions.Transition(ctx, sess.CallID, session.StateTransferPending); err != nil {
			return e.turnFailure(ctx, sess, err)
		}
		if err := e.store.AppendTurn(ctx, sess.TenantID, sess.ConversationID, call.Turn{
			Role: call.RoleAssistant, Content: transferAck, CreatedAt: time.Now().UTC(),
		}); err != nil {
			e.logger.Error("engine: append transfer ack", "error", err)
		}
		e.metrics.ObserveTurn("transfer")
		return e.repromptTwiML(sess.TenantID, sess.ConversationID, transferAck)
	}

	reply, err := e.completeLLM(ctx, sess, bundle)
	if err != nil {
		e.metrics.ObserveGatewayError("llm")
		return e.turnFailure(ctx, sess, err)
	}

	if err := e.store.AppendTurn(ctx, sess.TenantID, sess.ConversationID, call.Turn{
		Role: call.RoleAssistant, Content: reply, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return e.turnFailure(ctx, sess, err)
	}
	if err := e.sessions.ResetFailures(ctx, sess.CallID); err != nil {
		e.logger.Error("engine: reset failures", "error", err)
	}
	e.metrics.ObserveTurn("ok")
	return e.speakAndGather(ctx, sess, bundle, reply)
}

func (e *Engine) handleTransferNotes(ctx context.Context, sess *session.Session, ev WebhookEvent) (*telephony.TwiML, error) {
	notes := strings.TrimSpace(ev.SpeechResult)
	if notes != "" {
		if err := e.store.AttachCallbackNotes(ctx, sess.TenantID, sess.ConversationID, notes); err != nil {
			// Notes are best-effort; the callback request already exists.
			e.logger.Warn("engine: attach callback notes", "error", err)
		}
		if err := e.store.AppendTurn(ctx, sess.TenantID, sess.ConversationID, call.Turn{
			Role: call.RoleUser, Content: notes, CreatedAt: time.Now().UTC(),
		}); err != nil {
			e.logger.Error("engine: append notes turn", "error", err)
		}
	}
	if _, err := e.sessions.Transition(ctx, sess.CallID, session.StateCompleted); err != nil {
		e.logger.Error("engine: session transfer complete", "error", err)
	}
	var doc telephony.TwiML
	doc.Say(transferConfirm).Hangup()
	return &doc, nil
}

// HandleStatus processes vendor lifecycle callbacks. It never fails the
// caller: errors are logged and swallowed so the vendor always sees success.
func (e *Engine) HandleStatus(ctx context.Context, tenantID string, ev WebhookEvent) {
	logger := e.logger.WithTenant(tenantID).WithCall(ev.CallID)
	if ev.CallID == "" {
		logger.Warn("engine: status callback missing call id")
		return
	}

	// Answering machine detection: a voicemail pickup ends the call
	// before any conversation happens.
	if strings.HasPrefix(ev.AnsweredBy, "machine") {
		e.failCall(ctx, tenantID, ev.CallID, "voicemail")
		return
	}

	switch ev.CallStatus {
	case "completed":
		e.finishCall(ctx, tenantID, ev)
	case "failed", "busy", "no-answer", "canceled":
		e.failCall(ctx, tenantID, ev.CallID, ev.CallStatus)
	default:
		// Interim events (ringing, in-progress) need no action.
	}
}

func (e *Engine) finishCall(ctx context.Context, tenantID string, ev WebhookEvent) {
	logger := e.logger.WithTenant(tenantID).WithCall(ev.CallID)

	completedNow, err := e.store.Complete(ctx, tenantID, ev.CallID, time.Now().UTC(), ev.DurationSecs, ev.RecordingURL)
	if err != nil {
		logger.Error("engine: complete conversation", "error", err)
		return
	}
	if !completedNow {
		// Duplicate completion event; everything already done.
		return
	}

	sess, err := e.sessions.Get(ctx, ev.CallID)
	if err != nil || sess == nil {
		logger.Warn("engine: completed call without session", "call_id", ev.CallID)
	}
	conversationID := ""
	if sess != nil {
		conversationID = sess.ConversationID
		if err := e.sessions.Delete(ctx, ev.CallID); err != nil {
			logger.Error("engine: delete session", "error", err)
		}
		e.metrics.SessionEnded()
	}
	e.metrics.ObserveCall("", "completed")

	if conversationID == "" {
		conv, err := e.store.FindByProviderCallID(ctx, tenantID, ev.CallID)
		if err != nil {
			logger.Error("engine: resolve conversation for analysis", "error", err)
			return
		}
		conversationID = conv.ID
	}

	// Analysis runs detached so the status response is immediate. It
	// happens exactly once because only the first completion reaches here.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.analyze(tenantID, conversationID)
	}()
}

func (e *Engine) analyze(tenantID, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	logger := e.logger.WithTenant(tenantID)

	transcript, err := e.store.Transcript(ctx, tenantID, conversationID)
	if err != nil {
		logger.Error("engine: load transcript for analysis", "error", err)
		return
	}

	var client llm.Client
	var model string
	if bundle, err := e.bundleFor(ctx, tenantID, nil); err == nil {
		client = bundle.LLM
		model = bundle.Config.LLM.Model
	}
	analyzer := analysis.New(analysis.Config{Client: client, Model: model, Logger: logger})
	result := analyzer.Analyze(ctx, transcript)

	if err := e.store.SaveAnalysis(ctx, tenantID, conversationID, result); err != nil {
		logger.Error("engine: save analysis", "error", err, "conversation_id", conversationID)
		return
	}
	logger.Info("engine: call analyzed",
		"conversation_id", conversationID, "rating", result.Rating, "sentiment", result.Sentiment)
}

func (e *Engine) failCall(ctx context.Context, tenantID, callID, reason string) {
	logger := e.logger.WithTenant(tenantID).WithCall(callID)

	sess, err := e.sessions.Get(ctx, callID)
	if err != nil {
		logger.Error("engine: load session for failure", "error", err)
		return
	}
	conversationID := ""
	if sess != nil {
		conversationID = sess.ConversationID
		if err := e.sessions.Delete(ctx, callID); err != nil {
			logger.Error("engine: delete session", "error", err)
		}
		e.metrics.SessionEnded()
	} else {
		conv, err := e.store.FindByProviderCallID(ctx, tenantID, callID)
		if err != nil {
			logger.Warn("engine: failed call not tracked", "call_id", callID, "reason", reason)
			return
		}
		conversationID = conv.ID
	}

	if err := e.store.UpdateStatus(ctx, tenantID, conversationID, call.StatusFailed); err != nil {
		logger.Error("engine: mark call failed", "error", err)
	}
	e.metrics.ObserveCall("", "failed")
	logger.Info("engine: call failed", "conversation_id", conversationID, "reason", reason)
}

// AudioFor serves cached synthesized speech for the Play verb.
func (e *Engine) AudioFor(ctx context.Context, callID string) ([]byte, error) {
	return e.sessions.GetAudio(ctx, callID)
}

// callerText extracts what the caller said: the vendor's own speech
// recognition result, or a transcription of the recorded utterance when
// only audio arrived and the tenant has an ASR provider.
func (e *Engine) callerText(ctx context.Context, bundle *tenant.Bundle, ev WebhookEvent) (string, error) {
	if text := strings.TrimSpace(ev.SpeechResult); text != "" {
		return text, nil
	}
	if ev.RecordingURL != "" && bundle.Transcriber != nil {
		ctx, cancel := context.WithTimeout(ctx, e.asrTimeout)
		defer cancel()
		text, err := bundle.Transcriber.Transcribe(ctx, ev.RecordingURL)
		if err != nil {
			e.metrics.ObserveGatewayError("asr")
			return "", fmt.Errorf("engine: transcribe: %w", err)
		}
		return text, nil
	}
	return "", nil
}

func (e *Engine) completeLLM(ctx context.Context, sess *session.Session, bundle *tenant.Bundle) (string, error) {
	transcript, err := e.store.Transcript(ctx, sess.TenantID, sess.ConversationID)
	if err != nil {
		return "", err
	}
	messages := make([]llm.ChatMessage, 0, len(transcript))
	for _, turn := range transcript {
		role := llm.ChatRoleUser
		if turn.Role == call.RoleAssistant {
			role = llm.ChatRoleAssistant
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: turn.Content})
	}

	ctx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()
	started := time.Now()
	resp, err := bundle.LLM.Complete(ctx, llm.Request{
		Model:       bundle.Config.LLM.Model,
		System:      []string{bundle.Config.Persona.Prompt},
		Messages:    messages,
		MaxTokens:   int32(bundle.Config.LLM.MaxTokens),
		Temperature: float32(bundle.Config.LLM.Temperature),
	})
	e.metrics.ObserveTurnLatency("llm", time.Since(started).Seconds())
	if err != nil {
		return "", fmt.Errorf("engine: llm: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("engine: llm returned empty reply")
	}
	return resp.Text, nil
}

// speakAndGather renders the reply and collects the caller's next
// utterance. With a TTS provider the audio is synthesized, cached, and
// played; otherwise the vendor's built-in voice speaks the text.
func (e *Engine) speakAndGather(ctx context.Context, sess *session.Session, bundle *tenant.Bundle, text string) (*telephony.TwiML, error) {
	turnURL, err := webhookurl.ForCall(e.baseURL, sess.TenantID, sess.ConversationID, webhookurl.ActionTurn)
	if err != nil {
		return nil, err
	}

	var prompt any = telephony.SayPrompt(text)
	if bundle.Synthesizer != nil {
		ttsCtx, cancel := context.WithTimeout(ctx, e.ttsTimeout)
		audio, synthErr := bundle.Synthesizer.Synthesize(ttsCtx, text, bundle.Config.Speech.Voice)
		cancel()
		if synthErr != nil {
			// Degrade to the vendor voice rather than failing the turn.
			e.metrics.ObserveGatewayError("tts")
			e.logger.Warn("engine: tts failed, using vendor voice", "error", synthErr)
		} else if err := e.sessions.SaveAudio(ctx, sess.CallID, audio); err != nil {
			e.logger.Warn("engine: cache audio", "error", err)
		} else {
			audioURL, uerr := webhookurl.ForCall(e.baseURL, sess.TenantID, sess.ConversationID, webhookurl.ActionAudio)
			if uerr != nil {
				return nil, uerr
			}
			prompt = telephony.PlayPrompt(audioURL)
		}
	}

	var doc telephony.TwiML
	doc.GatherSpeech(turnURL, prompt)
	return &doc, nil
}

// turnFailure handles an error mid-turn: state is not advanced, the
// caller hears an apology, and after too many consecutive failures the
// call ends gracefully.
func (e *Engine) turnFailure(ctx context.Context, sess *session.Session, cause error) (*telephony.TwiML, error) {
	logger := e.logger.WithTenant(sess.TenantID).WithCall(sess.CallID)
	logger.Error("engine: turn failed", "error", cause, "conversation_id", sess.ConversationID)
	e.metrics.ObserveTurn("error")

	failures, err := e.sessions.RecordFailure(ctx, sess.CallID)
	if err != nil {
		logger.Error("engine: record failure", "error", err)
		failures = e.maxTurnFailures
	}
	if failures >= e.maxTurnFailures {
		if err := e.store.UpdateStatus(ctx, sess.TenantID, sess.ConversationID, call.StatusFailed); err != nil {
			logger.Error("engine: mark call failed", "error", err)
		}
		if _, err := e.sessions.Transition(ctx, sess.CallID, session.StateFailed); err != nil {
			logger.Error("engine: session fail transition", "error", err)
		}
		var doc telephony.TwiML
		doc.Say(apologyFinal).Hangup()
		return &doc, nil
	}
	return e.repromptTwiML(sess.TenantID, sess.ConversationID, apologyReprompt)
}

func (e *Engine) consentTwiML(tenantID, conversationID, personaName string) (*telephony.TwiML, error) {
	return e.repromptTwiML(tenantID, conversationID, consentPrompt(personaName))
}

func (e *Engine) repromptTwiML(tenantID, conversationID, text string) (*telephony.TwiML, error) {
	turnURL, err := webhookurl.ForCall(e.baseURL, tenantID, conversationID, webhookurl.ActionTurn)
	if err != nil {
		return nil, err
	}
	var doc telephony.TwiML
	doc.GatherSpeech(turnURL, telephony.SayPrompt(text))
	return &doc, nil
}

func (e *Engine) bundleFor(ctx context.Context, tenantID string, inline *tenant.Config) (*tenant.Bundle, error) {
	if inline != nil {
		return e.resolver.ResolveWith(ctx, tenantID, *inline)
	}
	return e.resolver.Resolve(ctx, tenantID)
}

package tenant

import (
	"context"
	"fmt"
	"sync"

	"github.com/voicebridge-ai/voicebridge/internal/gateway/llm"
	"github.com/voicebridge-ai/voicebridge/internal/gateway/speech"
	"github.com/voicebridge-ai/voicebridge/internal/gateway/telephony"
	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

// Bundle is everything the call engine needs for one tenant: validated
// config plus ready-to-use vendor clients.
type Bundle struct {
	Config      Config
	Telephony   *telephony.Client
	LLM         llm.Client
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
}

// Resolver turns tenant ids into Bundles. Bundles built from stored
// config are cached until the config changes; per-request overrides
// always build fresh.
type Resolver struct {
	store      *Store
	llmFactory *llm.Factory
	logger     *logging.Logger

	mu    sync.RWMutex
	cache map[string]*Bundle
}

// ResolverConfig wires the resolver's dependencies.
type ResolverConfig struct {
	Store      *Store
	LLMFactory *llm.Factory
	Logger     *logging.Logger
}

// NewResolver creates a resolver with an empty cache.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		store:      cfg.Store,
		llmFactory: cfg.LLMFactory,
		logger:     logger,
		cache:      make(map[string]*Bundle),
	}
}

// Resolve returns the tenant's bundle from stored config, building and
// caching it on first use.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*Bundle, error) {
	r.mu.RLock()
	cached, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	cfg, err := r.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	bundle, err := r.build(ctx, *cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[tenantID] = bundle
	r.mu.Unlock()
	return bundle, nil
}

// ResolveWith merges inline per-request settings over the stored config
// and builds an uncached bundle. Inline values win. A tenant with no
// stored config can still run a call if the inline settings are complete.
func (r *Resolver) ResolveWith(ctx context.Context, tenantID string, override Config) (*Bundle, error) {
	base := Config{TenantID: tenantID}
	if stored, err := r.store.Get(ctx, tenantID); err == nil {
		base = *stored
	} else if err != ErrConfigNotFound {
		return nil, err
	}
	merged := Merge(base, override)
	merged.TenantID = tenantID
	return r.build(ctx, merged)
}

// Invalidate drops the cached bundle after a config update. The next
// Resolve sees the new config; calls already holding the old bundle
// finish on the snapshot they started with.
func (r *Resolver) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.cache, tenantID)
	r.mu.Unlock()
}

func (r *Resolver) build(ctx context.Context, cfg Config) (*Bundle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	phone, err := telephony.NewClient(telephony.ClientConfig{
		AccountSID: cfg.Telephony.AccountSID,
		AuthToken:  cfg.Telephony.AuthToken,
		FromNumber: cfg.Telephony.FromNumber,
		Logger:     r.logger.WithTenant(cfg.TenantID),
	})
	if err != nil {
		return nil, fmt.Errorf("tenant: telephony client: %w", err)
	}

	llmClient, err := r.llmFactory.New(ctx, llm.Settings{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   int32(cfg.LLM.MaxTokens),
		Temperature: float32(cfg.LLM.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("tenant: llm client: %w", err)
	}

	bundle := &Bundle{
		Config:    cfg,
		Telephony: phone,
		LLM:       llmClient,
	}

	// Speech providers are optional: without ASR the engine relies on the
	// vendor's speech recognition, without TTS it falls back to vendor voices.
	if cfg.Speech.ASRAPIKey != "" {
		bundle.Transcriber, err = speech.NewTranscriber(cfg.Speech.ASRProvider, cfg.Speech.ASRAPIKey, r.logger.WithTenant(cfg.TenantID))
		if err != nil {
			return nil, fmt.Errorf("tenant: transcriber: %w", err)
		}
	}
	if cfg.Speech.TTSAPIKey != "" {
		bundle.Synthesizer, err = speech.NewSynthesizer(cfg.Speech.TTSProvider, cfg.Speech.TTSAPIKey, r.logger.WithTenant(cfg.TenantID))
		if err != nil {
			return nil, fmt.Errorf("tenant: synthesizer: %w", err)
		}
	}
	return bundle, nil
}

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/voicebridge-ai/voicebridge/cmd/mainconfig"
	"github.com/voicebridge-ai/voicebridge/internal/api/router"
	"github.com/voicebridge-ai/voicebridge/internal/call"
	appconfig "github.com/voicebridge-ai/voicebridge/internal/config"
	"github.com/voicebridge-ai/voicebridge/internal/engine"
	"github.com/voicebridge-ai/voicebridge/internal/gateway/llm"
	"github.com/voicebridge-ai/voicebridge/internal/http/handlers"
	"github.com/voicebridge-ai/voicebridge/internal/observability/metrics"
	"github.com/voicebridge-ai/voicebridge/internal/session"
	"github.com/voicebridge-ai/voicebridge/internal/tenant"
	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voicebridge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	// Bedrock is only reachable through AWS; the other LLM providers are
	// plain HTTPS clients built per tenant by the resolver.
	var bedrock *bedrockruntime.Client
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Warn("aws config unavailable, bedrock disabled", "error", err)
	} else {
		bedrock = bedrockruntime.NewFromConfig(awsCfg)
	}
	llmFactory := llm.NewFactory(bedrock)

	cipher, err := tenant.NewCipher(cfg.TenantKeyHex)
	if err != nil {
		logger.Error("invalid tenant config key", "error", err)
		os.Exit(1)
	}
	tenantStore := tenant.NewStore(rdb, cipher)
	resolver := tenant.NewResolver(tenant.ResolverConfig{
		Store:      tenantStore,
		LLMFactory: llmFactory,
		Logger:     logger,
	})

	if cfg.DefaultTenantID != "" {
		if err := seedDefaultTenant(ctx, cfg, tenantStore); err != nil {
			logger.Error("failed to seed default tenant", "error", err)
			os.Exit(1)
		}
		logger.Info("default tenant seeded from environment", "tenant_id", cfg.DefaultTenantID)
	}

	callStore := call.NewStore(pool)
	sessions := session.NewStore(rdb, cfg.SessionTTL)
	callMetrics := metrics.NewCallMetrics(prometheus.DefaultRegisterer)

	eng, err := engine.New(engine.Config{
		Store:           callStore,
		Sessions:        sessions,
		Resolver:        resolver,
		PublicBaseURL:   cfg.PublicBaseURL,
		LLMTimeout:      cfg.LLMTimeout,
		TTSTimeout:      cfg.TTSTimeout,
		ASRTimeout:      cfg.ASRTimeout,
		DialTimeout:     cfg.DialTimeout,
		MaxTurnFailures: cfg.MaxTurnFailures,
		Metrics:         callMetrics,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("failed to build call engine", "error", err)
		os.Exit(1)
	}

	voiceHandler := handlers.NewVoiceHandler(handlers.VoiceHandlerConfig{
		Engine:        eng,
		Store:         callStore,
		Resolver:      resolver,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
	})
	configHandler := handlers.NewConfigHandler(handlers.ConfigHandlerConfig{
		Store:    tenantStore,
		Resolver: resolver,
		Logger:   logger,
	})
	callbacksHandler := handlers.NewCallbacksHandler(callStore, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		Voice:              voiceHandler,
		TenantCfg:          configHandler,
		Callbacks:          callbacksHandler,
		OperatorAuthSecret: cfg.APIJWTSecret,
		MetricsHandler:     promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let in-flight post-call analysis finish before the process exits.
	eng.Drain()

	logger.Info("server stopped")
}

// seedDefaultTenant writes the environment-provided defaults as the
// stored config for a single bootstrap tenant.
func seedDefaultTenant(ctx context.Context, cfg *appconfig.Config, store *tenant.Store) error {
	tc := &tenant.Config{
		TenantID: cfg.DefaultTenantID,
		Telephony: tenant.TelephonyConfig{
			AccountSID:    cfg.TwilioAccountSID,
			AuthToken:     cfg.TwilioAuthToken,
			FromNumber:    cfg.TwilioFromNumber,
			WebhookSecret: cfg.TwilioWebhookSecret,
		},
		LLM: tenant.LLMConfig{
			Provider:    cfg.LLMProvider,
			APIKey:      cfg.LLMAPIKey,
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
		},
		Speech: tenant.SpeechConfig{
			ASRProvider: cfg.ASRProvider,
			ASRAPIKey:   cfg.ASRAPIKey,
			TTSProvider: cfg.TTSProvider,
			TTSAPIKey:   cfg.TTSAPIKey,
			Voice:       cfg.TTSVoice,
		},
		Persona: tenant.Persona{
			Name:   cfg.PersonaName,
			Prompt: cfg.PersonaPrompt,
			Voice:  cfg.TTSVoice,
		},
	}
	if err := tc.Validate(); err != nil {
		return err
	}
	return store.Save(ctx, tc)
}

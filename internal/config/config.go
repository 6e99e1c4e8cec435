package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// TenantKeyHex is the hex-encoded 32-byte AES key used to encrypt
	// stored tenant credentials at rest.
	TenantKeyHex string

	// DefaultTenantID, when set, seeds that tenant's stored config from
	// the global telephony/model defaults below. Single-tenant deployments
	// run entirely from environment variables this way.
	DefaultTenantID string

	APIJWTSecret string

	// Global telephony defaults, merged under per-tenant overrides.
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	TwilioWebhookSecret string

	// Default persona for the seeded tenant.
	PersonaName   string
	PersonaPrompt string

	// Global model/speech defaults.
	LLMProvider        string
	LLMModel           string
	LLMAPIKey          string
	LLMMaxTokens       int
	LLMTemperature     float64
	ASRProvider        string
	ASRAPIKey          string
	TTSProvider        string
	TTSAPIKey          string
	TTSVoice           string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	ASRTimeout  time.Duration
	LLMTimeout  time.Duration
	TTSTimeout  time.Duration
	DialTimeout time.Duration

	// MaxTurnFailures is how many consecutive gateway failures a call
	// survives before it is ended gracefully.
	MaxTurnFailures int

	SessionTTL time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TenantKeyHex: getEnv("TENANT_CONFIG_KEY", ""),

		DefaultTenantID: getEnv("DEFAULT_TENANT_ID", ""),

		APIJWTSecret: getEnv("API_JWT_SECRET", ""),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),

		PersonaName:   getEnv("PERSONA_NAME", ""),
		PersonaPrompt: getEnv("PERSONA_PROMPT", ""),

		LLMProvider:        strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", ""))),
		LLMModel:           getEnv("LLM_MODEL", ""),
		LLMAPIKey:          getEnv("LLM_API_KEY", ""),
		LLMMaxTokens:       getEnvAsInt("LLM_MAX_TOKENS", 300),
		LLMTemperature:     getEnvAsFloat("LLM_TEMPERATURE", 0.7),
		ASRProvider:        strings.ToLower(strings.TrimSpace(getEnv("ASR_PROVIDER", ""))),
		ASRAPIKey:          getEnv("ASR_API_KEY", ""),
		TTSProvider:        strings.ToLower(strings.TrimSpace(getEnv("TTS_PROVIDER", ""))),
		TTSAPIKey:          getEnv("TTS_API_KEY", ""),
		TTSVoice:           getEnv("TTS_VOICE", ""),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		ASRTimeout:  getEnvAsDuration("ASR_TIMEOUT", 10*time.Second),
		LLMTimeout:  getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),
		TTSTimeout:  getEnvAsDuration("TTS_TIMEOUT", 10*time.Second),
		DialTimeout: getEnvAsDuration("DIAL_TIMEOUT", 15*time.Second),

		MaxTurnFailures: getEnvAsInt("MAX_TURN_FAILURES", 3),

		SessionTTL: getEnvAsDuration("SESSION_TTL", 24*time.Hour),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

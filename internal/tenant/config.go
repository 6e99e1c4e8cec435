package tenant

import (
	"fmt"
	"strings"
)

// TelephonyConfig carries the tenant's telephony vendor credentials.
type TelephonyConfig struct {
	AccountSID    string `json:"account_sid"`
	AuthToken     string `json:"auth_token"`
	FromNumber    string `json:"from_number"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// LLMConfig selects and authenticates the tenant's language model.
type LLMConfig struct {
	Provider    string  `json:"provider"` // bedrock, gemini, openai
	APIKey      string  `json:"api_key,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// SpeechConfig selects and authenticates speech recognition and synthesis.
type SpeechConfig struct {
	ASRProvider string `json:"asr_provider"`
	ASRAPIKey   string `json:"asr_api_key,omitempty"`
	TTSProvider string `json:"tts_provider"`
	TTSAPIKey   string `json:"tts_api_key,omitempty"`
	Voice       string `json:"voice,omitempty"`
}

// Persona is the agent identity presented on the call. A call snapshots
// the persona at start; later edits never affect calls in flight.
type Persona struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	Voice  string `json:"voice,omitempty"`
}

// Config is the full per-tenant bundle. Secrets inside it are stored
// encrypted at rest; in memory it is always plaintext.
type Config struct {
	TenantID  string          `json:"tenant_id"`
	Telephony TelephonyConfig `json:"telephony"`
	LLM       LLMConfig       `json:"llm"`
	Speech    SpeechConfig    `json:"speech"`
	Persona   Persona         `json:"persona"`
}

// ValidationError lists every missing required field at once so a caller
// can fix the whole config in one pass.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tenant: config missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Validate checks the fields a call cannot start without. It returns a
// *ValidationError naming every absent field, or nil.
func (c *Config) Validate() error {
	var missing []string
	if c.Telephony.AccountSID == "" {
		missing = append(missing, "telephony.account_sid")
	}
	if c.Telephony.AuthToken == "" {
		missing = append(missing, "telephony.auth_token")
	}
	if c.Telephony.FromNumber == "" {
		missing = append(missing, "telephony.from_number")
	}
	if c.LLM.Provider == "" {
		missing = append(missing, "llm.provider")
	}
	if c.LLM.Model == "" {
		missing = append(missing, "llm.model")
	}
	if c.Persona.Name == "" {
		missing = append(missing, "persona.name")
	}
	if c.Persona.Prompt == "" {
		missing = append(missing, "persona.prompt")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Merge overlays non-empty fields of override onto base and returns the
// result. Inline per-request settings win over the stored config.
func Merge(base, override Config) Config {
	out := base
	if override.Telephony.AccountSID != "" {
		out.Telephony.AccountSID = override.Telephony.AccountSID
	}
	if override.Telephony.AuthToken != "" {
		out.Telephony.AuthToken = override.Telephony.AuthToken
	}
	if override.Telephony.FromNumber != "" {
		out.Telephony.FromNumber = override.Telephony.FromNumber
	}
	if override.Telephony.WebhookSecret != "" {
		out.Telephony.WebhookSecret = override.Telephony.WebhookSecret
	}
	if override.LLM.Provider != "" {
		out.LLM.Provider = override.LLM.Provider
	}
	if override.LLM.APIKey != "" {
		out.LLM.APIKey = override.LLM.APIKey
	}
	if override.LLM.Model != "" {
		out.LLM.Model = override.LLM.Model
	}
	if override.LLM.MaxTokens != 0 {
		out.LLM.MaxTokens = override.LLM.MaxTokens
	}
	if override.LLM.Temperature != 0 {
		out.LLM.Temperature = override.LLM.Temperature
	}
	if override.Speech.ASRProvider != "" {
		out.Speech.ASRProvider = override.Speech.ASRProvider
	}
	if override.Speech.ASRAPIKey != "" {
		out.Speech.ASRAPIKey = override.Speech.ASRAPIKey
	}
	if override.Speech.TTSProvider != "" {
		out.Speech.TTSProvider = override.Speech.TTSProvider
	}
	if override.Speech.TTSAPIKey != "" {
		out.Speech.TTSAPIKey = override.Speech.TTSAPIKey
	}
	if override.Speech.Voice != "" {
		out.Speech.Voice = override.Speech.Voice
	}
	if override.Persona.Name != "" {
		out.Persona.Name = override.Persona.Name
	}
	if override.Persona.Prompt != "" {
		out.Persona.Prompt = override.Persona.Prompt
	}
	if override.Persona.Voice != "" {
		out.Persona.Voice = override.Persona.Voice
	}
	return out
}

// Redacted returns a copy safe to return from the API: secret material is
// masked, presence is still visible.
func (c Config) Redacted() Config {
	out := c
	out.Telephony.AuthToken = redact(out.Telephony.AuthToken)
	out.Telephony.WebhookSecret = redact(out.Telephony.WebhookSecret)
	out.LLM.APIKey = redact(out.LLM.APIKey)
	out.Speech.ASRAPIKey = redact(out.Speech.ASRAPIKey)
	out.Speech.TTSAPIKey = redact(out.Speech.TTSAPIKey)
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

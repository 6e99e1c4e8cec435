package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted in tenant configuration.
const (
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
	ProviderOpenAI  = "openai"
)

// Settings selects and parameterizes a provider for one tenant.
type Settings struct {
	Provider    string
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// Factory builds per-tenant LLM clients. Bedrock rides on the process-wide
// AWS credentials, so its Converse API is injected once at startup; API-key
// providers are constructed per tenant.
type Factory struct {
	bedrock bedrockConverseAPI
}

// NewFactory creates a factory. bedrock may be nil when the deployment has
// no AWS credentials; tenants selecting bedrock then get an error.
func NewFactory(bedrock bedrockConverseAPI) *Factory {
	return &Factory{bedrock: bedrock}
}

// New returns a client for the tenant's provider selection.
func (f *Factory) New(ctx context.Context, s Settings) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case ProviderBedrock:
		if f.bedrock == nil {
			return nil, fmt.Errorf("llm: bedrock selected but no AWS credentials configured")
		}
		return NewBedrockClient(f.bedrock), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, s.APIKey, s.Model)
	case ProviderOpenAI:
		return NewOpenAIClient(s.APIKey)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", s.Provider)
	}
}

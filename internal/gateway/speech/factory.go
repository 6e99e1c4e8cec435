package speech

import (
	"fmt"
	"strings"

	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

// Provider names accepted in tenant configuration.
const (
	ProviderDeepgram   = "deepgram"
	ProviderElevenLabs = "elevenlabs"
)

// NewTranscriber builds the tenant's speech recognition client.
func NewTranscriber(provider, apiKey string, logger *logging.Logger) (Transcriber, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderDeepgram:
		return NewDeepgramClient(DeepgramConfig{APIKey: apiKey, Logger: logger})
	default:
		return nil, fmt.Errorf("speech: unknown asr provider %q", provider)
	}
}

// NewSynthesizer builds the tenant's speech synthesis client.
func NewSynthesizer(provider, apiKey string, logger *logging.Logger) (Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderElevenLabs:
		return NewElevenLabsClient(ElevenLabsConfig{APIKey: apiKey, Logger: logger})
	default:
		return nil, fmt.Errorf("speech: unknown tts provider %q", provider)
	}
}

package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

const (
	defaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	elevenLabsTimeout        = 10 * time.Second

	// defaultVoiceID is used when the tenant config names no voice.
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

// ElevenLabsClient synthesizes agent speech via the ElevenLabs TTS API.
type ElevenLabsClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ElevenLabsConfig configures the synthesis client.
type ElevenLabsConfig struct {
	APIKey string
	// BaseURL overrides the ElevenLabs API base URL (for testing).
	BaseURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewElevenLabsClient creates an ElevenLabs synthesis client.
func NewElevenLabsClient(cfg ElevenLabsConfig) (*ElevenLabsClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs: API key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultElevenLabsBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: elevenLabsTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Synthesize renders text as MP3 audio with the given voice id.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("elevenlabs: text required")
	}
	if strings.TrimSpace(voice) == "" {
		voice = defaultVoiceID
	}

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": "eleven_turbo_v2_5",
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		c.logger.Error("elevenlabs: API error", "status", resp.StatusCode, "body", string(respBody))
		return nil, fmt.Errorf("elevenlabs: API returned %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("elevenlabs: empty audio response")
	}
	return audio, nil
}

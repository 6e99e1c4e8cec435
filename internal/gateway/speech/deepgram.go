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
	defaultDeepgramBaseURL = "https://api.deepgram.com"
	deepgramTimeout        = 10 * time.Second
)

// DeepgramClient transcribes call recordings via Deepgram's prerecorded API.
type DeepgramClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// DeepgramConfig configures the transcription client.
type DeepgramConfig struct {
	APIKey string
	// BaseURL overrides the Deepgram API base URL (for testing).
	BaseURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewDeepgramClient creates a Deepgram transcription client.
func NewDeepgramClient(cfg DeepgramConfig) (*DeepgramClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("deepgram: API key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultDeepgramBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: deepgramTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &DeepgramClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe submits the recording URL and returns the best transcript.
func (c *DeepgramClient) Transcribe(ctx context.Context, audioURL string) (string, error) {
	if strings.TrimSpace(audioURL) == "" {
		return "", fmt.Errorf("deepgram: audio url required")
	}

	body, err := json.Marshal(map[string]string{"url": audioURL})
	if err != nil {
		return "", fmt.Errorf("deepgram: marshal request: %w", err)
	}

	url := c.baseURL + "/v1/listen?model=nova-2&smart_format=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("deepgram: API error", "status", resp.StatusCode, "body", string(respBody))
		return "", fmt.Errorf("deepgram: API returned %d", resp.StatusCode)
	}

	var out deepgramResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return "", fmt.Errorf("deepgram: response contained no transcript")
	}
	return strings.TrimSpace(out.Results.Channels[0].Alternatives[0].Transcript), nil
}

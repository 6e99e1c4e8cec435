// Package telephony wraps the call vendor: outbound dialing, webhook
// signature validation, and the XML instruction documents it executes.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

const (
	defaultTwilioBaseURL = "https://api.twilio.com"
	twilioCallTimeout    = 15 * time.Second
)

// Client places outbound calls via the Twilio Voice API.
type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ClientConfig configures the outbound voice client.
type ClientConfig struct {
	AccountSID string
	AuthToken  string
	// FromNumber is the tenant's caller id (E.164).
	FromNumber string
	// BaseURL overrides the Twilio API base URL (for testing).
	BaseURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewClient creates a client for placing outbound calls.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, fmt.Errorf("telephony: account SID required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("telephony: auth token required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("telephony: from number required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultTwilioBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: twilioCallTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// PlaceCallRequest contains the parameters for initiating an outbound call.
type PlaceCallRequest struct {
	// To is the customer's phone number (E.164).
	To string
	// AnswerURL receives the webhook when the call connects.
	AnswerURL string
	// StatusCallbackURL receives lifecycle events for the call.
	StatusCallbackURL string
	// DetectVoicemail enables answering machine detection.
	DetectVoicemail bool
}

// PlaceCallResponse is the Twilio response for call creation.
type PlaceCallResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// PlaceCall dials the customer and returns the vendor call id.
func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (*PlaceCallResponse, error) {
	if req.To == "" {
		return nil, fmt.Errorf("telephony: to phone number required")
	}
	if req.AnswerURL == "" {
		return nil, fmt.Errorf("telephony: answer url required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", c.fromNumber)
	form.Set("Url", req.AnswerURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackEvent", "completed")
	}
	if req.DetectVoicemail {
		form.Set("MachineDetection", "Enable")
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("telephony: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.accountSID, c.authToken)

	c.logger.Info("telephony: placing outbound call",
		"to", maskPhone(req.To),
		"from", maskPhone(c.fromNumber),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("telephony: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telephony: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("telephony: API error", "status", resp.StatusCode, "body", string(respBody))
		return nil, fmt.Errorf("telephony: API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out PlaceCallResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("telephony: decode response: %w", err)
	}
	if out.SID == "" {
		return nil, fmt.Errorf("telephony: response missing call sid")
	}
	return &out, nil
}

// DownloadRecording fetches a call recording by its vendor URL, using the
// account credentials for auth.
func (c *Client) DownloadRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	if strings.TrimSpace(recordingURL) == "" {
		return nil, fmt.Errorf("telephony: recording url required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telephony: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telephony: recording fetch returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}

// maskPhone hides all but the last four digits for logging.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}

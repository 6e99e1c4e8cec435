// Package call defines the durable voice-call data model: conversations,
// transcript turns, post-call analysis, and callback requests.
package call

import "time"

// Direction of a call relative to the platform.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the durable lifecycle of a conversation record.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single utterance in a conversation transcript.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentProfile is the persona snapshot taken at call start. Later edits to
// the tenant's persona never alter an in-flight or completed call.
type AgentProfile struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	Voice  string `json:"voice,omitempty"`
}

// Analysis is the post-call quality signal produced by the analyzer.
type Analysis struct {
	Rating      int      `json:"rating"`
	Sentiment   string   `json:"sentiment"`
	Categories  []string `json:"categories"`
	Resolved    bool     `json:"resolved"`
	Transferred bool     `json:"transferred"`
}

// Conversation is one call attempt.
type Conversation struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	ProviderCallID string       `json:"provider_call_id,omitempty"`
	Direction      Direction    `json:"direction"`
	CustomerNumber string       `json:"customer_number"`
	Agent          AgentProfile `json:"agent"`
	Status         Status       `json:"status"`
	Transcript     []Turn       `json:"transcript,omitempty"`
	RecordingURL   string       `json:"recording_url,omitempty"`
	DurationSecs   int          `json:"duration_seconds,omitempty"`
	Rating         *int         `json:"rating,omitempty"`
	Analysis       *Analysis    `json:"analysis,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// CallbackStatus is the operator-driven lifecycle of a callback request.
type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "pending"
	CallbackScheduled CallbackStatus = "scheduled"
	CallbackCompleted CallbackStatus = "completed"
	CallbackCancelled CallbackStatus = "cancelled"
)

// CallbackRequest is created when a conversation signals human-transfer
// intent. The engine only ever creates it at pending and attaches notes;
// every other transition is driven externally.
type CallbackRequest struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	TenantID       string         `json:"tenant_id"`
	Reason         string         `json:"reason"`
	Status         CallbackStatus `json:"status"`
	Notes          string         `json:"notes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ValidCallbackStatus reports whether s is a known callback status.
func ValidCallbackStatus(s CallbackStatus) bool {
	switch s {
	case CallbackPending, CallbackScheduled, CallbackCompleted, CallbackCancelled:
		return true
	}
	return false
}

// Analytics aggregates completed-call statistics for one tenant.
type Analytics struct {
	TotalCalls     int     `json:"total_calls"`
	CompletedCalls int     `json:"completed_calls"`
	FailedCalls    int     `json:"failed_calls"`
	AverageRating  float64 `json:"average_rating"`
	AverageSeconds float64 `json:"average_duration_seconds"`
	Transfers      int     `json:"transfers"`
}

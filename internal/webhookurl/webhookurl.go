// Package webhookurl builds and parses the webhook URLs handed to the
// telephony vendor. Tenant and call identity ride in the path, so a
// webhook can be routed after a restart with no server-side lookup.
package webhookurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformed indicates a webhook URL that this service never issued.
var ErrMalformed = errors.New("webhookurl: malformed webhook url")

// Actions appended to call webhook URLs.
const (
	ActionAnswer = ""
	ActionTurn   = "turn"
	ActionStatus = "status"
	ActionAudio  = "audio"
)

// Ref identifies the tenant, call, and action a webhook URL targets.
type Ref struct {
	TenantID string
	CallID   string
	Action   string
}

// ForCall builds the URL the vendor will hit for the given call action.
// An empty action yields the answer URL.
func ForCall(baseURL, tenantID, callID, action string) (string, error) {
	if strings.TrimSpace(baseURL) == "" {
		return "", fmt.Errorf("webhookurl: base url required")
	}
	if tenantID == "" || callID == "" {
		return "", fmt.Errorf("webhookurl: tenant and call ids required")
	}
	path := fmt.Sprintf("/voice/%s/calls/%s", url.PathEscape(tenantID), url.PathEscape(callID))
	if action != "" {
		path += "/" + action
	}
	return strings.TrimRight(baseURL, "/") + path, nil
}

// ForInbound builds the tenant-level URL that receives calls the vendor
// routes to the tenant's number.
func ForInbound(baseURL, tenantID string) (string, error) {
	if strings.TrimSpace(baseURL) == "" {
		return "", fmt.Errorf("webhookurl: base url required")
	}
	if tenantID == "" {
		return "", fmt.Errorf("webhookurl: tenant id required")
	}
	return strings.TrimRight(baseURL, "/") + "/voice/" + url.PathEscape(tenantID) + "/inbound", nil
}

// Parse recovers the Ref from a webhook URL issued by ForCall. Every
// deviation from the issued shape yields ErrMalformed.
func Parse(rawURL string) (Ref, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Ref{}, ErrMalformed
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// voice/{tenant}/calls/{call}[/{action}]
	if len(parts) < 4 || len(parts) > 5 || parts[0] != "voice" || parts[2] != "calls" {
		return Ref{}, ErrMalformed
	}
	tenantID, err := url.PathUnescape(parts[1])
	if err != nil || tenantID == "" {
		return Ref{}, ErrMalformed
	}
	callID, err := url.PathUnescape(parts[3])
	if err != nil || callID == "" {
		return Ref{}, ErrMalformed
	}
	ref := Ref{TenantID: tenantID, CallID: callID}
	if len(parts) == 5 {
		switch parts[4] {
		case ActionTurn, ActionStatus, ActionAudio:
			ref.Action = parts[4]
		default:
			return Ref{}, ErrMalformed
		}
	}
	return ref, nil
}

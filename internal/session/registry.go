package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is the in-flight lifecycle phase of a live call. It mirrors the
// durable conversation status but adds the consent and transfer phases
// that only matter while the call is connected.
type State string

const (
	StateAwaitingConsent State = "awaiting_consent"
	StateActive          State = "active"
	StateTransferPending State = "transfer_pending"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Session tracks a live call between webhooks. Postgres holds the durable
// record; this is the hot working set keyed by provider call id.
type Session struct {
	CallID         string    `json:"call_id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	State          State     `json:"state"`
	FailureCount   int       `json:"failure_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

const (
	sessionKeyPrefix = "voice:session:"
	audioKeyPrefix   = "voice:audio:"
	defaultTTL       = 24 * time.Hour
)

// Store manages live call sessions in Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a session store backed by Redis. A non-positive ttl
// falls back to 24h.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func sessionKey(callID string) string {
	return sessionKeyPrefix + callID
}

func audioKey(callID string) string {
	return audioKeyPrefix + callID
}

// Save persists or updates session state.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.CallID == "" {
		return fmt.Errorf("session: call_id required")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	return s.rdb.Set(ctx, sessionKey(sess.CallID), data, s.ttl).Err()
}

// Get retrieves session state. Returns (nil, nil) when the call is unknown.
func (s *Store) Get(ctx context.Context, callID string) (*Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(callID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("session: get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	return &sess, nil
}

// Delete removes the session and any cached audio for the call.
func (s *Store) Delete(ctx context.Context, callID string) error {
	return s.rdb.Del(ctx, sessionKey(callID), audioKey(callID)).Err()
}

// Transition moves the session to a new state and refreshes last activity.
func (s *Store) Transition(ctx context.Context, callID string, to State) (*Session, error) {
	sess, err := s.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session: call %s not found", callID)
	}
	sess.State = to
	sess.LastActivityAt = time.Now().UTC()
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RecordFailure bumps the consecutive-failure counter and returns the new
// count. A successful turn resets it via ResetFailures.
func (s *Store) RecordFailure(ctx context.Context, callID string) (int, error) {
	sess, err := s.Get(ctx, callID)
	if err != nil {
		return 0, err
	}
	if sess == nil {
		return 0, fmt.Errorf("session: call %s not found", callID)
	}
	sess.FailureCount++
	sess.LastActivityAt = time.Now().UTC()
	if err := s.Save(ctx, sess); err != nil {
		return 0, err
	}
	return sess.FailureCount, nil
}

// ResetFailures clears the consecutive-failure counter after a good turn.
func (s *Store) ResetFailures(ctx context.Context, callID string) error {
	sess, err := s.Get(ctx, callID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	if sess.FailureCount == 0 {
		return nil
	}
	sess.FailureCount = 0
	return s.Save(ctx, sess)
}

// SaveAudio caches synthesized speech for the call so the telephony
// provider can fetch it by URL on the next webhook.
func (s *Store) SaveAudio(ctx context.Context, callID string, audio []byte) error {
	if len(audio) == 0 {
		return fmt.Errorf("session: empty audio")
	}
	return s.rdb.Set(ctx, audioKey(callID), audio, s.ttl).Err()
}

// GetAudio returns cached synthesized speech, or (nil, nil) when absent.
func (s *Store) GetAudio(ctx context.Context, callID string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, audioKey(callID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("session: get audio: %w", err)
	}
	return data, nil
}

// InflightGuard serializes webhook processing per call id. A second
// webhook for the same call while one is in flight must be rejected,
// never queued, so this is a try-lock rather than a blocking lock.
type InflightGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewInflightGuard creates an empty guard.
func NewInflightGuard() *InflightGuard {
	return &InflightGuard{active: make(map[string]struct{})}
}

// Acquire claims the call id. When ok, the caller must invoke release
// exactly once. When not ok, another turn for this call is in flight.
func (g *InflightGuard) Acquire(callID string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[callID]; busy {
		return nil, false
	}
	g.active[callID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, callID)
			g.mu.Unlock()
		})
	}, true
}

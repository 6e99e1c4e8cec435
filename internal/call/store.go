package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversations, turns, and callback requests in Postgres.
// Every query is scoped by tenant id; no statement ever joins across tenants.
type Store struct {
	db querier
}

// NewStore initializes a store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("call: pgx pool required")
	}
	return &Store{db: pool}
}

// NewStoreWithQuerier wires an arbitrary querier; used by tests (pgxmock).
func NewStoreWithQuerier(db querier) *Store {
	if db == nil {
		panic("call: querier required")
	}
	return &Store{db: db}
}

// Create inserts a new conversation row. Generates the id when absent.
func (s *Store) Create(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Status == "" {
		conv.Status = StatusInitiated
	}
	query := `
		INSERT INTO conversations
			(id, tenant_id, provider_call_id, direction, customer_number,
			 agent_name, agent_prompt, agent_voice, status)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	if err := s.db.QueryRow(ctx, query,
		conv.ID,
		conv.TenantID,
		conv.ProviderCallID,
		conv.Direction,
		conv.CustomerNumber,
		conv.Agent.Name,
		conv.Agent.Prompt,
		conv.Agent.Voice,
		conv.Status,
	).Scan(&conv.CreatedAt); err != nil {
		return fmt.Errorf("call: insert conversation: %w", err)
	}
	return nil
}

const conversationColumns = `
	id, tenant_id, COALESCE(provider_call_id, ''), direction, customer_number,
	agent_name, agent_prompt, agent_voice, status,
	COALESCE(recording_url, ''), COALESCE(duration_seconds, 0),
	rating, analysis, created_at, completed_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var conv Conversation
	var analysisJSON []byte
	if err := row.Scan(
		&conv.ID,
		&conv.TenantID,
		&conv.ProviderCallID,
		&conv.Direction,
		&conv.CustomerNumber,
		&conv.Agent.Name,
		&conv.Agent.Prompt,
		&conv.Agent.Voice,
		&conv.Status,
		&conv.RecordingURL,
		&conv.DurationSecs,
		&conv.Rating,
		&analysisJSON,
		&conv.CreatedAt,
		&conv.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("call: scan conversation: %w", err)
	}
	if len(analysisJSON) > 0 {
		var a Analysis
		if err := json.Unmarshal(analysisJSON, &a); err != nil {
			return nil, fmt.Errorf("call: decode analysis: %w", err)
		}
		conv.Analysis = &a
	}
	return &conv, nil
}

// GetByID fetches a conversation with its transcript, scoped to the tenant.
func (s *Store) GetByID(ctx context.Context, tenantID, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1 AND tenant_id = $2`
	conv, err := scanConversation(s.db.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		return nil, err
	}
	turns, err := s.Transcript(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	conv.Transcript = turns
	return conv, nil
}

// FindByProviderCallID resolves the conversation a telephony webhook belongs to.
func (s *Store) FindByProviderCallID(ctx context.Context, tenantID, providerCallID string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE provider_call_id = $1 AND tenant_id = $2`
	return scanConversation(s.db.QueryRow(ctx, query, providerCallID, tenantID))
}

// SetProviderCallID fills in the vendor-assigned call id after outbound dispatch.
func (s *Store) SetProviderCallID(ctx context.Context, tenantID, id, providerCallID string) error {
	query := `UPDATE conversations SET provider_call_id = $1 WHERE id = $2 AND tenant_id = $3`
	ct, err := s.db.Exec(ctx, query, providerCallID, id, tenantID)
	if err != nil {
		return fmt.Errorf("call: set provider call id: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus moves the conversation to a new durable status.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, id string, status Status) error {
	query := `UPDATE conversations SET status = $1 WHERE id = $2 AND tenant_id = $3`
	ct, err := s.db.Exec(ctx, query, status, id, tenantID)
	if err != nil {
		return fmt.Errorf("call: update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTurn appends one turn at the next sequence position. Turns are
// append-only; nothing ever rewrites an existing sequence number.
func (s *Store) AppendTurn(ctx context.Context, tenantID, conversationID string, turn Turn) error {
	query := `
		INSERT INTO conversation_turns (conversation_id, tenant_id, seq, role, content, created_at)
		SELECT $1, $2, COALESCE(MAX(seq) + 1, 0), $3, $4, $5
		FROM conversation_turns
		WHERE conversation_id = $1 AND tenant_id = $2
	`
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.Exec(ctx, query, conversationID, tenantID, turn.Role, turn.Content, createdAt); err != nil {
		return fmt.Errorf("call: append turn: %w", err)
	}
	return nil
}

// Transcript returns the ordered turns for a conversation.
func (s *Store) Transcript(ctx context.Context, tenantID, conversationID string) ([]Turn, error) {
	query := `
		SELECT role, content, created_at
		FROM conversation_turns
		WHERE conversation_id = $1 AND tenant_id = $2
		ORDER BY seq ASC
	`
	rows, err := s.db.Query(ctx, query, conversationID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("call: load transcript: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("call: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call: iterate turns: %w", err)
	}
	return turns, nil
}

// Complete marks the conversation completed with the vendor's end-of-call
// metadata. Idempotent per provider call id: the first call wins, repeats
// report completedNow=false and change nothing.
func (s *Store) Complete(ctx context.Context, tenantID, providerCallID string, endedAt time.Time, durationSecs int, recordingURL string) (completedNow bool, err error) {
	query := `
		UPDATE conversations
		SET status = $1, completed_at = $2, duration_seconds = $3,
		    recording_url = NULLIF($4, '')
		WHERE tenant_id = $5 AND provider_call_id = $6 AND completed_at IS NULL
	`
	ct, err := s.db.Exec(ctx, query, StatusCompleted, endedAt, durationSecs, recordingURL, tenantID, providerCallID)
	if err != nil {
		return false, fmt.Errorf("call: complete conversation: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// SaveAnalysis attaches the analyzer output at most once per conversation.
func (s *Store) SaveAnalysis(ctx context.Context, tenantID, id string, a Analysis) error {
	if a.Rating < 1 || a.Rating > 10 {
		return ErrRatingOutOfRange
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("call: encode analysis: %w", err)
	}
	query := `
		UPDATE conversations
		SET rating = $1, analysis = $2
		WHERE id = $3 AND tenant_id = $4 AND rating IS NULL
	`
	if _, err := s.db.Exec(ctx, query, a.Rating, data, id, tenantID); err != nil {
		return fmt.Errorf("call: save analysis: %w", err)
	}
	return nil
}

// CreateCallback inserts a pending callback request for a transfer event.
func (s *Store) CreateCallback(ctx context.Context, req *CallbackRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = CallbackPending
	query := `
		INSERT INTO callback_requests (id, conversation_id, tenant_id, reason, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	if err := s.db.QueryRow(ctx, query,
		req.ID, req.ConversationID, req.TenantID, req.Reason, req.Status,
	).Scan(&req.CreatedAt, &req.UpdatedAt); err != nil {
		return fmt.Errorf("call: insert callback request: %w", err)
	}
	return nil
}

// AttachCallbackNotes records free-text notes on the most recent pending
// callback request for the conversation. Best-effort: no pending request
// yields ErrCallbackNotFound.
func (s *Store) AttachCallbackNotes(ctx context.Context, tenantID, conversationID, notes string) error {
	query := `
		UPDATE callback_requests
		SET notes = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM callback_requests
			WHERE conversation_id = $2 AND tenant_id = $3 AND status = $4
			ORDER BY created_at DESC
			LIMIT 1
		)
	`
	ct, err := s.db.Exec(ctx, query, notes, conversationID, tenantID, CallbackPending)
	if err != nil {
		return fmt.Errorf("call: attach callback notes: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrCallbackNotFound
	}
	return nil
}

// UpdateCallbackStatus applies an externally driven status transition.
func (s *Store) UpdateCallbackStatus(ctx context.Context, tenantID, id string, status CallbackStatus) error {
	if !ValidCallbackStatus(status) {
		return fmt.Errorf("call: %w: %q", ErrInvalidCallbackStatus, status)
	}
	query := `
		UPDATE callback_requests
		SET status = $1, updated_at = now()
		WHERE id = $2 AND tenant_id = $3
	`
	ct, err := s.db.Exec(ctx, query, status, id, tenantID)
	if err != nil {
		return fmt.Errorf("call: update callback status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrCallbackNotFound
	}
	return nil
}

// ListCallbacks returns the tenant's callback requests, newest first.
func (s *Store) ListCallbacks(ctx context.Context, tenantID string) ([]CallbackRequest, error) {
	query := `
		SELECT id, conversation_id, tenant_id, reason, status, COALESCE(notes, ''), created_at, updated_at
		FROM callback_requests
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("call: list callbacks: %w", err)
	}
	defer rows.Close()

	var out []CallbackRequest
	for rows.Next() {
		var cb CallbackRequest
		if err := rows.Scan(&cb.ID, &cb.ConversationID, &cb.TenantID, &cb.Reason, &cb.Status, &cb.Notes, &cb.CreatedAt, &cb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("call: scan callback: %w", err)
		}
		out = append(out, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call: iterate callbacks: %w", err)
	}
	return out, nil
}

// Analytics aggregates call counts and averages for a tenant, optionally
// bounded by a created-at window.
func (s *Store) Analytics(ctx context.Context, tenantID string, from, to *time.Time) (*Analytics, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COALESCE(AVG(rating) FILTER (WHERE rating IS NOT NULL), 0),
			COALESCE(AVG(duration_seconds) FILTER (WHERE duration_seconds IS NOT NULL), 0),
			COUNT(*) FILTER (WHERE (analysis ->> 'transferred')::boolean)
		FROM conversations
		WHERE tenant_id = $1
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at < $5)
	`
	var stats Analytics
	if err := s.db.QueryRow(ctx, query, tenantID, StatusCompleted, StatusFailed, from, to).Scan(
		&stats.TotalCalls,
		&stats.CompletedCalls,
		&stats.FailedCalls,
		&stats.AverageRating,
		&stats.AverageSeconds,
		&stats.Transfers,
	); err != nil {
		return nil, fmt.Errorf("call: analytics: %w", err)
	}
	return &stats, nil
}

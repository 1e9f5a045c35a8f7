package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voicelink-backend/internal/domain"
	apperrors "voicelink-backend/pkg/errors"
)

// CallRepository handles direct (one-to-one) call persistence
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create creates a new call record in pending state
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			call_id, caller_id, receiver_id, conversation_id, call_type,
			status, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		call.ID,
		call.CallerID,
		call.ReceiverID,
		call.ConversationID,
		call.Kind,
		call.Status,
		call.Metadata,
		call.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, caller_id, receiver_id, conversation_id, call_type,
		       status, started_at, ended_at, duration, metadata, created_at
		FROM calls
		WHERE call_id = $1
	`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.ID,
		&call.CallerID,
		&call.ReceiverID,
		&call.ConversationID,
		&call.Kind,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
		&call.Metadata,
		&call.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// FindActiveBetween returns the pending or active call for an unordered user
// pair, or nil when none exists. Backs the one-live-call-per-pair invariant.
func (r *CallRepository) FindActiveBetween(ctx context.Context, a, b uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, caller_id, receiver_id, conversation_id, call_type,
		       status, started_at, ended_at, duration, metadata, created_at
		FROM calls
		WHERE status IN ('pending', 'active')
		  AND ((caller_id = $1 AND receiver_id = $2) OR (caller_id = $2 AND receiver_id = $1))
		LIMIT 1
	`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, a, b).Scan(
		&call.ID,
		&call.CallerID,
		&call.ReceiverID,
		&call.ConversationID,
		&call.Kind,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
		&call.Metadata,
		&call.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find call for pair: %w", err)
	}

	return call, nil
}

// MarkActive transitions a call from pending to active and records the start
// time. Returns false when the call was no longer pending; the caller treats
// that as an invalid transition.
func (r *CallRepository) MarkActive(ctx context.Context, callID uuid.UUID, startedAt time.Time) (bool, error) {
	query := `
		UPDATE calls
		SET status = 'active', started_at = $2
		WHERE call_id = $1 AND status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, query, callID, startedAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark call active: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkTerminal moves a call from {pending, active} into a terminal state,
// recording end time and duration. Returns false when the call was already
// terminal, so concurrent End/Reject races resolve to exactly one winner.
func (r *CallRepository) MarkTerminal(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt time.Time, duration int) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}

	query := `
		UPDATE calls
		SET status = $2, ended_at = $3, duration = $4
		WHERE call_id = $1 AND status IN ('pending', 'active')
	`

	tag, err := r.pool.Exec(ctx, query, callID, status, endedAt, duration)
	if err != nil {
		return false, fmt.Errorf("failed to end call: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetUserCalls retrieves recent calls involving a user, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `
		SELECT call_id, caller_id, receiver_id, conversation_id, call_type,
		       status, started_at, ended_at, duration, metadata, created_at
		FROM calls
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		err := rows.Scan(
			&call.ID,
			&call.CallerID,
			&call.ReceiverID,
			&call.ConversationID,
			&call.Kind,
			&call.Status,
			&call.StartedAt,
			&call.EndedAt,
			&call.Duration,
			&call.Metadata,
			&call.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}

// CountUserCalls returns the total number of calls involving a user
func (r *CallRepository) CountUserCalls(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `SELECT count(*) FROM calls WHERE caller_id = $1 OR receiver_id = $1`

	var total int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count user calls: %w", err)
	}
	return total, nil
}

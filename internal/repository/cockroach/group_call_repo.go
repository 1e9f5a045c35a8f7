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

// GroupCallRepository handles group call and participant persistence.
// Join, Leave and End run as single transactions that lock the call row, so
// two racing joiners resolve to exactly one activation and a leaving host
// promotes exactly one successor.
type GroupCallRepository struct {
	pool *pgxpool.Pool
}

// NewGroupCallRepository creates a new group call repository
func NewGroupCallRepository(pool *pgxpool.Pool) *GroupCallRepository {
	return &GroupCallRepository{pool: pool}
}

const groupCallColumns = `
	call_id, group_id, call_type, status, created_by,
	started_at, ended_at, metadata, created_at`

const participantColumns = `
	call_id, user_id, role, status, is_muted, is_video_on,
	joined_at, left_at, quality, metadata, created_at`

func scanGroupCall(row pgx.Row) (*domain.GroupCall, error) {
	call := &domain.GroupCall{}
	err := row.Scan(
		&call.ID,
		&call.GroupID,
		&call.Kind,
		&call.Status,
		&call.CreatedBy,
		&call.StartedAt,
		&call.EndedAt,
		&call.Metadata,
		&call.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return call, nil
}

func scanParticipant(row pgx.Row) (*domain.CallParticipant, error) {
	p := &domain.CallParticipant{}
	err := row.Scan(
		&p.CallID,
		&p.UserID,
		&p.Role,
		&p.Status,
		&p.IsMuted,
		&p.IsVideoOn,
		&p.JoinedAt,
		&p.LeftAt,
		&p.Quality,
		&p.Metadata,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// lockCall loads the call row inside tx with FOR UPDATE, serializing all
// state transitions for one call without touching unrelated calls.
func lockCall(ctx context.Context, tx pgx.Tx, callID uuid.UUID) (*domain.GroupCall, error) {
	query := `SELECT` + groupCallColumns + `
		FROM group_calls
		WHERE call_id = $1
		FOR UPDATE`

	call, err := scanGroupCall(tx.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to lock group call: %w", err)
	}
	return call, nil
}

func listParticipantsTx(ctx context.Context, tx pgx.Tx, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `SELECT` + participantColumns + `
		FROM call_participants
		WHERE call_id = $1
		ORDER BY created_at ASC`

	rows, err := tx.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// Create persists a new group call in pending state together with its
// initial participant rows (joined creator plus invited members), rejecting
// a second live call for the same group.
func (r *GroupCallRepository) Create(ctx context.Context, call *domain.GroupCall, participants []*domain.CallParticipant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT call_id FROM group_calls
		WHERE group_id = $1 AND status IN ('pending', 'active')
		LIMIT 1
		FOR UPDATE
	`, call.GroupID).Scan(&existing)
	if err == nil {
		return apperrors.AlreadyInCallError("group already has a live call")
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check live group call: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO group_calls (`+groupCallColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		call.ID, call.GroupID, call.Kind, call.Status, call.CreatedBy,
		call.StartedAt, call.EndedAt, call.Metadata, call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create group call: %w", err)
	}

	for _, p := range participants {
		_, err = tx.Exec(ctx, `
			INSERT INTO call_participants (`+participantColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			p.CallID, p.UserID, p.Role, p.Status, p.IsMuted, p.IsVideoOn,
			p.JoinedAt, p.LeftAt, p.Quality, p.Metadata, p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create participant row: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a group call by ID
func (r *GroupCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.GroupCall, error) {
	query := `SELECT` + groupCallColumns + ` FROM group_calls WHERE call_id = $1`

	call, err := scanGroupCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get group call: %w", err)
	}
	return call, nil
}

// FindLiveByGroup returns the group's pending or active call, or nil.
func (r *GroupCallRepository) FindLiveByGroup(ctx context.Context, groupID uuid.UUID) (*domain.GroupCall, error) {
	query := `SELECT` + groupCallColumns + `
		FROM group_calls
		WHERE group_id = $1 AND status IN ('pending', 'active')
		LIMIT 1`

	call, err := scanGroupCall(r.pool.QueryRow(ctx, query, groupID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find live group call: %w", err)
	}
	return call, nil
}

// ListParticipants retrieves every participant row of a call
func (r *GroupCallRepository) ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `SELECT` + participantColumns + `
		FROM call_participants
		WHERE call_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// GetParticipant retrieves one participant row
func (r *GroupCallRepository) GetParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, error) {
	query := `SELECT` + participantColumns + `
		FROM call_participants
		WHERE call_id = $1 AND user_id = $2`

	p, err := scanParticipant(r.pool.QueryRow(ctx, query, callID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ParticipantNotFoundError()
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// Join moves a user into the call as a joined participant. Late joiners
// without a prior row get one created; invited or previously-left users are
// moved back to joined. The first join of a pending call activates it;
// the call row lock guarantees exactly one activation winner.
func (r *GroupCallRepository) Join(ctx context.Context, callID, userID uuid.UUID, audioEnabled, videoEnabled bool) (*domain.GroupJoinOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	call, err := lockCall(ctx, tx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.Terminal() {
		return nil, apperrors.InvalidTransitionError(
			fmt.Sprintf("cannot join call in status %s", call.Status))
	}

	now := time.Now()
	outcome := &domain.GroupJoinOutcome{Call: call}

	existing, err := scanParticipant(tx.QueryRow(ctx, `
		SELECT`+participantColumns+`
		FROM call_participants
		WHERE call_id = $1 AND user_id = $2
		FOR UPDATE
	`, callID, userID))
	switch {
	case err == nil:
		outcome.Rejoined = existing.Status != domain.ParticipantInvited
		existing.Status = domain.ParticipantJoined
		existing.IsMuted = !audioEnabled
		existing.IsVideoOn = videoEnabled
		existing.JoinedAt = &now
		existing.LeftAt = nil
		_, err = tx.Exec(ctx, `
			UPDATE call_participants
			SET status = 'joined', is_muted = $3, is_video_on = $4,
			    joined_at = $5, left_at = NULL
			WHERE call_id = $1 AND user_id = $2
		`, callID, userID, existing.IsMuted, existing.IsVideoOn, now)
		if err != nil {
			return nil, fmt.Errorf("failed to update participant: %w", err)
		}
		outcome.Participant = existing

	case errors.Is(err, pgx.ErrNoRows):
		// Late joiner without an invite row.
		p := &domain.CallParticipant{
			CallID:    callID,
			UserID:    userID,
			Role:      domain.RoleParticipant,
			Status:    domain.ParticipantJoined,
			IsMuted:   !audioEnabled,
			IsVideoOn: videoEnabled,
			JoinedAt:  &now,
			CreatedAt: now,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO call_participants (`+participantColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			p.CallID, p.UserID, p.Role, p.Status, p.IsMuted, p.IsVideoOn,
			p.JoinedAt, p.LeftAt, p.Quality, p.Metadata, p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert participant: %w", err)
		}
		outcome.Participant = p

	default:
		return nil, fmt.Errorf("failed to read participant: %w", err)
	}

	if call.Status == domain.CallStatusPending {
		_, err = tx.Exec(ctx, `
			UPDATE group_calls
			SET status = 'active', started_at = $2
			WHERE call_id = $1
		`, callID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to activate group call: %w", err)
		}
		call.Status = domain.CallStatusActive
		call.StartedAt = &now
		outcome.Activated = true
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit join: %w", err)
	}
	return outcome, nil
}

// Leave marks a joined participant as left. A leaving host hands the role to
// the earliest-joined remaining participant; the last leaver ends the call.
func (r *GroupCallRepository) Leave(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupLeaveOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	call, err := lockCall(ctx, tx, callID)
	if err != nil {
		return nil, err
	}

	leaver, err := scanParticipant(tx.QueryRow(ctx, `
		SELECT`+participantColumns+`
		FROM call_participants
		WHERE call_id = $1 AND user_id = $2
		FOR UPDATE
	`, callID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ParticipantNotFoundError()
		}
		return nil, fmt.Errorf("failed to read participant: %w", err)
	}
	if leaver.Status != domain.ParticipantJoined {
		return nil, apperrors.InvalidTransitionError(
			fmt.Sprintf("cannot leave with participant status %s", leaver.Status))
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE call_participants
		SET status = 'left', left_at = $3
		WHERE call_id = $1 AND user_id = $2
	`, callID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark participant left: %w", err)
	}

	outcome := &domain.GroupLeaveOutcome{Call: call}

	// Earliest-joined remaining participant, deterministic tie-break on
	// user id.
	var successor uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT user_id FROM call_participants
		WHERE call_id = $1 AND status = 'joined'
		ORDER BY joined_at ASC, user_id ASC
		LIMIT 1
	`, callID).Scan(&successor)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Last joined participant left: the call ends.
		_, err = tx.Exec(ctx, `
			UPDATE group_calls
			SET status = 'ended', ended_at = $2
			WHERE call_id = $1
		`, callID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to end group call: %w", err)
		}
		call.Status = domain.CallStatusEnded
		call.EndedAt = &now
		outcome.Ended = true

	case err == nil:
		if leaver.Role == domain.RoleHost {
			_, err = tx.Exec(ctx, `
				UPDATE call_participants
				SET role = 'host'
				WHERE call_id = $1 AND user_id = $2
			`, callID, successor)
			if err != nil {
				return nil, fmt.Errorf("failed to promote host: %w", err)
			}
			outcome.NewHostID = &successor
		}

	default:
		return nil, fmt.Errorf("failed to find successor: %w", err)
	}

	outcome.Participants, err = listParticipantsTx(ctx, tx, callID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit leave: %w", err)
	}
	return outcome, nil
}

// End force-terminates a live call: every joined participant is moved to
// left and the call becomes ended.
func (r *GroupCallRepository) End(ctx context.Context, callID uuid.UUID) (*domain.GroupEndOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	call, err := lockCall(ctx, tx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.Terminal() {
		return nil, apperrors.InvalidTransitionError(
			fmt.Sprintf("cannot end call in status %s", call.Status))
	}

	now := time.Now()
	rows, err := tx.Query(ctx, `
		UPDATE call_participants
		SET status = 'left', left_at = $2
		WHERE call_id = $1 AND status = 'joined'
		RETURNING user_id
	`, callID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to force participants out: %w", err)
	}
	var forced []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan forced participant: %w", err)
		}
		forced = append(forced, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to force participants out: %w", err)
	}

	// A call ended before anyone activated it was cancelled, not ended.
	terminal := domain.CallStatusEnded
	if call.Status == domain.CallStatusPending {
		terminal = domain.CallStatusCancelled
	}
	_, err = tx.Exec(ctx, `
		UPDATE group_calls
		SET status = $2, ended_at = $3
		WHERE call_id = $1
	`, callID, terminal, now)
	if err != nil {
		return nil, fmt.Errorf("failed to end group call: %w", err)
	}
	call.Status = terminal
	call.EndedAt = &now

	participants, err := listParticipantsTx(ctx, tx, callID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit end: %w", err)
	}
	return &domain.GroupEndOutcome{Call: call, ForcedOut: forced, Participants: participants}, nil
}

// SetMute updates a joined participant's mute flag
func (r *GroupCallRepository) SetMute(ctx context.Context, callID, userID uuid.UUID, muted bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE call_participants
		SET is_muted = $3
		WHERE call_id = $1 AND user_id = $2 AND status = 'joined'
	`, callID, userID, muted)
	if err != nil {
		return fmt.Errorf("failed to set mute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ParticipantNotFoundError()
	}
	return nil
}

// SetRole changes a joined participant's role. Promoting a new host demotes
// the current one in the same transaction so the call never has two live
// hosts; demoting the sole host of an active call is rejected.
func (r *GroupCallRepository) SetRole(ctx context.Context, callID, userID uuid.UUID, role domain.ParticipantRole) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	call, err := lockCall(ctx, tx, callID)
	if err != nil {
		return err
	}

	target, err := scanParticipant(tx.QueryRow(ctx, `
		SELECT`+participantColumns+`
		FROM call_participants
		WHERE call_id = $1 AND user_id = $2
		FOR UPDATE
	`, callID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ParticipantNotFoundError()
		}
		return fmt.Errorf("failed to read participant: %w", err)
	}
	if target.Status != domain.ParticipantJoined {
		return apperrors.InvalidTransitionError("participant is not joined")
	}

	if target.Role == domain.RoleHost && role != domain.RoleHost && call.Status == domain.CallStatusActive {
		return apperrors.InvalidTransitionError("cannot demote the only host of an active call")
	}

	if role == domain.RoleHost {
		_, err = tx.Exec(ctx, `
			UPDATE call_participants
			SET role = 'moderator'
			WHERE call_id = $1 AND role = 'host' AND user_id != $2
		`, callID, userID)
		if err != nil {
			return fmt.Errorf("failed to demote current host: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE call_participants
		SET role = $3
		WHERE call_id = $1 AND user_id = $2
	`, callID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}

	return tx.Commit(ctx)
}

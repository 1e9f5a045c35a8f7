package cassandra

import (
	"encoding/json"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"voicelink-backend/internal/domain"
)

// CallHistoryRepository stores finished-call summaries in Cassandra.
// History is append-only: one write per terminal call, never updated.
// A denormalized call_history_by_user table serves per-user listing.
type CallHistoryRepository struct {
	session *gocql.Session
}

// NewCallHistoryRepository creates a new CallHistoryRepository
func NewCallHistoryRepository(session *gocql.Session) *CallHistoryRepository {
	return &CallHistoryRepository{session: session}
}

// Save writes one history record to the main table and fans the row out to
// call_history_by_user for every participant. Per-user rows are best-effort
// copies of the main row; a partial fan-out is reported but the main record
// stays written.
func (r *CallHistoryRepository) Save(history *domain.CallHistory) error {
	if history.ID == uuid.Nil {
		history.ID = uuid.New()
	}

	participantsJSON, err := json.Marshal(history.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	var groupID gocql.UUID
	hasGroup := history.GroupID != nil
	if hasGroup {
		groupID = gocql.UUID(*history.GroupID)
	}

	query := `
		INSERT INTO call_history (
			history_id, call_id, group_id, call_type, participants,
			duration, quality, ended_reason, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = r.session.Query(query,
		history.ID,
		history.CallID,
		groupID,
		history.Kind,
		string(participantsJSON),
		history.Duration,
		history.Quality,
		history.EndedReason,
		history.EndedAt,
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to save call history: %w", err)
	}

	userQuery := `
		INSERT INTO call_history_by_user (
			user_id, ended_at, history_id, call_id, group_id, call_type,
			participants, duration, quality, ended_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, p := range history.Participants {
		err = r.session.Query(userQuery,
			p.UserID,
			history.EndedAt,
			history.ID,
			history.CallID,
			groupID,
			history.Kind,
			string(participantsJSON),
			history.Duration,
			history.Quality,
			history.EndedReason,
		).Exec()
		if err != nil {
			return fmt.Errorf("failed to save call history for user %s: %w", p.UserID, err)
		}
	}

	return nil
}

// ListByUser retrieves a user's call history newest-first with cursor-based
// pagination via Cassandra page state.
func (r *CallHistoryRepository) ListByUser(userID uuid.UUID, limit int, pageState []byte) ([]*domain.CallHistory, []byte, error) {
	query := `
		SELECT history_id, call_id, group_id, call_type, participants,
		       duration, quality, ended_reason, ended_at
		FROM call_history_by_user
		WHERE user_id = ?
		ORDER BY ended_at DESC
		LIMIT ?
	`

	iter := r.session.Query(query, userID, limit).PageState(pageState).Iter()
	defer iter.Close()

	var records []*domain.CallHistory

	for {
		h := &domain.CallHistory{}
		var groupID gocql.UUID
		var participantsJSON string
		if !iter.Scan(
			&h.ID,
			&h.CallID,
			&groupID,
			&h.Kind,
			&participantsJSON,
			&h.Duration,
			&h.Quality,
			&h.EndedReason,
			&h.EndedAt,
		) {
			break
		}
		if gid := uuid.UUID(groupID); gid != uuid.Nil {
			h.GroupID = &gid
		}
		if participantsJSON != "" {
			if err := json.Unmarshal([]byte(participantsJSON), &h.Participants); err != nil {
				return nil, nil, fmt.Errorf("failed to decode participants: %w", err)
			}
		}
		records = append(records, h)
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch call history: %w", err)
	}

	nextPageState := iter.PageState()

	return records, nextPageState, nil
}

// GetByCallID retrieves the history record of one finished call.
func (r *CallHistoryRepository) GetByCallID(callID uuid.UUID) (*domain.CallHistory, error) {
	query := `
		SELECT history_id, call_id, group_id, call_type, participants,
		       duration, quality, ended_reason, ended_at
		FROM call_history
		WHERE call_id = ?
		LIMIT 1
	`

	h := &domain.CallHistory{}
	var groupID gocql.UUID
	var participantsJSON string
	err := r.session.Query(query, callID).Scan(
		&h.ID,
		&h.CallID,
		&groupID,
		&h.Kind,
		&participantsJSON,
		&h.Duration,
		&h.Quality,
		&h.EndedReason,
		&h.EndedAt,
	)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("call history not found")
		}
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}

	if gid := uuid.UUID(groupID); gid != uuid.Nil {
		h.GroupID = &gid
	}
	if participantsJSON != "" {
		if err := json.Unmarshal([]byte(participantsJSON), &h.Participants); err != nil {
			return nil, fmt.Errorf("failed to decode participants: %w", err)
		}
	}

	return h, nil
}

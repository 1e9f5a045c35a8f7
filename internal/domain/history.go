package domain

import (
	"time"

	"github.com/google/uuid"
)

// EndedReason records why a call reached its terminal state.
type EndedReason string

const (
	EndedReasonHangup       EndedReason = "hangup"
	EndedReasonDeclined     EndedReason = "declined"
	EndedReasonMissed       EndedReason = "missed"
	EndedReasonHostEnded    EndedReason = "host_ended"
	EndedReasonLastLeft     EndedReason = "last_participant_left"
	EndedReasonDisconnected EndedReason = "disconnected"
)

// ParticipantSnapshot is the denormalized per-user slice of a finished call.
type ParticipantSnapshot struct {
	UserID   uuid.UUID       `json:"user_id"`
	Role     ParticipantRole `json:"role"`
	JoinedAt *time.Time      `json:"joined_at,omitempty"`
	LeftAt   *time.Time      `json:"left_at,omitempty"`
}

// CallHistory is the immutable post-hoc summary written exactly once when a
// call or group call reaches a terminal state. Never updated afterwards.
type CallHistory struct {
	ID           uuid.UUID             `json:"id"`
	CallID       uuid.UUID             `json:"call_id"`
	GroupID      *uuid.UUID            `json:"group_id,omitempty"`
	Kind         CallKind              `json:"call_type"`
	Participants []ParticipantSnapshot `json:"participants"`
	Duration     int                   `json:"duration"` // whole seconds
	Quality      string                `json:"quality,omitempty"`
	EndedReason  EndedReason           `json:"ended_reason"`
	EndedAt      time.Time             `json:"ended_at"`
}

// SnapshotParticipants converts durable participant rows into the history
// snapshot form, keeping every user who ever had a row.
func SnapshotParticipants(rows []*CallParticipant) []ParticipantSnapshot {
	out := make([]ParticipantSnapshot, 0, len(rows))
	for _, p := range rows {
		out = append(out, ParticipantSnapshot{
			UserID:   p.UserID,
			Role:     p.Role,
			JoinedAt: p.JoinedAt,
			LeftAt:   p.LeftAt,
		})
	}
	return out
}

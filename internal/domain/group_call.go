package domain

import (
	"time"

	"github.com/google/uuid"
)

// GroupCall represents a multi-party call scoped to a group.
// Invariant: at most one call in {pending, active} per group.
type GroupCall struct {
	ID        uuid.UUID         `json:"call_id"`
	GroupID   uuid.UUID         `json:"group_id"`
	Kind      CallKind          `json:"call_type"`
	Status    CallStatus        `json:"status"`
	CreatedBy uuid.UUID         `json:"created_by"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ParticipantRole is a participant's capability level within one call.
type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleModerator   ParticipantRole = "moderator"
	RoleParticipant ParticipantRole = "participant"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r ParticipantRole) bool {
	return r == RoleHost || r == RoleModerator || r == RoleParticipant
}

// ParticipantStatus tracks one user's membership state in one call.
// Transitions only move forward: invited -> joined|declined|missed,
// joined -> left. A left/declined/missed participant returns to joined only
// through an explicit re-join.
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantDeclined ParticipantStatus = "declined"
	ParticipantMissed   ParticipantStatus = "missed"
	ParticipantLeft     ParticipantStatus = "left"
)

// CallParticipant is the durable record of one user's membership in one call.
// Unique per (call_id, user_id).
type CallParticipant struct {
	CallID    uuid.UUID         `json:"call_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Role      ParticipantRole   `json:"role"`
	Status    ParticipantStatus `json:"status"`
	IsMuted   bool              `json:"is_muted"`
	IsVideoOn bool              `json:"is_video_on"`
	JoinedAt  *time.Time        `json:"joined_at,omitempty"`
	LeftAt    *time.Time        `json:"left_at,omitempty"`
	Quality   string            `json:"quality,omitempty"` // connection-quality hint
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// GroupMember is the slice of group-membership data the call core consumes
// from the external membership store.
type GroupMember struct {
	GroupID  uuid.UUID `json:"group_id"`
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	RealName string    `json:"real_name,omitempty"`
	IsAdmin  bool      `json:"is_admin"`
}

// Identity returns the member's display identity snapshot.
func (m *GroupMember) Identity() Identity {
	return Identity{ID: m.UserID, Username: m.Username, RealName: m.RealName}
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallKind distinguishes audio-only calls from video calls.
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// CallStatus is the lifecycle state of a call. Values are persisted and part
// of the wire contract; do not rename.
type CallStatus string

const (
	CallStatusPending   CallStatus = "pending"
	CallStatusActive    CallStatus = "active"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
	CallStatusDeclined  CallStatus = "declined"
	CallStatusCancelled CallStatus = "cancelled"
)

// Terminal reports whether s is a final state that no operation may leave.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusMissed, CallStatusDeclined, CallStatusCancelled:
		return true
	}
	return false
}

// Call represents a one-to-one call between two users.
// Invariant: at most one call in {pending, active} per unordered user pair.
type Call struct {
	ID             uuid.UUID         `json:"call_id"`
	CallerID       uuid.UUID         `json:"caller_id"`
	ReceiverID     uuid.UUID         `json:"receiver_id"`
	ConversationID uuid.UUID         `json:"conversation_id"`
	Kind           CallKind          `json:"call_type"`
	Status         CallStatus        `json:"status"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	EndedAt        *time.Time        `json:"ended_at,omitempty"`
	Duration       int               `json:"duration"` // whole seconds of active time
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// OtherParty returns the peer of userID in a direct call.
func (c *Call) OtherParty(userID uuid.UUID) uuid.UUID {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}

// IsParty reports whether userID is the caller or the receiver.
func (c *Call) IsParty(userID uuid.UUID) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}

// DurationSince computes the call duration in whole seconds from the recorded
// start time. Clock skew or a missing start time yields 0, never a negative
// value.
func (c *Call) DurationSince(now time.Time) int {
	if c.StartedAt == nil {
		return 0
	}
	d := int(now.Sub(*c.StartedAt).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

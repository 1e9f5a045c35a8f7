package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event names are part of the wire contract with clients. Renaming any of
// them is a breaking change.
const (
	EventPresenceChanged = "presence_changed"

	EventIncomingCall = "incoming_call"
	EventCallAccepted = "call_accepted"
	EventCallRejected = "call_rejected"
	EventCallEnded    = "call_ended"

	EventWebRTCOffer            = "webrtc:offer"
	EventWebRTCAnswer           = "webrtc:answer"
	EventWebRTCICECandidate     = "webrtc:ice-candidate"
	EventWebRTCRoomJoined       = "webrtc:room-joined"
	EventWebRTCParticipantJoin  = "webrtc:participant-joined"
	EventWebRTCParticipantLeft  = "webrtc:participant-left"

	EventGroupCallCreated      = "group_call_created"
	EventParticipantJoinedCall = "participant_joined_call"
	EventParticipantLeftCall   = "participant_left_call"
	EventGroupCallEnded        = "group_call_ended"
	EventParticipantMuted      = "participant_muted"
	EventParticipantRole       = "participant_role_changed"

	EventCallInitiated = "call_initiated"
	EventCallError     = "call_error"
)

// Event is one server-to-client message. Every payload below is a closed,
// typed variant; handlers never emit free-form maps.
type Event interface {
	EventName() string
}

// Envelope is the frame every WebSocket message travels in, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent marshals an event into its wire envelope.
func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: e.EventName(), Data: data})
}

// PresenceChangedEvent is broadcast to every connection when a user comes
// online or their last connection goes away.
type PresenceChangedEvent struct {
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username,omitempty"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

func (PresenceChangedEvent) EventName() string { return EventPresenceChanged }

// IncomingCallEvent rings the receiver of a direct call.
type IncomingCallEvent struct {
	CallID         uuid.UUID `json:"callId"`
	FromUserID     uuid.UUID `json:"fromUserId"`
	CallType       CallKind  `json:"callType"`
	ConversationID uuid.UUID `json:"conversationId"`
	From           Identity  `json:"from"`
	Timestamp      time.Time `json:"timestamp"`
}

func (IncomingCallEvent) EventName() string { return EventIncomingCall }

// CallAcceptedEvent tells the caller the receiver picked up.
type CallAcceptedEvent struct {
	CallID         uuid.UUID `json:"callId"`
	FromUserID     uuid.UUID `json:"fromUserId"`
	ConversationID uuid.UUID `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

func (CallAcceptedEvent) EventName() string { return EventCallAccepted }

// CallRejectedEvent tells the caller the receiver declined.
type CallRejectedEvent struct {
	CallID         uuid.UUID `json:"callId"`
	FromUserID     uuid.UUID `json:"fromUserId"`
	ConversationID uuid.UUID `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

func (CallRejectedEvent) EventName() string { return EventCallRejected }

// CallEndedEvent tells the other party the call is over.
type CallEndedEvent struct {
	CallID         uuid.UUID `json:"callId"`
	FromUserID     uuid.UUID `json:"fromUserId"`
	ConversationID uuid.UUID `json:"conversationId"`
	Duration       int       `json:"duration,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (CallEndedEvent) EventName() string { return EventCallEnded }

// SignalEvent carries one opaque WebRTC negotiation payload between peers.
// The relay never inspects Payload.
type SignalEvent struct {
	Kind         string          `json:"-"` // one of the webrtc:* signal names
	CallRoomID   string          `json:"callRoomId"`
	FromSocketID string          `json:"fromSocketId"`
	FromUserID   uuid.UUID       `json:"fromUserId"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

func (e SignalEvent) EventName() string { return e.Kind }

// RoomParticipant describes one live connection inside a signaling room.
type RoomParticipant struct {
	SocketID    string            `json:"socketId"`
	ID          uuid.UUID         `json:"id"`
	DisplayName string            `json:"displayName"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RoomJoinedEvent confirms a join to the joiner and lists who is already in
// the room.
type RoomJoinedEvent struct {
	CallRoomID           string            `json:"callRoomId"`
	ParticipantCount     int               `json:"participantCount"`
	ExistingParticipants []RoomParticipant `json:"existingParticipants"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	Timestamp            time.Time         `json:"timestamp"`
}

func (RoomJoinedEvent) EventName() string { return EventWebRTCRoomJoined }

// RoomPeerEvent announces a peer joining or leaving a signaling room to the
// remaining members.
type RoomPeerEvent struct {
	Joined           bool            `json:"-"`
	CallRoomID       string          `json:"callRoomId"`
	Participant      RoomParticipant `json:"participant"`
	ParticipantCount int             `json:"participantCount"`
	Timestamp        time.Time       `json:"timestamp"`
}

func (e RoomPeerEvent) EventName() string {
	if e.Joined {
		return EventWebRTCParticipantJoin
	}
	return EventWebRTCParticipantLeft
}

// GroupCallCreatedEvent invites every active group member to a new call.
type GroupCallCreatedEvent struct {
	CallID    uuid.UUID `json:"callId"`
	GroupID   uuid.UUID `json:"groupId"`
	CallType  CallKind  `json:"callType"`
	CreatedBy Identity  `json:"createdBy"`
	Timestamp time.Time `json:"timestamp"`
}

func (GroupCallCreatedEvent) EventName() string { return EventGroupCallCreated }

// ParticipantJoinedCallEvent announces a new joined participant to everyone
// already in the group call.
type ParticipantJoinedCallEvent struct {
	CallID      uuid.UUID `json:"callId"`
	GroupID     uuid.UUID `json:"groupId"`
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	IsMuted     bool      `json:"isMuted"`
	IsVideoOn   bool      `json:"isVideoOn"`
	Timestamp   time.Time `json:"timestamp"`
}

func (ParticipantJoinedCallEvent) EventName() string { return EventParticipantJoinedCall }

// ParticipantLeftCallEvent announces a departure; NewHostID is set when the
// leaver was the host and another participant was promoted.
type ParticipantLeftCallEvent struct {
	CallID    uuid.UUID  `json:"callId"`
	GroupID   uuid.UUID  `json:"groupId"`
	UserID    uuid.UUID  `json:"userId"`
	NewHostID *uuid.UUID `json:"newHostId,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func (ParticipantLeftCallEvent) EventName() string { return EventParticipantLeftCall }

// GroupCallEndedEvent broadcasts call termination to every participant.
type GroupCallEndedEvent struct {
	CallID    uuid.UUID   `json:"callId"`
	GroupID   uuid.UUID   `json:"groupId"`
	EndedBy   uuid.UUID   `json:"endedBy"`
	Reason    EndedReason `json:"reason"`
	Duration  int         `json:"duration"`
	Timestamp time.Time   `json:"timestamp"`
}

func (GroupCallEndedEvent) EventName() string { return EventGroupCallEnded }

// ParticipantMutedEvent reports a mute toggle, by the user or by a moderator.
type ParticipantMutedEvent struct {
	CallID    uuid.UUID `json:"callId"`
	UserID    uuid.UUID `json:"userId"`
	Muted     bool      `json:"muted"`
	ByUserID  uuid.UUID `json:"byUserId"`
	Timestamp time.Time `json:"timestamp"`
}

func (ParticipantMutedEvent) EventName() string { return EventParticipantMuted }

// ParticipantRoleChangedEvent reports a role change made by the host.
type ParticipantRoleChangedEvent struct {
	CallID    uuid.UUID       `json:"callId"`
	UserID    uuid.UUID       `json:"userId"`
	Role      ParticipantRole `json:"role"`
	ByUserID  uuid.UUID       `json:"byUserId"`
	Timestamp time.Time       `json:"timestamp"`
}

func (ParticipantRoleChangedEvent) EventName() string { return EventParticipantRole }

// CallInitiatedEvent acknowledges a call_user command to the initiating
// connection. UserOffline is true when the receiver had no live connection
// and the call went straight to missed; no incoming_call was sent.
type CallInitiatedEvent struct {
	CallID         uuid.UUID  `json:"callId"`
	ReceiverID     uuid.UUID  `json:"receiverId"`
	ConversationID uuid.UUID  `json:"conversationId"`
	Status         CallStatus `json:"status"`
	UserOffline    bool       `json:"userOffline"`
	Timestamp      time.Time  `json:"timestamp"`
}

func (CallInitiatedEvent) EventName() string { return EventCallInitiated }

// CallErrorEvent surfaces a rejected operation to the connection that issued
// it. State-machine violations are never silently swallowed.
type CallErrorEvent struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	CallID     string    `json:"callId,omitempty"`
	CallRoomID string    `json:"callRoomId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (CallErrorEvent) EventName() string { return EventCallError }

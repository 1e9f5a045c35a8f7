package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
	"voicelink-backend/internal/room"
	"voicelink-backend/internal/service/call"
	"voicelink-backend/internal/service/groupcall"
	"voicelink-backend/internal/service/signaling"
	"voicelink-backend/pkg/constants"
	apperrors "voicelink-backend/pkg/errors"
	"voicelink-backend/pkg/logger"
)

// Client commands. Names are part of the wire contract.
const (
	CmdCallUser   = "call_user"
	CmdAnswerCall = "answer_call"
	CmdRejectCall = "reject_call"
	CmdEndCall    = "end_call"

	CmdCreateGroupCall = "create_group_call"
	CmdJoinGroupCall   = "join_group_call"
	CmdLeaveGroupCall  = "leave_group_call"
	CmdEndGroupCall    = "end_group_call"
	CmdToggleMute      = "toggle_mute"
	CmdUpdateRole      = "update_participant_role"

	CmdJoinRoom     = "webrtc:join-room"
	CmdLeaveRoom    = "webrtc:leave-room"
	CmdOffer        = "webrtc:offer"
	CmdAnswer       = "webrtc:answer"
	CmdICECandidate = "webrtc:ice-candidate"
)

func contextWithDefaultTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), constants.DefaultTimeout)
}

// dispatch routes one inbound frame to its handler. Runs on the connection's
// readPump so commands from one client are processed in order. Every rejected
// operation comes back as a call_error; nothing is silently swallowed.
func (g *Gateway) dispatch(c *Client, raw []byte) {
	var envelope domain.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		g.sendError(c, "", apperrors.InvalidInputError("malformed message"))
		return
	}

	ctx, cancel := contextWithDefaultTimeout()
	defer cancel()

	var err error
	switch envelope.Event {
	case CmdCallUser:
		err = g.handleCallUser(ctx, c, envelope.Data)
	case CmdAnswerCall:
		err = g.handleAnswerCall(ctx, c, envelope.Data)
	case CmdRejectCall:
		err = g.handleRejectCall(ctx, c, envelope.Data)
	case CmdEndCall:
		err = g.handleEndCall(ctx, c, envelope.Data)
	case CmdCreateGroupCall:
		err = g.handleCreateGroupCall(ctx, c, envelope.Data)
	case CmdJoinGroupCall:
		err = g.handleJoinGroupCall(ctx, c, envelope.Data)
	case CmdLeaveGroupCall:
		err = g.handleLeaveGroupCall(ctx, c, envelope.Data)
	case CmdEndGroupCall:
		err = g.handleEndGroupCall(ctx, c, envelope.Data)
	case CmdToggleMute:
		err = g.handleToggleMute(ctx, c, envelope.Data)
	case CmdUpdateRole:
		err = g.handleUpdateRole(ctx, c, envelope.Data)
	case CmdJoinRoom:
		err = g.handleJoinRoom(ctx, c, envelope.Data)
	case CmdLeaveRoom:
		err = g.handleLeaveRoom(ctx, c, envelope.Data)
	case CmdOffer, CmdAnswer, CmdICECandidate:
		err = g.handleSignal(ctx, c, envelope.Event, envelope.Data)
	default:
		err = apperrors.InvalidInputError(fmt.Sprintf("unknown command %q", envelope.Event))
	}

	if err != nil {
		g.sendError(c, envelope.Event, err)
	}
}

// sendError surfaces a rejected command back to the issuing connection.
func (g *Gateway) sendError(c *Client, command string, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.Code == apperrors.ErrCodeInternal || appErr.Code == apperrors.ErrCodeDatabase {
		logger.Error("Command failed",
			zap.String("command", command),
			zap.String("socket_id", c.socketID),
			zap.Error(err))
	}
	g.fanout.ToConnection(c.socketID, domain.CallErrorEvent{
		Code:      string(appErr.Code),
		Message:   appErr.Message,
		Timestamp: time.Now(),
	})
}

func decode[T any](data json.RawMessage) (*T, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperrors.InvalidInputError("malformed payload")
	}
	return &payload, nil
}

type callUserPayload struct {
	ReceiverID     uuid.UUID       `json:"receiverId"`
	CallType       domain.CallKind `json:"callType"`
	ConversationID uuid.UUID       `json:"conversationId"`
}

func (g *Gateway) handleCallUser(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[callUserPayload](data)
	if err != nil {
		return err
	}

	out, err := g.calls.Initiate(ctx, &call.InitiateInput{
		CallerID:       c.identity.ID,
		ReceiverID:     payload.ReceiverID,
		Kind:           payload.CallType,
		ConversationID: payload.ConversationID,
	})
	if err != nil {
		return err
	}

	if !out.UserOffline {
		c.trackDirectCall(out.Call.ID)
	}

	g.fanout.ToConnection(c.socketID, domain.CallInitiatedEvent{
		CallID:         out.Call.ID,
		ReceiverID:     out.Call.ReceiverID,
		ConversationID: out.Call.ConversationID,
		Status:         out.Call.Status,
		UserOffline:    out.UserOffline,
		Timestamp:      time.Now(),
	})
	return nil
}

type callIDPayload struct {
	CallID uuid.UUID `json:"callId"`
}

func (g *Gateway) handleAnswerCall(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[callIDPayload](data)
	if err != nil {
		return err
	}
	if _, err := g.calls.Accept(ctx, payload.CallID, c.identity.ID); err != nil {
		return err
	}
	c.trackDirectCall(payload.CallID)
	return nil
}

func (g *Gateway) handleRejectCall(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[callIDPayload](data)
	if err != nil {
		return err
	}
	_, err = g.calls.Reject(ctx, payload.CallID, c.identity.ID)
	return err
}

type endCallPayload struct {
	CallID uuid.UUID          `json:"callId"`
	Reason domain.EndedReason `json:"reason,omitempty"`
}

func (g *Gateway) handleEndCall(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[endCallPayload](data)
	if err != nil {
		return err
	}
	if _, err := g.calls.End(ctx, &call.EndInput{
		CallID: payload.CallID,
		UserID: c.identity.ID,
		Reason: payload.Reason,
	}); err != nil {
		return err
	}
	c.untrackDirectCall(payload.CallID)
	return nil
}

type createGroupCallPayload struct {
	GroupID  uuid.UUID       `json:"groupId"`
	CallType domain.CallKind `json:"callType"`
}

func (g *Gateway) handleCreateGroupCall(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[createGroupCallPayload](data)
	if err != nil {
		return err
	}
	out, err := g.groupCalls.Create(ctx, &groupcall.CreateInput{
		GroupID:   payload.GroupID,
		CreatorID: c.identity.ID,
		Kind:      payload.CallType,
	})
	if err != nil {
		return err
	}
	c.trackGroupCall(out.Call.ID)

	// The creator is already a joined participant; reuse the invite event as
	// its acknowledgement so it learns the call id.
	g.fanout.ToConnection(c.socketID, domain.GroupCallCreatedEvent{
		CallID:    out.Call.ID,
		GroupID:   out.Call.GroupID,
		CallType:  out.Call.Kind,
		CreatedBy: c.identity,
		Timestamp: time.Now(),
	})
	return nil
}

type joinGroupCallPayload struct {
	CallID       uuid.UUID `json:"callId"`
	AudioEnabled bool      `json:"audioEnabled"`
	VideoEnabled bool      `json:"videoEnabled"`
}

func (g *Gateway) handleJoinGroupCall(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[joinGroupCallPayload](data)
	if err != nil {
		return err
	}
	if _, err := g.groupCalls.Join(ctx, &groupcall.JoinInput{
		CallID:       payload.CallID,
		UserID:       c.identity.ID,
		AudioEnabled: payload.AudioEnabled,
		VideoEnabled: payload.VideoEnabled,
	}); err != nil {
		return err
	}
	c.trackGroupCall(payload.CallID)
	return nil
}

func (g *Gateway) handleLeaveGroupCall(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[callIDPayload](data)
	if err != nil {
		return err
	}
	if _, err := g.groupCalls.Leave(ctx, &groupcall.LeaveInput{
		CallID: payload.CallID,
		UserID: c.identity.ID,
	}); err != nil {
		return err
	}
	c.untrackGroupCall(payload.CallID)
	return nil
}

func (g *Gateway) handleEndGroupCall(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[callIDPayload](data)
	if err != nil {
		return err
	}
	if _, err := g.groupCalls.End(ctx, payload.CallID, c.identity.ID); err != nil {
		return err
	}
	c.untrackGroupCall(payload.CallID)
	return nil
}

type toggleMutePayload struct {
	CallID uuid.UUID `json:"callId"`
	UserID uuid.UUID `json:"userId,omitempty"` // target; empty means self
	Muted  bool      `json:"muted"`
}

func (g *Gateway) handleToggleMute(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[toggleMutePayload](data)
	if err != nil {
		return err
	}
	target := payload.UserID
	if target == uuid.Nil {
		target = c.identity.ID
	}
	return g.groupCalls.SetMute(ctx, &groupcall.SetMuteInput{
		CallID:   payload.CallID,
		TargetID: target,
		ByUserID: c.identity.ID,
		Muted:    payload.Muted,
	})
}

type updateRolePayload struct {
	CallID uuid.UUID              `json:"callId"`
	UserID uuid.UUID              `json:"userId"`
	Role   domain.ParticipantRole `json:"role"`
}

func (g *Gateway) handleUpdateRole(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[updateRolePayload](data)
	if err != nil {
		return err
	}
	return g.groupCalls.SetRole(ctx, &groupcall.SetRoleInput{
		CallID:   payload.CallID,
		TargetID: payload.UserID,
		ByUserID: c.identity.ID,
		Role:     payload.Role,
	})
}

type joinRoomPayload struct {
	CallRoomID string            `json:"callRoomId"`
	CallType   domain.CallKind   `json:"callType,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (g *Gateway) handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[joinRoomPayload](data)
	if err != nil {
		return err
	}
	kind := payload.CallType
	if kind == "" {
		kind = domain.CallKindVideo
	}
	return g.signals.JoinRoom(ctx, &signaling.JoinInput{
		RoomID: payload.CallRoomID,
		Member: room.Member{
			SocketID: c.socketID,
			UserID:   c.identity.ID,
			Identity: c.identity,
			Metadata: payload.Metadata,
			JoinedAt: time.Now(),
		},
		Kind: kind,
	})
}

type leaveRoomPayload struct {
	CallRoomID string `json:"callRoomId"`
}

func (g *Gateway) handleLeaveRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decode[leaveRoomPayload](data)
	if err != nil {
		return err
	}
	g.signals.LeaveRoom(ctx, payload.CallRoomID, c.socketID)
	return nil
}

type signalPayload struct {
	CallRoomID string          `json:"callRoomId"`
	ToSocketID string          `json:"toSocketId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func (g *Gateway) handleSignal(ctx context.Context, c *Client, kind string, data json.RawMessage) error {
	payload, err := decode[signalPayload](data)
	if err != nil {
		return err
	}
	return g.signals.Relay(ctx, &signaling.RelayInput{
		Kind:         kind,
		RoomID:       payload.CallRoomID,
		FromSocketID: c.socketID,
		FromUserID:   c.identity,
		ToSocketID:   payload.ToSocketID,
		Payload:      payload.Payload,
	})
}

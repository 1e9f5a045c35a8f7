package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"voicelink-backend/internal/database"
	"voicelink-backend/internal/domain"
	"voicelink-backend/internal/room"
	apperrors "voicelink-backend/pkg/errors"
	"voicelink-backend/pkg/logger"
	"voicelink-backend/pkg/metrics"
)

// Notifier delivers events to local connections.
type Notifier interface {
	ToConnection(socketID string, event domain.Event) bool
	ToConnectionFrame(socketID string, frame []byte) bool
	ToRoom(roomID string, event domain.Event, exceptSocketID string) int
}

// Service relays WebRTC negotiation payloads between room members without
// ever inspecting them. Offers and answers require both ends to be current
// room members; ICE candidates are forwarded best-effort because they race
// with disconnects by nature. A Redis pub/sub channel per room bridges
// rooms that span instances.
type Service struct {
	rooms    *room.Tracker
	notifier Notifier
	redis    *database.RedisClient
	metrics  *metrics.Metrics

	// instanceID guards against re-delivering our own bridge messages.
	instanceID string

	mu         sync.Mutex
	subCancels map[string]context.CancelFunc

	now func() time.Time
}

// NewService creates a new signaling service. redis may be nil for
// single-instance deployments.
func NewService(rooms *room.Tracker, notifier Notifier, redis *database.RedisClient, instanceID string, m *metrics.Metrics) *Service {
	return &Service{
		rooms:      rooms,
		notifier:   notifier,
		redis:      redis,
		metrics:    m,
		instanceID: instanceID,
		subCancels: make(map[string]context.CancelFunc),
		now:        time.Now,
	}
}

// validSignalKind reports whether kind is one of the relayable signal names.
func validSignalKind(kind string) bool {
	switch kind {
	case domain.EventWebRTCOffer, domain.EventWebRTCAnswer, domain.EventWebRTCICECandidate:
		return true
	}
	return false
}

// JoinInput carries everything needed to place a connection in a room.
type JoinInput struct {
	RoomID string
	Member room.Member
	Kind   domain.CallKind
}

// JoinRoom adds a connection to a signaling room, creating the room on first
// join. The joiner receives a room-joined confirmation listing existing
// members; everyone else learns about the new peer.
func (s *Service) JoinRoom(ctx context.Context, input *JoinInput) error {
	if input.RoomID == "" {
		return apperrors.InvalidInputError("room id is required")
	}

	result := s.rooms.Join(input.RoomID, input.Member, input.Kind)
	if result.Created {
		s.subscribeRoom(input.RoomID)
	}
	if s.metrics != nil {
		s.metrics.SetRoomsActive(s.rooms.RoomCount())
	}

	now := s.now()
	existing := make([]domain.RoomParticipant, 0, len(result.Existing))
	for _, m := range result.Existing {
		existing = append(existing, roomParticipant(m))
	}

	s.notifier.ToConnection(input.Member.SocketID, domain.RoomJoinedEvent{
		CallRoomID:           input.RoomID,
		ParticipantCount:     result.Count,
		ExistingParticipants: existing,
		Timestamp:            now,
	})

	peerEvent := domain.RoomPeerEvent{
		Joined:           true,
		CallRoomID:       input.RoomID,
		Participant:      roomParticipant(input.Member),
		ParticipantCount: result.Count,
		Timestamp:        now,
	}
	s.notifier.ToRoom(input.RoomID, peerEvent, input.Member.SocketID)
	s.publishToBridge(input.RoomID, "", peerEvent)

	logger.Debug("Connection joined signaling room",
		zap.String("room_id", input.RoomID),
		zap.String("socket_id", input.Member.SocketID),
		zap.Int("participant_count", result.Count))

	return nil
}

// LeaveRoom removes a connection from a room and notifies the remaining
// members. Leaving a room the connection is not in is a no-op.
func (s *Service) LeaveRoom(ctx context.Context, roomID, socketID string) {
	result := s.rooms.Leave(roomID, socketID)
	if !result.Removed {
		return
	}
	if result.Deleted {
		s.unsubscribeRoom(roomID)
	}
	if s.metrics != nil {
		s.metrics.SetRoomsActive(s.rooms.RoomCount())
	}

	remaining := len(result.Remaining)
	peerEvent := domain.RoomPeerEvent{
		Joined:           false,
		CallRoomID:       roomID,
		Participant:      roomParticipant(result.Member),
		ParticipantCount: remaining,
		Timestamp:        s.now(),
	}
	if remaining > 0 {
		s.notifier.ToRoom(roomID, peerEvent, socketID)
	}
	s.publishToBridge(roomID, "", peerEvent)

	logger.Debug("Connection left signaling room",
		zap.String("room_id", roomID),
		zap.String("socket_id", socketID),
		zap.Int("remaining", remaining))
}

// LeaveAllRooms removes a connection from every room it is in, used during
// disconnect cleanup.
func (s *Service) LeaveAllRooms(ctx context.Context, socketID string) {
	for _, roomID := range s.rooms.RoomsOf(socketID) {
		s.LeaveRoom(ctx, roomID, socketID)
	}
}

// RelayInput is one opaque signal to forward. An empty ToSocketID broadcasts
// to every other room member.
type RelayInput struct {
	Kind         string
	RoomID       string
	FromSocketID string
	FromUserID   domain.Identity
	ToSocketID   string
	Payload      json.RawMessage
}

// Relay forwards one signal. The sender must be a room member; for offers
// and answers the target must be too. A missing ICE target is tolerated
// since candidates race with disconnects.
func (s *Service) Relay(ctx context.Context, input *RelayInput) error {
	if !validSignalKind(input.Kind) {
		return apperrors.InvalidInputError(fmt.Sprintf("unknown signal kind %q", input.Kind))
	}

	if !s.rooms.IsMember(input.RoomID, input.FromSocketID) {
		if s.metrics != nil {
			s.metrics.SignalDropped("sender_not_member")
		}
		return apperrors.SignalingViolationError(
			fmt.Sprintf("sender is not a member of room %s", input.RoomID))
	}

	event := domain.SignalEvent{
		Kind:         input.Kind,
		CallRoomID:   input.RoomID,
		FromSocketID: input.FromSocketID,
		FromUserID:   input.FromUserID.ID,
		Payload:      input.Payload,
		Timestamp:    s.now(),
	}

	if input.ToSocketID != "" {
		targetIsMember := s.rooms.IsMember(input.RoomID, input.ToSocketID)
		if !targetIsMember && input.Kind != domain.EventWebRTCICECandidate {
			if s.metrics != nil {
				s.metrics.SignalDropped("target_not_member")
			}
			return apperrors.SignalingViolationError(
				fmt.Sprintf("target %s is not a member of room %s", input.ToSocketID, input.RoomID))
		}

		delivered := false
		if targetIsMember {
			delivered = s.notifier.ToConnection(input.ToSocketID, event)
		}
		if !delivered {
			// Target may live on a sibling instance, or may have just
			// disconnected. Either way the bridge is the only remaining
			// path; ICE losses here are acceptable.
			s.publishToBridge(input.RoomID, input.ToSocketID, event)
		}
	} else {
		s.notifier.ToRoom(input.RoomID, event, input.FromSocketID)
		s.publishToBridge(input.RoomID, "", event)
	}

	if s.metrics != nil {
		s.metrics.SignalRelayed(input.Kind)
	}

	return nil
}

// bridgeMessage is the envelope signaling events travel in between
// instances. Origin filters out our own publishes.
type bridgeMessage struct {
	Origin     string          `json:"origin"`
	RoomID     string          `json:"roomId"`
	ToSocketID string          `json:"toSocketId,omitempty"`
	Event      string          `json:"event"`
	Frame      json.RawMessage `json:"frame"`
}

func bridgeChannel(roomID string) string {
	return "signal:" + roomID
}

func (s *Service) publishToBridge(roomID, toSocketID string, event domain.Event) {
	if s.redis == nil {
		return
	}

	frame, err := domain.EncodeEvent(event)
	if err != nil {
		logger.Error("Failed to encode bridge event",
			zap.String("room_id", roomID),
			zap.Error(err))
		return
	}

	msg, err := json.Marshal(bridgeMessage{
		Origin:     s.instanceID,
		RoomID:     roomID,
		ToSocketID: toSocketID,
		Event:      event.EventName(),
		Frame:      frame,
	})
	if err != nil {
		return
	}

	if err := s.redis.SafePublish(context.Background(), bridgeChannel(roomID), msg).Err(); err != nil {
		logger.Warn("Failed to publish to signaling bridge",
			zap.String("room_id", roomID),
			zap.Error(err))
	}
}

// subscribeRoom starts the per-room bridge subscription. One goroutine per
// live room, cancelled when the room empties locally.
func (s *Service) subscribeRoom(roomID string) {
	if s.redis == nil {
		return
	}

	s.mu.Lock()
	if _, exists := s.subCancels[roomID]; exists {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.subCancels[roomID] = cancel
	s.mu.Unlock()

	go s.consumeBridge(ctx, roomID)
}

func (s *Service) unsubscribeRoom(roomID string) {
	s.mu.Lock()
	if cancel, ok := s.subCancels[roomID]; ok {
		cancel()
		delete(s.subCancels, roomID)
	}
	s.mu.Unlock()
}

func (s *Service) consumeBridge(ctx context.Context, roomID string) {
	pubsub := s.redis.SafeSubscribe(ctx, bridgeChannel(roomID))
	if pubsub == nil {
		logger.Warn("Signaling bridge unavailable, room is instance-local",
			zap.String("room_id", roomID))
		return
	}
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var bm bridgeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				logger.Warn("Malformed bridge message",
					zap.String("room_id", roomID),
					zap.Error(err))
				continue
			}
			if bm.Origin == s.instanceID {
				continue
			}
			s.deliverBridged(&bm)
		}
	}
}

// deliverBridged hands a sibling instance's event to local room members.
// Frames arrive pre-encoded and go straight to the send queues.
func (s *Service) deliverBridged(bm *bridgeMessage) {
	if bm.ToSocketID != "" {
		if s.rooms.IsMember(bm.RoomID, bm.ToSocketID) {
			s.notifier.ToConnectionFrame(bm.ToSocketID, bm.Frame)
		}
		return
	}
	for _, m := range s.rooms.Members(bm.RoomID) {
		s.notifier.ToConnectionFrame(m.SocketID, bm.Frame)
	}
}

// Close cancels every bridge subscription.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID, cancel := range s.subCancels {
		cancel()
		delete(s.subCancels, roomID)
	}
}

func roomParticipant(m room.Member) domain.RoomParticipant {
	return domain.RoomParticipant{
		SocketID:    m.SocketID,
		ID:          m.UserID,
		DisplayName: m.Identity.DisplayName(),
		Metadata:    m.Metadata,
	}
}

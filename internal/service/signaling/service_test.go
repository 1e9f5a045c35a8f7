package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voicelink-backend/internal/domain"
	"voicelink-backend/internal/room"
	apperrors "voicelink-backend/pkg/errors"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) ToConnection(socketID string, event domain.Event) bool {
	args := m.Called(socketID, event)
	return args.Bool(0)
}

func (m *MockNotifier) ToConnectionFrame(socketID string, frame []byte) bool {
	args := m.Called(socketID, frame)
	return args.Bool(0)
}

func (m *MockNotifier) ToRoom(roomID string, event domain.Event, exceptSocketID string) int {
	args := m.Called(roomID, event, exceptSocketID)
	return args.Int(0)
}

func newTestService(notifier *MockNotifier) (*Service, *room.Tracker) {
	rooms := room.NewTracker()
	svc := NewService(rooms, notifier, nil, "test-instance", nil)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, rooms
}

func member(socketID string) room.Member {
	userID := uuid.New()
	return room.Member{
		SocketID: socketID,
		UserID:   userID,
		Identity: domain.Identity{ID: userID, Username: "user-" + socketID},
	}
}

func TestJoinRoom_FirstJoin(t *testing.T) {
	notifier := new(MockNotifier)
	svc, _ := newTestService(notifier)

	m := member("sock-1")
	notifier.On("ToConnection", "sock-1", mock.MatchedBy(func(e domain.Event) bool {
		joined, ok := e.(domain.RoomJoinedEvent)
		return ok && joined.CallRoomID == "call:abc" &&
			joined.ParticipantCount == 1 &&
			len(joined.ExistingParticipants) == 0
	})).Return(true)
	notifier.On("ToRoom", "call:abc", mock.Anything, "sock-1").Return(0)

	err := svc.JoinRoom(context.Background(), &JoinInput{
		RoomID: "call:abc",
		Member: m,
		Kind:   domain.CallKindVideo,
	})

	require.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestJoinRoom_SecondJoinSeesExisting(t *testing.T) {
	notifier := new(MockNotifier)
	svc, _ := newTestService(notifier)

	first := member("sock-1")
	second := member("sock-2")
	notifier.On("ToConnection", mock.Anything, mock.Anything).Return(true)
	notifier.On("ToRoom", mock.Anything, mock.Anything, mock.Anything).Return(1)

	require.NoError(t, svc.JoinRoom(context.Background(), &JoinInput{
		RoomID: "call:abc", Member: first, Kind: domain.CallKindVideo,
	}))
	require.NoError(t, svc.JoinRoom(context.Background(), &JoinInput{
		RoomID: "call:abc", Member: second, Kind: domain.CallKindVideo,
	}))

	notifier.AssertCalled(t, "ToConnection", "sock-2", mock.MatchedBy(func(e domain.Event) bool {
		joined, ok := e.(domain.RoomJoinedEvent)
		return ok && joined.ParticipantCount == 2 &&
			len(joined.ExistingParticipants) == 1 &&
			joined.ExistingParticipants[0].SocketID == "sock-1"
	}))
	notifier.AssertCalled(t, "ToRoom", "call:abc", mock.MatchedBy(func(e domain.Event) bool {
		peer, ok := e.(domain.RoomPeerEvent)
		return ok && peer.Joined && peer.Participant.SocketID == "sock-2" &&
			peer.ParticipantCount == 2
	}), "sock-2")
}

func TestJoinRoom_EmptyRoomID(t *testing.T) {
	notifier := new(MockNotifier)
	svc, _ := newTestService(notifier)

	err := svc.JoinRoom(context.Background(), &JoinInput{
		RoomID: "", Member: member("sock-1"),
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestRelay_OfferToMember(t *testing.T) {
	notifier := new(MockNotifier)
	svc, rooms := newTestService(notifier)

	sender := member("sock-1")
	target := member("sock-2")
	rooms.Join("call:abc", sender, domain.CallKindVideo)
	rooms.Join("call:abc", target, domain.CallKindVideo)

	payload := json.RawMessage(`{"sdp":"v=0..."}`)
	notifier.On("ToConnection", "sock-2", mock.MatchedBy(func(e domain.Event) bool {
		sig, ok := e.(domain.SignalEvent)
		return ok && sig.EventName() == domain.EventWebRTCOffer &&
			sig.CallRoomID == "call:abc" &&
			sig.FromSocketID == "sock-1" &&
			string(sig.Payload) == string(payload)
	})).Return(true)

	err := svc.Relay(context.Background(), &RelayInput{
		Kind:         domain.EventWebRTCOffer,
		RoomID:       "call:abc",
		FromSocketID: "sock-1",
		FromUserID:   sender.Identity,
		ToSocketID:   "sock-2",
		Payload:      payload,
	})

	require.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestRelay_SenderNotMember(t *testing.T) {
	notifier := new(MockNotifier)
	svc, rooms := newTestService(notifier)

	rooms.Join("call:abc", member("sock-2"), domain.CallKindVideo)

	err := svc.Relay(context.Background(), &RelayInput{
		Kind:         domain.EventWebRTCOffer,
		RoomID:       "call:abc",
		FromSocketID: "sock-1",
		ToSocketID:   "sock-2",
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSignalingViolation))
	assert.Contains(t, err.Error(), "call:abc")
	notifier.AssertNotCalled(t, "ToConnection", mock.Anything, mock.Anything)
}

func TestRelay_OfferTargetNotMember(t *testing.T) {
	notifier := new(MockNotifier)
	svc, rooms := newTestService(notifier)

	rooms.Join("call:abc", member("sock-1"), domain.CallKindVideo)

	err := svc.Relay(context.Background(), &RelayInput{
		Kind:         domain.EventWebRTCOffer,
		RoomID:       "call:abc",
		FromSocketID: "sock-1",
		ToSocketID:   "sock-gone",
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSignalingViolation))
}

func TestRelay_ICECandidateStaleTargetTolerated(t *testing.T) {
	notifier := new(MockNotifier)
	svc, rooms := newTestService(notifier)

	rooms.Join("call:abc", member("sock-1"), domain.CallKindVideo)

	err := svc.Relay(context.Background(), &RelayInput{
		Kind:         domain.EventWebRTCICECandidate,
		RoomID:       "call:abc",
		FromSocketID: "sock-1",
		ToSocketID:   "sock-gone",
		Payload:      json.RawMessage(`{"candidate":"..."}`),
	})

	assert.NoError(t, err)
	notifier.AssertNotCalled(t, "ToConnection", mock.Anything, mock.Anything)
}

func TestRelay_BroadcastWithoutTarget(t *testing.T) {
	notifier := new(MockNotifier)
	svc, rooms := newTestService(notifier)

	rooms.Join("call:abc", member("sock-1"), domain.CallKindVideo)
	rooms.Join("call:abc", member("sock-2"), domain.CallKindVideo)
	rooms.Join("call:abc", member("sock-3"), domain.CallKindVideo)

	notifier.On("ToRoom", "call:abc", mock.MatchedBy(func(e domain.Event) bool {
		sig, ok := e.(domain.SignalEvent)
		return ok && sig.EventName() == domain.EventWebRTCICECandidate
	}), "sock-1").Return(2)

	err := svc.Relay(context.Background(), &RelayInput{
		Kind:         domain.EventWebRTCICECandidate,
		RoomID:       "call:abc",
		FromSocketID: "sock-1",
		Payload:      json.RawMessage(`{"candidate":"..."}`),
	})

	require.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestRelay_UnknownKind(t *testing.T) {
	notifier := new(MockNotifier)
	svc, rooms := newTestService(notifier)

	rooms.Join("call:abc", member("sock-1"), domain.CallKindVideo)

	err := svc.Relay(context.Background(), &RelayInput{
		Kind:         "webrtc:renegotiate",
		RoomID:       "call:abc",
		FromSocketID: "sock-1",
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestLeaveRoom_NotifiesRemaining(t *testing.T) {
	notifier := new(MockNotifier)
	svc, rooms := newTestService(notifier)

	leaver := member("sock-1")
	rooms.Join("call:abc", leaver, domain.CallKindVideo)
	rooms.Join("call:abc", member("sock-2"), domain.CallKindVideo)

	notifier.On("ToRoom", "call:abc", mock.MatchedBy(func(e domain.Event) bool {
		peer, ok := e.(domain.RoomPeerEvent)
		return ok && !peer.Joined &&
			peer.Participant.SocketID == "sock-1" &&
			peer.ParticipantCount == 1
	}), "sock-1").Return(1)

	svc.LeaveRoom(context.Background(), "call:abc", "sock-1")

	notifier.AssertExpectations(t)
	assert.False(t, rooms.IsMember("call:abc", "sock-1"))
}

func TestLeaveRoom_LastLeaverDeletesRoom(t *testing.T) {
	notifier := new(MockNotifier)
	svc, rooms := newTestService(notifier)

	rooms.Join("call:abc", member("sock-1"), domain.CallKindVideo)

	svc.LeaveRoom(context.Background(), "call:abc", "sock-1")

	assert.Equal(t, 0, rooms.RoomCount())
	notifier.AssertNotCalled(t, "ToRoom", mock.Anything, mock.Anything, mock.Anything)
}

func TestLeaveRoom_NonMemberIsNoOp(t *testing.T) {
	notifier := new(MockNotifier)
	svc, rooms := newTestService(notifier)

	rooms.Join("call:abc", member("sock-1"), domain.CallKindVideo)

	svc.LeaveRoom(context.Background(), "call:abc", "sock-ghost")

	assert.Equal(t, 1, rooms.Count("call:abc"))
	notifier.AssertNotCalled(t, "ToRoom", mock.Anything, mock.Anything, mock.Anything)
}

func TestLeaveAllRooms(t *testing.T) {
	notifier := new(MockNotifier)
	svc, rooms := newTestService(notifier)

	m := member("sock-1")
	rooms.Join("call:a", m, domain.CallKindAudio)
	rooms.Join("call:b", m, domain.CallKindVideo)
	rooms.Join("call:b", member("sock-2"), domain.CallKindVideo)

	notifier.On("ToRoom", "call:b", mock.Anything, "sock-1").Return(1)

	svc.LeaveAllRooms(context.Background(), "sock-1")

	assert.Empty(t, rooms.RoomsOf("sock-1"))
	assert.True(t, rooms.IsMember("call:b", "sock-2"))
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicelink-backend/internal/domain"
	"voicelink-backend/internal/registry"
	"voicelink-backend/internal/room"
)

// captureSink records every frame it accepts. When full is set it refuses
// frames, mimicking a connection with a saturated send buffer.
type captureSink struct {
	frames [][]byte
	full   bool
}

func (s *captureSink) Send(frame []byte) bool {
	if s.full {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

type stubGroups struct {
	memberIDs []uuid.UUID
	err       error
}

func (s *stubGroups) ActiveMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return s.memberIDs, s.err
}

func connect(reg *registry.Registry, userID uuid.UUID) (*captureSink, string) {
	sink := &captureSink{}
	socketID := uuid.New().String()
	reg.Register(&registry.Connection{
		SocketID: socketID,
		UserID:   userID,
		Identity: domain.Identity{ID: userID},
		Sink:     sink,
	})
	return sink, socketID
}

func presenceEvent(userID uuid.UUID) domain.Event {
	return domain.PresenceChangedEvent{UserID: userID, Online: true, Timestamp: time.Now().UTC()}
}

func TestToUser_DeliversToEveryConnection(t *testing.T) {
	reg := registry.New()
	userID := uuid.New()
	sink1, _ := connect(reg, userID)
	sink2, _ := connect(reg, userID)
	f := New(reg, room.NewTracker(), nil, nil)

	ok := f.ToUser(userID, presenceEvent(userID))

	assert.True(t, ok)
	assert.Len(t, sink1.frames, 1)
	assert.Len(t, sink2.frames, 1)
}

func TestToUser_OfflineUserReturnsFalse(t *testing.T) {
	f := New(registry.New(), room.NewTracker(), nil, nil)

	assert.False(t, f.ToUser(uuid.New(), presenceEvent(uuid.New())))
}

func TestToUser_SaturatedBufferReturnsFalse(t *testing.T) {
	reg := registry.New()
	userID := uuid.New()
	sink, _ := connect(reg, userID)
	sink.full = true
	f := New(reg, room.NewTracker(), nil, nil)

	assert.False(t, f.ToUser(userID, presenceEvent(userID)))
}

func TestToUsers_CountsUsersNotConnections(t *testing.T) {
	reg := registry.New()
	userA := uuid.New()
	userB := uuid.New()
	connect(reg, userA)
	connect(reg, userA) // second device
	connect(reg, userB)
	f := New(reg, room.NewTracker(), nil, nil)

	reached := f.ToUsers([]uuid.UUID{userA, userB, uuid.New()}, presenceEvent(userA))

	assert.Equal(t, 2, reached)
}

func TestToConnection_DeliversEncodedEnvelope(t *testing.T) {
	reg := registry.New()
	userID := uuid.New()
	sink, socketID := connect(reg, userID)
	f := New(reg, room.NewTracker(), nil, nil)

	ok := f.ToConnection(socketID, presenceEvent(userID))

	require.True(t, ok)
	require.Len(t, sink.frames, 1)

	var envelope domain.Envelope
	require.NoError(t, json.Unmarshal(sink.frames[0], &envelope))
	assert.Equal(t, domain.EventPresenceChanged, envelope.Event)

	var payload domain.PresenceChangedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, userID, payload.UserID)
	assert.True(t, payload.Online)
}

func TestToConnection_UnknownSocketReturnsFalse(t *testing.T) {
	f := New(registry.New(), room.NewTracker(), nil, nil)

	assert.False(t, f.ToConnection("no-such-socket", presenceEvent(uuid.New())))
}

func TestToConnectionFrame_DeliversRawFrame(t *testing.T) {
	reg := registry.New()
	sink, socketID := connect(reg, uuid.New())
	f := New(reg, room.NewTracker(), nil, nil)

	frame := []byte(`{"event":"webrtc:offer","data":{}}`)
	require.True(t, f.ToConnectionFrame(socketID, frame))
	require.Len(t, sink.frames, 1)
	assert.Equal(t, frame, sink.frames[0])

	assert.False(t, f.ToConnectionFrame("no-such-socket", frame))
}

func TestToRoom_SkipsExceptedSocket(t *testing.T) {
	reg := registry.New()
	rooms := room.NewTracker()
	userA := uuid.New()
	userB := uuid.New()
	sinkA, socketA := connect(reg, userA)
	sinkB, socketB := connect(reg, userB)
	rooms.Join("call:1", room.Member{SocketID: socketA, UserID: userA}, domain.CallKindVideo)
	rooms.Join("call:1", room.Member{SocketID: socketB, UserID: userB}, domain.CallKindVideo)
	f := New(reg, rooms, nil, nil)

	delivered := f.ToRoom("call:1", presenceEvent(userA), socketA)

	assert.Equal(t, 1, delivered)
	assert.Empty(t, sinkA.frames)
	assert.Len(t, sinkB.frames, 1)
}

func TestToGroup_ResolvesActiveMembers(t *testing.T) {
	reg := registry.New()
	userA := uuid.New()
	userB := uuid.New()
	sinkA, _ := connect(reg, userA)
	groups := &stubGroups{memberIDs: []uuid.UUID{userA, userB}}
	f := New(reg, room.NewTracker(), groups, nil)

	reached, err := f.ToGroup(context.Background(), uuid.New(), presenceEvent(userA))

	require.NoError(t, err)
	assert.Equal(t, 1, reached) // userB is offline
	assert.Len(t, sinkA.frames, 1)
}

func TestToGroup_PropagatesResolverError(t *testing.T) {
	groups := &stubGroups{err: errors.New("store down")}
	f := New(registry.New(), room.NewTracker(), groups, nil)

	_, err := f.ToGroup(context.Background(), uuid.New(), presenceEvent(uuid.New()))

	assert.Error(t, err)
}

func TestBroadcastAll_ReachesEveryConnection(t *testing.T) {
	reg := registry.New()
	sinkA, _ := connect(reg, uuid.New())
	sinkB, _ := connect(reg, uuid.New())
	f := New(reg, room.NewTracker(), nil, nil)

	f.BroadcastAll(presenceEvent(uuid.New()))

	assert.Len(t, sinkA.frames, 1)
	assert.Len(t, sinkB.frames, 1)
}

package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
	"voicelink-backend/internal/registry"
	"voicelink-backend/internal/room"
	"voicelink-backend/pkg/logger"
	"voicelink-backend/pkg/metrics"
)

// GroupResolver resolves the current active membership of a group. Backed by
// the external group-membership store.
type GroupResolver interface {
	ActiveMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// Fanout pushes lifecycle and signaling events to live connections. Delivery
// is fire-and-forget and best-effort: an offline target yields false with no
// retry or queueing. Callers that need stronger guarantees check the result
// and act (e.g. an undeliverable invite becomes a missed call).
type Fanout struct {
	registry *registry.Registry
	rooms    *room.Tracker
	groups   GroupResolver
	metrics  *metrics.Metrics
}

// New creates a fan-out over the given registry and room tracker. groups and
// m may be nil when group targeting or metrics are not needed.
func New(reg *registry.Registry, rooms *room.Tracker, groups GroupResolver, m *metrics.Metrics) *Fanout {
	return &Fanout{registry: reg, rooms: rooms, groups: groups, metrics: m}
}

func (f *Fanout) encode(event domain.Event) ([]byte, bool) {
	frame, err := domain.EncodeEvent(event)
	if err != nil {
		logger.Error("Failed to encode event",
			zap.String("event", event.EventName()),
			zap.Error(err))
		return nil, false
	}
	return frame, true
}

func (f *Fanout) recordDelivery(event string, delivered int) {
	if f.metrics == nil {
		return
	}
	if delivered == 0 {
		f.metrics.EventDropped(event)
		return
	}
	for i := 0; i < delivered; i++ {
		f.metrics.EventDelivered(event)
	}
}

// ToUser delivers an event to every live connection of one user. Returns
// false when the user is offline or every send failed.
func (f *Fanout) ToUser(userID uuid.UUID, event domain.Event) bool {
	frame, ok := f.encode(event)
	if !ok {
		return false
	}
	delivered := 0
	for _, conn := range f.registry.Resolve(userID) {
		if conn.Sink.Send(frame) {
			delivered++
		}
	}
	f.recordDelivery(event.EventName(), delivered)
	return delivered > 0
}

// ToUsers delivers an event to many users and returns the number of users
// reached (not the number of connections).
func (f *Fanout) ToUsers(userIDs []uuid.UUID, event domain.Event) int {
	frame, ok := f.encode(event)
	if !ok {
		return 0
	}
	reached := 0
	for _, userID := range userIDs {
		userDelivered := false
		for _, conn := range f.registry.Resolve(userID) {
			if conn.Sink.Send(frame) {
				userDelivered = true
			}
		}
		if userDelivered {
			reached++
		}
	}
	f.recordDelivery(event.EventName(), reached)
	return reached
}

// ToConnection delivers an event to a single connection by socket id.
func (f *Fanout) ToConnection(socketID string, event domain.Event) bool {
	frame, ok := f.encode(event)
	if !ok {
		return false
	}
	conn, ok := f.registry.Get(socketID)
	if !ok {
		f.recordDelivery(event.EventName(), 0)
		return false
	}
	sent := conn.Sink.Send(frame)
	if sent {
		f.recordDelivery(event.EventName(), 1)
	} else {
		f.recordDelivery(event.EventName(), 0)
	}
	return sent
}

// ToConnectionFrame delivers an already-encoded frame to a single connection.
// Used by the cross-instance signaling bridge, where frames arrive encoded.
func (f *Fanout) ToConnectionFrame(socketID string, frame []byte) bool {
	conn, ok := f.registry.Get(socketID)
	if !ok {
		return false
	}
	return conn.Sink.Send(frame)
}

// ToRoom delivers an event to every member of a signaling room, skipping
// exceptSocketID (usually the originator). Returns the number of members
// reached.
func (f *Fanout) ToRoom(roomID string, event domain.Event, exceptSocketID string) int {
	frame, ok := f.encode(event)
	if !ok {
		return 0
	}
	delivered := 0
	for _, m := range f.rooms.Members(roomID) {
		if m.SocketID == exceptSocketID {
			continue
		}
		if conn, ok := f.registry.Get(m.SocketID); ok {
			if conn.Sink.Send(frame) {
				delivered++
			}
		}
	}
	f.recordDelivery(event.EventName(), delivered)
	return delivered
}

// ToGroup delivers an event to every currently-online active member of a
// group. Offline members are simply not reached.
func (f *Fanout) ToGroup(ctx context.Context, groupID uuid.UUID, event domain.Event) (int, error) {
	if f.groups == nil {
		return 0, nil
	}
	memberIDs, err := f.groups.ActiveMemberIDs(ctx, groupID)
	if err != nil {
		return 0, err
	}
	return f.ToUsers(memberIDs, event), nil
}

// BroadcastAll delivers an event to every live connection. Used for presence
// transitions.
func (f *Fanout) BroadcastAll(event domain.Event) {
	frame, ok := f.encode(event)
	if !ok {
		return
	}
	delivered := 0
	for _, conn := range f.registry.All() {
		if conn.Sink.Send(frame) {
			delivered++
		}
	}
	f.recordDelivery(event.EventName(), delivered)
}

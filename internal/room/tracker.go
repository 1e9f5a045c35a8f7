package room

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicelink-backend/internal/domain"
	"voicelink-backend/pkg/constants"
)

// Member is one connection's membership in a signaling room. Membership here
// answers "who can currently receive a signaling message"; the durable
// CallParticipant rows answer who belongs to the call for history purposes.
// A connection may be a room member before any durable row exists.
type Member struct {
	SocketID string
	UserID   uuid.UUID
	Identity domain.Identity
	Metadata map[string]string
	JoinedAt time.Time
}

// Room is an ephemeral set of connections sharing one signaling channel.
// Created lazily on first join, deleted when the last member leaves.
type Room struct {
	ID        string
	Kind      domain.CallKind
	CreatorID uuid.UUID
	CreatedAt time.Time
	members   map[string]*Member
}

type shard struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// Tracker maintains live signaling-room membership, lock-striped by room id
// so traffic on unrelated rooms never serializes. It also keeps a reverse
// index from socket id to room ids for synchronous disconnect cleanup.
type Tracker struct {
	shards [constants.RoomShards]shard

	revMu   sync.RWMutex
	reverse map[string]map[string]struct{} // socketID -> set of roomIDs
}

// NewTracker creates an empty room tracker.
func NewTracker() *Tracker {
	t := &Tracker{reverse: make(map[string]map[string]struct{})}
	for i := range t.shards {
		t.shards[i].rooms = make(map[string]*Room)
	}
	return t
}

func (t *Tracker) shard(roomID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	return &t.shards[h.Sum32()%constants.RoomShards]
}

// JoinResult describes the room state right after a join committed.
type JoinResult struct {
	Created  bool // the join created the room
	Count    int  // membership count including the joiner
	Existing []Member
	Room     *Room
}

// Join adds a connection to a room, creating the room on first join.
// Re-joining the same room is idempotent. Existing lists the members that
// were already present, in join order not guaranteed.
func (t *Tracker) Join(roomID string, m Member, kind domain.CallKind) JoinResult {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}

	s := t.shard(roomID)
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	created := false
	if !ok {
		r = &Room{
			ID:        roomID,
			Kind:      kind,
			CreatorID: m.UserID,
			CreatedAt: time.Now(),
			members:   make(map[string]*Member),
		}
		s.rooms[roomID] = r
		created = true
	}

	existing := make([]Member, 0, len(r.members))
	for _, em := range r.members {
		if em.SocketID != m.SocketID {
			existing = append(existing, *em)
		}
	}
	r.members[m.SocketID] = &m
	count := len(r.members)
	s.mu.Unlock()

	t.revMu.Lock()
	rooms, ok := t.reverse[m.SocketID]
	if !ok {
		rooms = make(map[string]struct{})
		t.reverse[m.SocketID] = rooms
	}
	rooms[roomID] = struct{}{}
	t.revMu.Unlock()

	return JoinResult{Created: created, Count: count, Existing: existing, Room: r}
}

// LeaveResult describes the room state right after a leave committed.
type LeaveResult struct {
	Removed   bool
	Member    Member
	Remaining []Member
	Deleted   bool // the room became empty and was destroyed
}

// Leave removes a connection from a room and destroys the room when its
// membership becomes empty. Leaving a room the connection is not in, or an
// unknown room, is a no-op.
func (t *Tracker) Leave(roomID, socketID string) LeaveResult {
	s := t.shard(roomID)
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return LeaveResult{}
	}
	m, ok := r.members[socketID]
	if !ok {
		s.mu.Unlock()
		return LeaveResult{}
	}
	delete(r.members, socketID)
	remaining := make([]Member, 0, len(r.members))
	for _, rm := range r.members {
		remaining = append(remaining, *rm)
	}
	deleted := len(r.members) == 0
	if deleted {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()

	t.revMu.Lock()
	if rooms, ok := t.reverse[socketID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(t.reverse, socketID)
		}
	}
	t.revMu.Unlock()

	return LeaveResult{Removed: true, Member: *m, Remaining: remaining, Deleted: deleted}
}

// Members returns a snapshot of the room's current members. Unknown rooms
// yield nil.
func (t *Tracker) Members(roomID string) []Member {
	s := t.shard(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	return out
}

// IsMember reports whether socketID currently belongs to roomID.
func (t *Tracker) IsMember(roomID, socketID string) bool {
	s := t.shard(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = r.members[socketID]
	return ok
}

// Count returns the current membership count of roomID, 0 for unknown rooms.
func (t *Tracker) Count(roomID string) int {
	s := t.shard(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	return len(r.members)
}

// RoomsOf returns the ids of every room socketID belongs to. Used by
// disconnect cleanup, which must leave each of them synchronously.
func (t *Tracker) RoomsOf(socketID string) []string {
	t.revMu.RLock()
	defer t.revMu.RUnlock()
	rooms := t.reverse[socketID]
	if len(rooms) == 0 {
		return nil
	}
	out := make([]string, 0, len(rooms))
	for id := range rooms {
		out = append(out, id)
	}
	return out
}

// RoomCount returns the number of live rooms.
func (t *Tracker) RoomCount() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.rooms)
		s.mu.RUnlock()
	}
	return n
}

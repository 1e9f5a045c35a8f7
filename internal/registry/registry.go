package registry

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicelink-backend/internal/domain"
	"voicelink-backend/pkg/constants"
)

// Sink is the outbound side of one live connection. Send enqueues an encoded
// frame without blocking and reports false when the connection's buffer is
// full or already closed.
type Sink interface {
	Send(frame []byte) bool
}

// Connection binds an authenticated identity to one live socket. A user may
// own several connections at once (multi-device).
type Connection struct {
	SocketID     string
	UserID       uuid.UUID
	Identity     domain.Identity
	Sink         Sink
	RegisteredAt time.Time
}

// userShard holds the user -> connections mapping for one lock stripe.
type userShard struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[string]*Connection
}

// socketShard indexes connections by socket id for one lock stripe.
type socketShard struct {
	mu      sync.RWMutex
	sockets map[string]*Connection
}

// Registry tracks which users are connected. Both indexes are lock-striped so
// register/unregister traffic on unrelated users never serializes.
type Registry struct {
	userShards   [constants.RegistryShards]userShard
	socketShards [constants.RegistryShards]socketShard
}

// New creates an empty connection registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.userShards {
		r.userShards[i].users = make(map[uuid.UUID]map[string]*Connection)
	}
	for i := range r.socketShards {
		r.socketShards[i].sockets = make(map[string]*Connection)
	}
	return r
}

func (r *Registry) userShard(userID uuid.UUID) *userShard {
	h := fnv.New32a()
	h.Write(userID[:])
	return &r.userShards[h.Sum32()%constants.RegistryShards]
}

func (r *Registry) socketShard(socketID string) *socketShard {
	h := fnv.New32a()
	h.Write([]byte(socketID))
	return &r.socketShards[h.Sum32()%constants.RegistryShards]
}

// Register adds a connection. Idempotent per socket id: re-registering the
// same socket replaces the previous entry. Returns true when this is the
// user's first live connection (an offline -> online transition).
func (r *Registry) Register(conn *Connection) bool {
	if conn.RegisteredAt.IsZero() {
		conn.RegisteredAt = time.Now()
	}

	ss := r.socketShard(conn.SocketID)
	ss.mu.Lock()
	ss.sockets[conn.SocketID] = conn
	ss.mu.Unlock()

	us := r.userShard(conn.UserID)
	us.mu.Lock()
	defer us.mu.Unlock()

	conns, ok := us.users[conn.UserID]
	if !ok {
		conns = make(map[string]*Connection)
		us.users[conn.UserID] = conns
	}
	_, existed := conns[conn.SocketID]
	conns[conn.SocketID] = conn
	return !existed && len(conns) == 1
}

// Unregister removes the mapping for socketID. Unknown socket ids are a
// no-op, never an error: disconnect races are expected. Returns the removed
// connection and whether it was the user's last one (an online -> offline
// transition).
func (r *Registry) Unregister(socketID string) (conn *Connection, last bool) {
	ss := r.socketShard(socketID)
	ss.mu.Lock()
	conn, ok := ss.sockets[socketID]
	if ok {
		delete(ss.sockets, socketID)
	}
	ss.mu.Unlock()
	if !ok {
		return nil, false
	}

	us := r.userShard(conn.UserID)
	us.mu.Lock()
	defer us.mu.Unlock()

	conns, ok := us.users[conn.UserID]
	if !ok {
		return conn, false
	}
	delete(conns, socketID)
	if len(conns) == 0 {
		delete(us.users, conn.UserID)
		return conn, true
	}
	return conn, false
}

// Resolve returns every live connection owned by userID.
func (r *Registry) Resolve(userID uuid.UUID) []*Connection {
	us := r.userShard(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()

	conns := us.users[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Get returns the connection with the given socket id.
func (r *Registry) Get(socketID string) (*Connection, bool) {
	ss := r.socketShard(socketID)
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	conn, ok := ss.sockets[socketID]
	return conn, ok
}

// IsOnline reports whether userID has at least one live connection on this
// instance.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	us := r.userShard(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.users[userID]) > 0
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Connection {
	var out []*Connection
	for i := range r.socketShards {
		ss := &r.socketShards[i]
		ss.mu.RLock()
		for _, c := range ss.sockets {
			out = append(out, c)
		}
		ss.mu.RUnlock()
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	n := 0
	for i := range r.socketShards {
		ss := &r.socketShards[i]
		ss.mu.RLock()
		n += len(ss.sockets)
		ss.mu.RUnlock()
	}
	return n
}

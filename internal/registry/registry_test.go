package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicelink-backend/internal/domain"
)

type nopSink struct{}

func (nopSink) Send(frame []byte) bool { return true }

func newConn(userID uuid.UUID, socketID string) *Connection {
	return &Connection{
		SocketID: socketID,
		UserID:   userID,
		Identity: domain.Identity{ID: userID, Username: "user"},
		Sink:     nopSink{},
	}
}

func TestRegister_FirstConnectionReportsOnlineTransition(t *testing.T) {
	r := New()
	userID := uuid.New()

	first := r.Register(newConn(userID, "sock-1"))
	assert.True(t, first)

	second := r.Register(newConn(userID, "sock-2"))
	assert.False(t, second)

	assert.Equal(t, 2, r.Count())
	assert.True(t, r.IsOnline(userID))
}

func TestRegister_SameSocketIsIdempotent(t *testing.T) {
	r := New()
	userID := uuid.New()

	assert.True(t, r.Register(newConn(userID, "sock-1")))
	assert.False(t, r.Register(newConn(userID, "sock-1")))

	assert.Equal(t, 1, r.Count())
	assert.Len(t, r.Resolve(userID), 1)
}

func TestUnregister_LastConnectionReportsOfflineTransition(t *testing.T) {
	r := New()
	userID := uuid.New()
	r.Register(newConn(userID, "sock-1"))
	r.Register(newConn(userID, "sock-2"))

	conn, last := r.Unregister("sock-1")
	require.NotNil(t, conn)
	assert.False(t, last)
	assert.True(t, r.IsOnline(userID))

	conn, last = r.Unregister("sock-2")
	require.NotNil(t, conn)
	assert.True(t, last)
	assert.False(t, r.IsOnline(userID))
	assert.Equal(t, 0, r.Count())
}

func TestUnregister_UnknownSocketIsNoOp(t *testing.T) {
	r := New()

	conn, last := r.Unregister("never-registered")
	assert.Nil(t, conn)
	assert.False(t, last)
}

func TestResolve_ReturnsAllUserConnections(t *testing.T) {
	r := New()
	userID := uuid.New()
	otherID := uuid.New()
	r.Register(newConn(userID, "sock-1"))
	r.Register(newConn(userID, "sock-2"))
	r.Register(newConn(otherID, "sock-3"))

	conns := r.Resolve(userID)
	require.Len(t, conns, 2)
	for _, c := range conns {
		assert.Equal(t, userID, c.UserID)
	}

	assert.Nil(t, r.Resolve(uuid.New()))
}

func TestGet_FindsBySocketID(t *testing.T) {
	r := New()
	userID := uuid.New()
	r.Register(newConn(userID, "sock-1"))

	conn, ok := r.Get("sock-1")
	require.True(t, ok)
	assert.Equal(t, userID, conn.UserID)
	assert.False(t, conn.RegisteredAt.IsZero())

	_, ok = r.Get("sock-2")
	assert.False(t, ok)
}

func TestAll_SnapshotsEveryConnection(t *testing.T) {
	r := New()
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		c := newConn(uuid.New(), uuid.New().String())
		seen[c.SocketID] = false
		r.Register(c)
	}

	all := r.All()
	require.Len(t, all, 5)
	for _, c := range all {
		_, known := seen[c.SocketID]
		assert.True(t, known)
	}
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := New()
	userID := uuid.New()
	const n = 64

	sockets := make([]string, n)
	for i := range sockets {
		sockets[i] = uuid.New().String()
	}

	// All sockets race to register; exactly one sees the offline -> online
	// transition.
	var online atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for _, socketID := range sockets {
		go func(socketID string) {
			defer wg.Done()
			if r.Register(newConn(userID, socketID)) {
				online.Add(1)
			}
		}(socketID)
	}
	wg.Wait()

	assert.Equal(t, int32(1), online.Load())
	assert.Equal(t, n, r.Count())
	assert.Len(t, r.Resolve(userID), n)

	// All sockets race to unregister; exactly one sees the online -> offline
	// transition.
	var offline atomic.Int32
	wg.Add(n)
	for _, socketID := range sockets {
		go func(socketID string) {
			defer wg.Done()
			if _, last := r.Unregister(socketID); last {
				offline.Add(1)
			}
		}(socketID)
	}
	wg.Wait()

	assert.Equal(t, int32(1), offline.Load())
	assert.Equal(t, 0, r.Count())
	assert.False(t, r.IsOnline(userID))
}

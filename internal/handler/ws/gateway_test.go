package ws

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicelink-backend/internal/domain"
)

func TestGetAllowedOrigins_Defaults(t *testing.T) {
	origins := GetAllowedOrigins()

	assert.True(t, origins["http://localhost:3000"])
	assert.True(t, origins["http://127.0.0.1:8080"])
	assert.False(t, origins["https://evil.example.com"])
}

func TestGetAllowedOrigins_EnvOverride(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")

	origins := GetAllowedOrigins()

	assert.True(t, origins["https://app.example.com"])
	assert.True(t, origins["https://staging.example.com"])
	assert.True(t, origins["http://localhost:3000"])
}

func newIdleClient() *Client {
	identity := domain.Identity{ID: uuid.New(), Username: "alice"}
	return newClient(&Gateway{}, nil, identity)
}

func TestClientSend_EnqueuesFrame(t *testing.T) {
	c := newIdleClient()

	ok := c.Send([]byte(`{"event":"presence_changed"}`))

	require.True(t, ok)
	assert.Len(t, c.send, 1)
}

func TestClientSend_RejectsAfterClose(t *testing.T) {
	c := newIdleClient()
	c.close()

	assert.False(t, c.Send([]byte(`{}`)))
}

func TestClientSend_DropsWhenBufferFull(t *testing.T) {
	c := newIdleClient()
	frame := []byte(`{}`)
	for c.Send(frame) {
	}

	assert.False(t, c.Send(frame))
	assert.Equal(t, cap(c.send), len(c.send))
}

func TestClientCallTracking(t *testing.T) {
	c := newIdleClient()
	direct := uuid.New()
	group1 := uuid.New()
	group2 := uuid.New()

	c.trackDirectCall(direct)
	c.trackGroupCall(group1)
	c.trackGroupCall(group2)

	assert.Equal(t, []uuid.UUID{direct}, c.trackedDirectCalls())
	assert.ElementsMatch(t, []uuid.UUID{group1, group2}, c.trackedGroupCalls())

	c.untrackDirectCall(direct)
	c.untrackGroupCall(group1)

	assert.Empty(t, c.trackedDirectCalls())
	assert.Equal(t, []uuid.UUID{group2}, c.trackedGroupCalls())
}

// A user can hold direct calls with two different peers at once; disconnect
// cleanup must see both.
func TestClientCallTracking_MultipleDirectCalls(t *testing.T) {
	c := newIdleClient()
	callA := uuid.New()
	callB := uuid.New()

	c.trackDirectCall(callA)
	c.trackDirectCall(callB)
	assert.ElementsMatch(t, []uuid.UUID{callA, callB}, c.trackedDirectCalls())

	c.untrackDirectCall(callA)
	assert.Equal(t, []uuid.UUID{callB}, c.trackedDirectCalls())
}

func TestClientCallTracking_UntrackDifferentCallIsNoOp(t *testing.T) {
	c := newIdleClient()
	direct := uuid.New()
	c.trackDirectCall(direct)

	c.untrackDirectCall(uuid.New())

	assert.Equal(t, []uuid.UUID{direct}, c.trackedDirectCalls())
}

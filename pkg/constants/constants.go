// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single frame write to a slow peer
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Presence constants
const (
	// PresenceTTL is how long a presence key lives without a heartbeat refresh
	PresenceTTL = 5 * time.Minute

	// PresenceRefreshInterval is how often a live connection refreshes presence
	PresenceRefreshInterval = 1 * time.Minute
)

// Push notification constants
const (
	// PushTokenExpiry is how long a user's token set lives without re-registration
	PushTokenExpiry = 30 * 24 * time.Hour
)

// WebSocket buffer and capacity constants
const (
	// SendBufferSize is the per-connection outbound queue; a full queue drops
	// the connection rather than blocking the fan-out path
	SendBufferSize = 256

	// DefaultMaxConnections caps concurrent WebSocket connections per instance
	DefaultMaxConnections = 1000

	// MaxInboundMessageSize caps a single client frame
	MaxInboundMessageSize = 64 * 1024
)

// Registry and room sharding
const (
	// RegistryShards is the number of lock stripes in the connection registry
	RegistryShards = 32

	// RoomShards is the number of lock stripes in the room tracker
	RoomShards = 32
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)

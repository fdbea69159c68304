package configs

import (
	"time"
)

var (
	ServerAddress = "localhost:8080"
	RedisAddress  = ""
	WebSocketPath = "/ws"
	HealthPath    = "/healthz"
	MetricsPath   = "/metrics"
	KDFAlgorithm  = "pbkdf2-sha256"

	// Redis keys

	ServerFailedJoinsKey = "oasis:room:%s:failed"

	// MaxFailedJoins rejected handshakes within FailedJoinWindow lock a room.
	MaxFailedJoins   = 10
	FailedJoinWindow = 10 * time.Minute

	// MaxAuthFailures envelopes that fail to authenticate make a client
	// drop its connection.
	MaxAuthFailures = 3

	MaxFrameSize      int64 = 64 << 10
	OutboundQueueSize       = 32
	PendingTimeout          = 30 * time.Second
	WriteTimeout            = 10 * time.Second
)

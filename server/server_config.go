package server

import (
	"time"

	"github.com/andrei-cloud/sockframe"
)

const (
	DefaultTimeout           = sockframe.NoTimeout // default per-connection timeout disables deadlines.
	DefaultMaxConns          = 0                   // default max connections means no limit.
	DefaultShutdownTimeout   = 5 * time.Second     // default shutdown timeout duration.
	DefaultKeepAliveInterval = 30 * time.Second    // default TCP keepalive period.
	DefaultLeakThreshold     = 0 * time.Second     // default leak threshold disables the tracker.
)

type ServerConfig struct {
	Timeout           time.Duration         // per-connection timeout; zero or NoTimeout disables it.
	MaxConns          int                   // maximum concurrent connections allowed.
	PoolSize          int                   // worker pool size; defaults to MaxConns.
	Pool              WorkerPool            // optional external worker pool.
	ShutdownTimeout   time.Duration         // grace period for Shutdown when ctx has no deadline.
	KeepAliveInterval time.Duration         // interval for TCP keepalive probes.
	LeakThreshold     time.Duration         // age after which an active connection is reported.
	EventHistory      int                   // number of recent connection events retained.
	HeaderCodec       sockframe.HeaderCodec // header serializer for accepted connections.
	Lifecycle         Lifecycle             // optional server state hooks.
	Logger            sockframe.Logger      // optional logger for server events.
	Metrics           *Metrics              // optional Prometheus collectors.
}

func (c *ServerConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}

	if c.MaxConns < 0 {
		c.MaxConns = DefaultMaxConns
	}

	if c.PoolSize <= 0 {
		c.PoolSize = c.MaxConns
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}

	if c.EventHistory <= 0 {
		c.EventHistory = DefaultEventHistory
	}

	if c.HeaderCodec == nil {
		c.HeaderCodec = sockframe.DefaultHeaderCodec
	}

	if c.Lifecycle == nil {
		c.Lifecycle = LifecycleFuncs{}
	}

	if c.Logger == nil {
		c.Logger = &sockframe.NoopLogger{}
	}
}

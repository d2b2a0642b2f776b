package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPort             = 3000
	DefaultMaxBufferedBytes = 1 << 20 // 1 MiB
	DefaultSweepInterval    = 30 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultPingInterval     = 54 * time.Second
	DefaultReadLimit        = 1 << 20
	DefaultSendQueueSize    = 256
)

func (c *RelayConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}

	if c.Routing.MaxBufferedBytes == 0 {
		c.Routing.MaxBufferedBytes = DefaultMaxBufferedBytes
	}

	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = DefaultSweepInterval
	}

	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PongWait == 0 {
		c.Connection.PongWait = DefaultPongWait
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.ReadLimit == 0 {
		c.Connection.ReadLimit = DefaultReadLimit
	}
	if c.Connection.SendQueueSize == 0 {
		c.Connection.SendQueueSize = DefaultSendQueueSize
	}
}

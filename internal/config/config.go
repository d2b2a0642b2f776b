package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Routing    RoutingConfig    `yaml:"routing"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// RoutingConfig holds routing engine settings.
type RoutingConfig struct {
	// MaxBufferedBytes is the per-viewer pending-outbound ceiling on
	// the frame fanout path.
	MaxBufferedBytes int64 `yaml:"max_buffered_bytes"`
}

// SweepConfig holds maintenance sweeper settings.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ConnectionConfig holds per-connection WebSocket settings.
type ConnectionConfig struct {
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	PongWait      time.Duration `yaml:"pong_wait"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	ReadLimit     int64         `yaml:"read_limit"`
	SendQueueSize int           `yaml:"send_queue_size"`
}

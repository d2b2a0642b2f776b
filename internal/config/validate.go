package config

import (
	"errors"
	"fmt"
)

// Validate checks that all values are in range.
func (c *RelayConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Routing.MaxBufferedBytes < 1 {
		return errors.New("routing.max_buffered_bytes must be >= 1")
	}

	if c.Sweep.Interval <= 0 {
		return errors.New("sweep.interval must be positive")
	}

	if c.Connection.WriteTimeout <= 0 {
		return errors.New("connection.write_timeout must be positive")
	}
	if c.Connection.PongWait <= 0 {
		return errors.New("connection.pong_wait must be positive")
	}
	if c.Connection.PingInterval <= 0 {
		return errors.New("connection.ping_interval must be positive")
	}
	if c.Connection.PingInterval >= c.Connection.PongWait {
		return fmt.Errorf("connection.ping_interval (%s) must be less than pong_wait (%s)",
			c.Connection.PingInterval, c.Connection.PongWait)
	}
	if c.Connection.ReadLimit < 1 {
		return errors.New("connection.read_limit must be >= 1")
	}
	if c.Connection.SendQueueSize < 1 {
		return errors.New("connection.send_queue_size must be >= 1")
	}

	return nil
}

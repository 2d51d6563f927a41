package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSync(); err != nil {
		return err
	}
	if c.HTTP.Bind == "" {
		return errors.New("http.bind must be set")
	}
	if err := c.validateRelay(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateSync() error {
	if c.Sync.WindowMS < 0 {
		return errors.New("sync.window_ms must be >= 0")
	}
	if c.Sync.MaxGroups <= 0 {
		return errors.New("sync.max_groups must be positive")
	}
	if len(c.Groups) > c.Sync.MaxGroups {
		return fmt.Errorf("groups lists %d keys but sync.max_groups is %d", len(c.Groups), c.Sync.MaxGroups)
	}
	return nil
}

func (c *Config) validateRelay() error {
	if !lo.Contains(Backends, c.Relay.Backend) {
		return fmt.Errorf("relay.backend %q is not one of %v", c.Relay.Backend, Backends)
	}
	if c.Relay.PublishTimeoutMS <= 0 {
		return errors.New("relay.publish_timeout_ms must be positive")
	}
	switch c.Relay.Backend {
	case BackendNATS:
		if c.Relay.NATS.URL == "" {
			return errors.New("relay.nats.url is required for the nats backend")
		}
	case BackendRedis:
		if c.Relay.Redis.Addr == "" {
			return errors.New("relay.redis.addr is required for the redis backend")
		}
	case BackendKafka:
		if len(c.Relay.Kafka.Brokers) == 0 {
			return errors.New("relay.kafka.brokers is required for the kafka backend")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

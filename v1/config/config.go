package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Relay backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendKafka  = "kafka"
)

// Backends lists the accepted relay backends.
var Backends = []string{BackendNone, BackendMemory, BackendRedis, BackendNATS, BackendKafka}

// Node identifies this process among relay peers.
type Node struct {
	ID string `toml:"id" env:"LOCKSTEP_NODE_ID"`
}

// Sync contains group behaviour settings.
type Sync struct {
	// WindowMS is the propagation window in milliseconds. Zero keeps the
	// 100ms default.
	WindowMS  int    `toml:"window_ms" env:"LOCKSTEP_WINDOW_MS"`
	Namespace string `toml:"namespace" env:"LOCKSTEP_NAMESPACE"`
	// MaxGroups caps the groups the daemon holds, configured groups included.
	MaxGroups int    `toml:"max_groups" env:"LOCKSTEP_MAX_GROUPS"`
}

// HTTP contains the daemon listener settings.
type HTTP struct {
	Bind string `toml:"bind" env:"LOCKSTEP_HTTP_BIND"`
}

// NATS contains the NATS relay connection.
type NATS struct {
	URL string `toml:"url" env:"LOCKSTEP_NATS_URL"`
}

// Redis contains the Redis relay connection.
type Redis struct {
	Addr     string `toml:"addr" env:"LOCKSTEP_REDIS_ADDR"`
	Password string `toml:"password" env:"LOCKSTEP_REDIS_PASSWORD"`
	DB       int    `toml:"db" env:"LOCKSTEP_REDIS_DB"`
}

// Kafka contains the Kafka relay brokers.
type Kafka struct {
	Brokers []string `toml:"brokers" env:"LOCKSTEP_KAFKA_BROKERS"`
}

// Relay selects how groups are shared with other processes.
type Relay struct {
	Backend          string `toml:"backend" env:"LOCKSTEP_RELAY_BACKEND"`
	PublishTimeoutMS int    `toml:"publish_timeout_ms" env:"LOCKSTEP_RELAY_PUBLISH_TIMEOUT_MS"`
	NATS             NATS   `toml:"nats"`
	Redis            Redis  `toml:"redis"`
	Kafka            Kafka  `toml:"kafka"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level" env:"LOCKSTEP_LOG_LEVEL"`
	Format string `toml:"format" env:"LOCKSTEP_LOG_FORMAT"`
}

// Tracing toggles the stdout span exporter.
type Tracing struct {
	Stdout bool `toml:"stdout" env:"LOCKSTEP_TRACING_STDOUT"`
}

// Config encapsulates all configuration values for lockstepd.
//
// Groups lists group keys the daemon relays from startup; other groups are
// relayed when first requested.
type Config struct {
	Groups  []string `toml:"groups" env:"LOCKSTEP_GROUPS"`
	Node    Node     `toml:"node"`
	Sync    Sync     `toml:"sync"`
	HTTP    HTTP     `toml:"http"`
	Relay   Relay    `toml:"relay"`
	Logging Logging  `toml:"logging"`
	Tracing Tracing  `toml:"tracing"`
}

// Load builds a configuration from defaults, the TOML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sample returns a commented configuration file with every default.
func Sample() string {
	return sampleConfig
}

// Encode renders c as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// Window returns the propagation window.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Sync.WindowMS) * time.Millisecond
}

// PublishTimeout returns the relay publish timeout.
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.Relay.PublishTimeoutMS) * time.Millisecond
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	// Validate already rejected unknown levels.
	_ = lvl.UnmarshalText([]byte(c.Logging.Level))
	return lvl
}

func (c *Config) normalize() {
	c.Relay.Backend = strings.ToLower(strings.TrimSpace(c.Relay.Backend))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Relay.Backend == "" {
		c.Relay.Backend = BackendNone
	}
	c.Groups = cleanList(c.Groups)
	c.Relay.Kafka.Brokers = cleanList(c.Relay.Kafka.Brokers)
}

// cleanList trims entries and splits comma separated ones, as list values
// arrive from the environment as a single string.
func cleanList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

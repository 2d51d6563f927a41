package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/go-lockstep/v1/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lockstep.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 100*time.Millisecond, cfg.Window())
	require.Equal(t, config.BackendNone, cfg.Relay.Backend)
	require.Equal(t, "127.0.0.1:7640", cfg.HTTP.Bind)
	require.Equal(t, 2*time.Second, cfg.PublishTimeout())
	require.Equal(t, slog.LevelInfo, cfg.LogLevel())
	require.Empty(t, cfg.Groups)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
groups = ["task-1/video", " task-2/audio "]

[sync]
window_ms = 250

[relay]
backend = "NATS"

[relay.nats]
url = "nats://relay:4222"

[logging]
level = "debug"
format = "json"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.Window())
	require.Equal(t, config.BackendNATS, cfg.Relay.Backend)
	require.Equal(t, "nats://relay:4222", cfg.Relay.NATS.URL)
	require.Equal(t, []string{"task-1/video", "task-2/audio"}, cfg.Groups)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel())
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, "127.0.0.1:6379", cfg.Relay.Redis.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[sync]
window_ms = 250

[relay]
backend = "redis"
`)
	t.Setenv("LOCKSTEP_WINDOW_MS", "50")
	t.Setenv("LOCKSTEP_NODE_ID", "node-7")
	t.Setenv("LOCKSTEP_REDIS_ADDR", "redis:6380")
	t.Setenv("LOCKSTEP_GROUPS", "a/video,b/audio")
	t.Setenv("LOCKSTEP_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 50*time.Millisecond, cfg.Window())
	require.Equal(t, "node-7", cfg.Node.ID)
	require.Equal(t, "redis:6380", cfg.Relay.Redis.Addr)
	require.Equal(t, []string{"a/video", "b/audio"}, cfg.Groups)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Relay.Kafka.Brokers)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"negative window": "[sync]\nwindow_ms = -1\n",
		"zero max groups": "[sync]\nmax_groups = 0\n",
		"too many groups": "groups = [\"a\", \"b\"]\n[sync]\nmax_groups = 1\n",
		"unknown backend": "[relay]\nbackend = \"carrier-pigeon\"\n",
		"bad level":       "[logging]\nlevel = \"loud\"\n",
		"bad format":      "[logging]\nformat = \"xml\"\n",
		"missing nats":    "[relay]\nbackend = \"nats\"\n[relay.nats]\nurl = \"\"\n",
		"empty kafka":     "[relay]\nbackend = \"kafka\"\n[relay.kafka]\nbrokers = []\n",
		"unknown field":   "[sync]\nwindw_ms = 10\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.ErrorContains(t, err, "open config")
}

func TestSampleMatchesDefaults(t *testing.T) {
	var fromSample config.Config
	require.NoError(t, toml.Unmarshal([]byte(config.Sample()), &fromSample))
	def := config.Default()
	require.Equal(t, def.Sync, fromSample.Sync)
	require.Equal(t, def.HTTP, fromSample.HTTP)
	require.Equal(t, def.Relay, fromSample.Relay)
	require.Equal(t, def.Logging, fromSample.Logging)
	require.Empty(t, fromSample.Groups)
}

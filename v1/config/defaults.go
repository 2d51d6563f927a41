package config

const (
	defaultWindowMS         = 100
	defaultMaxGroups        = 1024
	defaultHTTPBind         = "127.0.0.1:7640"
	defaultRelayBackend     = BackendNone
	defaultPublishTimeoutMS = 2000
	defaultNATSURL          = "nats://127.0.0.1:4222"
	defaultRedisAddr        = "127.0.0.1:6379"
	defaultKafkaBroker      = "127.0.0.1:9092"
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Sync: Sync{
			WindowMS:  defaultWindowMS,
			MaxGroups: defaultMaxGroups,
		},
		HTTP: HTTP{
			Bind: defaultHTTPBind,
		},
		Relay: Relay{
			Backend:          defaultRelayBackend,
			PublishTimeoutMS: defaultPublishTimeoutMS,
			NATS:             NATS{URL: defaultNATSURL},
			Redis:            Redis{Addr: defaultRedisAddr},
			Kafka:            Kafka{Brokers: []string{defaultKafkaBroker}},
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

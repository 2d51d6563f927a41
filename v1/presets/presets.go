// Package presets wires registries and relay hubs for common deployments.
package presets

import (
	"fmt"
	"time"

	sarama "github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-lockstep/v1/core"
	"github.com/mirkobrombin/go-lockstep/v1/relay"
	"github.com/mirkobrombin/go-lockstep/v1/syncbus"
)

const (
	breakerThreshold = 5
	breakerTimeout   = 10 * time.Second
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// ownedBus closes the connection behind a bus together with the bus.
type ownedBus struct {
	syncbus.Bus
	release func() error
}

func (b ownedBus) Close() error {
	err := b.Bus.Close()
	if rerr := b.release(); err == nil {
		err = rerr
	}
	return err
}

// NewStandalone returns a registry for a single process with no relay.
func NewStandalone(opts ...core.Option) *core.Registry {
	return core.NewRegistry(opts...)
}

// NewInMemoryHub relays registry over an in-process bus. Hubs sharing bus
// behave like separate nodes.
func NewInMemoryHub(registry *core.Registry, bus *syncbus.InMemoryBus, opts ...relay.Option) (*relay.Hub, error) {
	return relay.NewHub(registry, bus, opts...)
}

// NewRedisHub relays registry over Redis pub/sub.
func NewRedisHub(registry *core.Registry, opts RedisOptions, hubOpts ...relay.Option) (*relay.Hub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	bus := ownedBus{
		Bus:     syncbus.NewCircuitBreaker(syncbus.NewRedisBus(client), breakerThreshold, breakerTimeout),
		release: client.Close,
	}
	h, err := relay.NewHub(registry, bus, hubOpts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return h, nil
}

// NewNATSHub relays registry over NATS subjects.
func NewNATSHub(registry *core.Registry, url string, hubOpts ...relay.Option) (*relay.Hub, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("presets: nats connect: %w", err)
	}
	bus := ownedBus{
		Bus: syncbus.NewCircuitBreaker(syncbus.NewNATSBus(conn), breakerThreshold, breakerTimeout),
		release: func() error {
			conn.Close()
			return nil
		},
	}
	h, err := relay.NewHub(registry, bus, hubOpts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return h, nil
}

// NewKafkaHub relays registry over Kafka topics. cfg may be nil.
func NewKafkaHub(registry *core.Registry, brokers []string, cfg *sarama.Config, hubOpts ...relay.Option) (*relay.Hub, error) {
	kb, err := syncbus.NewKafkaBus(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("presets: kafka: %w", err)
	}
	h, err := relay.NewHub(registry, syncbus.NewCircuitBreaker(kb, breakerThreshold, breakerTimeout), hubOpts...)
	if err != nil {
		_ = kb.Close()
		return nil, err
	}
	return h, nil
}

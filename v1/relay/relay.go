// Package relay joins sync groups that live in different processes. A Hub
// owns one Bridge per group key; each Bridge is a participant of its local
// group that forwards events to a bus and dispatches remote events back in.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-lockstep/v1/clock"
	"github.com/mirkobrombin/go-lockstep/v1/core"
	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
	"github.com/mirkobrombin/go-lockstep/v1/syncbus"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-lockstep/v1/relay")

const (
	defaultPublishTimeout = 2 * time.Second
	defaultSeenTTL        = time.Minute
)

// Hub connects a registry to a bus.
type Hub struct {
	registry *core.Registry
	bus      syncbus.Bus
	node     string
	logger   *slog.Logger
	clock    clock.Clock
	timeout  time.Duration
	seen     *seenSet

	mu      sync.Mutex
	bridges map[string]*Bridge
	closed  bool
}

// Option configures a Hub.
type Option func(*hubOptions)

type hubOptions struct {
	node    string
	logger  *slog.Logger
	clock   clock.Clock
	timeout time.Duration
	seenTTL time.Duration
	seen    []SeenOption
}

// WithNode sets the node id. It defaults to a random UUID.
func WithNode(id string) Option {
	return func(o *hubOptions) { o.node = id }
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *hubOptions) { o.logger = l }
}

// WithClock sets the clock stamping outgoing envelopes.
func WithClock(c clock.Clock) Option {
	return func(o *hubOptions) { o.clock = c }
}

// WithPublishTimeout bounds each bus publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *hubOptions) { o.timeout = d }
}

// WithSeenTTL sets how long envelope ids are remembered.
func WithSeenTTL(d time.Duration, opts ...SeenOption) Option {
	return func(o *hubOptions) {
		o.seenTTL = d
		o.seen = opts
	}
}

// NewHub returns a hub relaying groups of registry over bus.
func NewHub(registry *core.Registry, bus syncbus.Bus, opts ...Option) (*Hub, error) {
	o := hubOptions{
		logger:  slog.Default(),
		clock:   clock.New(),
		timeout: defaultPublishTimeout,
		seenTTL: defaultSeenTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.node == "" {
		o.node = uuid.NewString()
	}
	seen, err := newSeenSet(o.seenTTL, o.seen...)
	if err != nil {
		return nil, fmt.Errorf("relay: seen cache: %w", err)
	}
	return &Hub{
		registry: registry,
		bus:      bus,
		node:     o.node,
		logger:   o.logger.With("node", o.node),
		clock:    o.clock,
		timeout:  o.timeout,
		seen:     seen,
		bridges:  make(map[string]*Bridge),
	}, nil
}

// Node returns the hub's node id.
func (h *Hub) Node() string { return h.node }

// Registry returns the relayed registry.
func (h *Hub) Registry() *core.Registry { return h.registry }

// Bridge joins the group stored under key to the bus, creating the group if
// needed. Calling Bridge again for the same key returns the same bridge.
func (h *Hub) Bridge(ctx context.Context, key string) (*Bridge, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, lserrors.ErrBridgeClosed
	}
	if b, ok := h.bridges[key]; ok {
		return b, nil
	}
	b, err := h.open(ctx, key)
	if err != nil {
		return nil, err
	}
	h.bridges[key] = b
	return b, nil
}

// Bridges returns the keys of open bridges.
func (h *Hub) Bridges() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.bridges))
	for k := range h.bridges {
		keys = append(keys, k)
	}
	return keys
}

// Close closes every bridge and the bus.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	bridges := h.bridges
	h.bridges = make(map[string]*Bridge)
	h.mu.Unlock()

	for _, b := range bridges {
		_ = b.shutdown()
	}
	h.seen.close()
	return h.bus.Close()
}

func (h *Hub) forget(key string, b *Bridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bridges[key] == b {
		delete(h.bridges, key)
	}
}

// trace starts a span tagged with the group key.
func (h *Hub) trace(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("lockstep.group", key),
		attribute.String("lockstep.node", h.node),
	))
}

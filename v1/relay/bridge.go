package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mirkobrombin/go-lockstep/v1/core"
	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
	"github.com/mirkobrombin/go-lockstep/v1/event"
	"github.com/mirkobrombin/go-lockstep/v1/metrics"
)

// outboundBuffer bounds the events waiting to be published by one bridge.
const outboundBuffer = 256

// Bridge is the relay participant of one group. It forwards every event it
// receives to the bus and dispatches envelopes from other nodes into the
// group with itself as origin, so the local window and echo rules apply.
//
// Buffering crosses nodes as a per-node aggregate: a bridge publishes only
// when its group, remote stalls excluded, starts or stops buffering, and it
// stalls its group while at least one other node reports buffering.
type Bridge struct {
	hub    *Hub
	key    string
	name   string
	topic  string
	group  *core.Group
	logger *slog.Logger

	ch      <-chan []byte
	cancel  context.CancelFunc
	done    chan struct{}
	out     chan event.Event
	flushed chan struct{}

	// remote is owned by the run goroutine.
	remote map[string]struct{}

	mu            sync.Mutex
	closed        bool
	sentBuffering bool
}

// open subscribes to the group's topic and registers the bridge. Callers
// hold h.mu.
func (h *Hub) open(ctx context.Context, key string) (*Bridge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(context.Background())
	topic := Topic(key)
	ch, err := h.bus.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("relay: subscribe %s: %w", topic, err)
	}
	b := &Bridge{
		hub:     h,
		key:     key,
		name:    "relay:" + h.node,
		topic:   topic,
		group:   h.registry.Get(key),
		logger:  h.logger.With("group", key),
		ch:      ch,
		cancel:  cancel,
		done:    make(chan struct{}),
		out:     make(chan event.Event, outboundBuffer),
		flushed: make(chan struct{}),
		remote:  make(map[string]struct{}),
	}
	b.group.Register(b)
	go b.run()
	go b.drain()
	b.logger.Info("lockstep: relay bridge opened", "topic", topic)
	return b, nil
}

// Name implements core.Participant.
func (b *Bridge) Name() string { return b.name }

// Kind implements core.Participant. A bridge is never audible.
func (b *Bridge) Kind() event.MediaKind { return event.Other }

// Key returns the bridged group key.
func (b *Bridge) Key() string { return b.key }

// Group returns the bridged group.
func (b *Bridge) Group() *core.Group { return b.group }

// Topic returns the bus topic.
func (b *Bridge) Topic() string { return b.topic }

// Receive implements core.Participant by queueing ev for publication. It
// never waits for the bus; when the queue is full the event is dropped.
// Buffering events are replaced by the group's own transitions.
func (b *Bridge) Receive(ev event.Event) {
	b.syncBuffering()
	if ev.Kind == event.Buffering {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.enqueue(ev)
}

// Stall implements core.Participant.
func (b *Bridge) Stall() { b.syncBuffering() }

// Resume implements core.Participant.
func (b *Bridge) Resume() { b.syncBuffering() }

// syncBuffering publishes a buffering edge when the local aggregate, the
// bridge itself excluded, differs from what peers were last told.
func (b *Bridge) syncBuffering() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	local := len(lo.Without(b.group.BufferingOrigins(), b.name)) > 0
	if local == b.sentBuffering {
		return
	}
	if b.enqueue(event.NewBuffering(local)) {
		b.sentBuffering = local
	}
}

// enqueue hands ev to the drain goroutine. Callers hold b.mu.
func (b *Bridge) enqueue(ev event.Event) bool {
	select {
	case b.out <- ev:
		return true
	default:
		metrics.RelayCounter.WithLabelValues("dropped").Inc()
		b.logger.Warn("lockstep: relay queue full", "kind", ev.Kind)
		return false
	}
}

func (b *Bridge) drain() {
	defer close(b.flushed)
	for ev := range b.out {
		if err := b.publish(context.Background(), ev, b.name); err != nil {
			b.logger.Warn("lockstep: relay publish", "kind", ev.Kind, "error", err)
		}
	}
}

// Publish sends ev to the other nodes and waits for the bus. origin is
// informational and defaults to the bridge name.
func (b *Bridge) Publish(ctx context.Context, ev event.Event, origin string) error {
	if b.isClosed() {
		return lserrors.ErrBridgeClosed
	}
	if origin == "" {
		origin = b.name
	}
	return b.publish(ctx, ev, origin)
}

func (b *Bridge) publish(ctx context.Context, ev event.Event, origin string) error {
	ctx, span := b.hub.trace(ctx, "relay.Bridge.Publish", b.key)
	defer span.End()

	env := Envelope{
		ID:      uuid.NewString(),
		Node:    b.hub.node,
		Group:   b.key,
		Origin:  origin,
		Kind:    ev.Kind,
		Payload: ev.Payload,
		At:      b.hub.clock.Now(),
	}
	data, err := encode(env)
	if err != nil {
		span.RecordError(err)
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, b.hub.timeout)
	defer cancel()
	if err := b.hub.bus.Publish(ctx, b.topic, data); err != nil {
		span.RecordError(err)
		return fmt.Errorf("relay: publish %s: %w", b.topic, err)
	}
	metrics.RelayCounter.WithLabelValues("out").Inc()
	return nil
}

func (b *Bridge) run() {
	defer close(b.done)
	for data := range b.ch {
		b.deliver(data)
	}
}

func (b *Bridge) deliver(data []byte) {
	env, err := decode(data)
	if err != nil {
		metrics.RelayCounter.WithLabelValues("dropped").Inc()
		b.logger.Warn("lockstep: relay decode", "error", err)
		return
	}
	if env.Group != b.key {
		metrics.RelayCounter.WithLabelValues("dropped").Inc()
		b.logger.Warn("lockstep: relay envelope for another group", "envelope_group", env.Group)
		return
	}
	if env.Node == b.hub.node || b.hub.seen.observe(env.ID) {
		metrics.RelayCounter.WithLabelValues("dropped").Inc()
		return
	}
	if b.isClosed() {
		return
	}
	_, span := b.hub.trace(context.Background(), "relay.Bridge.Deliver", b.key)
	defer span.End()
	metrics.RelayCounter.WithLabelValues("in").Inc()

	ev := env.Event()
	if ev.Kind == event.Buffering {
		var changed bool
		if ev, changed = b.remoteEdge(env.Node, ev.Payload.IsBuffering()); !changed {
			return
		}
	}
	if !b.group.Dispatch(ev, b.name) {
		b.logger.Debug("lockstep: relayed event suppressed", "kind", env.Kind, "node", env.Node)
	}
}

// remoteEdge records whether node is buffering and returns the event to
// dispatch when the set of buffering nodes becomes non-empty or empty.
func (b *Bridge) remoteEdge(node string, buffering bool) (event.Event, bool) {
	before := len(b.remote) > 0
	if buffering {
		b.remote[node] = struct{}{}
	} else {
		delete(b.remote, node)
	}
	after := len(b.remote) > 0
	if before == after {
		return event.Event{}, false
	}
	return event.NewBuffering(after), true
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close leaves the group and stops the subscription. Peers stalled by this
// node are released first. Closing twice returns ErrBridgeClosed.
func (b *Bridge) Close() error {
	if err := b.shutdown(); err != nil {
		return err
	}
	b.hub.forget(b.key, b)
	return nil
}

func (b *Bridge) shutdown() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return lserrors.ErrBridgeClosed
	}
	if b.sentBuffering && b.enqueue(event.NewBuffering(false)) {
		b.sentBuffering = false
	}
	b.closed = true
	close(b.out)
	b.mu.Unlock()

	b.group.Unregister(b)
	<-b.flushed
	b.cancel()
	_ = b.hub.bus.Unsubscribe(context.Background(), b.topic, b.ch)
	<-b.done
	b.logger.Info("lockstep: relay bridge closed")
	return nil
}

// Package syncbus carries sync events between processes. A Bus publishes
// opaque payloads on topics; relay bridges use it to join groups that live in
// different processes.
package syncbus

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"

	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-lockstep/v1/syncbus")

// subscriberBuffer is the per-subscriber channel capacity. Deliveries to a
// full channel are dropped.
const subscriberBuffer = 64

// Bus provides pub/sub of payloads keyed by topic.
type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	Unsubscribe(ctx context.Context, topic string, ch <-chan []byte) error
	Close() error
}

// Metrics reports bus throughput.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// InMemoryBus is a local implementation of Bus, mainly for tests and single
// process deployments.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan []byte
	closed    bool
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan []byte)}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return lserrors.ErrConnectionClosed
	}
	b.published.Add(1)
	b.delivered.Add(fanOut(b.subs[topic], data))
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, lserrors.ErrConnectionClosed
	}
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, topic string, ch <-chan []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := removeSub(b.subs[topic], ch)
	if !ok {
		return nil
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = subs
	}
	return nil
}

// Close implements Bus.Close. Every subscription channel is closed.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan []byte)
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{Published: b.published.Load(), Delivered: b.delivered.Load()}
}

// fanOut delivers data without blocking and returns the number of deliveries.
// Callers hold the lock guarding chans so none is closed mid-send.
func fanOut(chans []chan []byte, data []byte) uint64 {
	var n uint64
	for _, ch := range chans {
		select {
		case ch <- data:
			n++
		default:
		}
	}
	return n
}

// removeSub closes and removes ch from subs.
func removeSub(subs []chan []byte, ch <-chan []byte) ([]chan []byte, bool) {
	for i, c := range subs {
		if (<-chan []byte)(c) == ch {
			close(c)
			subs[i] = subs[len(subs)-1]
			return subs[:len(subs)-1], true
		}
	}
	return subs, false
}

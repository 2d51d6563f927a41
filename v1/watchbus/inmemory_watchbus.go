package watchbus

import (
	"context"
	"strings"
	"sync"
)

const watchBuffer = 16

// InMemoryWatchBus is an in-memory implementation of WatchBus. Slow watchers
// miss messages instead of blocking publishers.
type InMemoryWatchBus struct {
	mu       sync.Mutex
	subs     map[string][]chan []byte
	prefixes map[string][]chan []byte
}

// NewInMemory creates a new InMemoryWatchBus.
func NewInMemory() *InMemoryWatchBus {
	return &InMemoryWatchBus{
		subs:     make(map[string][]chan []byte),
		prefixes: make(map[string][]chan []byte),
	}
}

// Publish sends data to all watchers of key.
func (b *InMemoryWatchBus) Publish(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	chans := append([]chan []byte(nil), b.subs[key]...)
	for prefix, subs := range b.prefixes {
		if strings.HasPrefix(key, prefix) {
			chans = append(chans, subs...)
		}
	}
	b.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Watch subscribes to key and returns a channel receiving messages.
func (b *InMemoryWatchBus) Watch(ctx context.Context, key string) (chan []byte, error) {
	return b.add(ctx, b.subs, key)
}

// SubscribePrefix subscribes to every key starting with prefix.
func (b *InMemoryWatchBus) SubscribePrefix(ctx context.Context, prefix string) (chan []byte, error) {
	return b.add(ctx, b.prefixes, prefix)
}

func (b *InMemoryWatchBus) add(ctx context.Context, set map[string][]chan []byte, key string) (chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan []byte, watchBuffer)
	b.mu.Lock()
	set[key] = append(set[key], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unwatch(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unwatch removes ch from the watchers of key, closing it.
func (b *InMemoryWatchBus) Unwatch(ctx context.Context, key string, ch chan []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if removeChan(b.subs, key, ch) {
		return nil
	}
	removeChan(b.prefixes, key, ch)
	return nil
}

func removeChan(set map[string][]chan []byte, key string, ch chan []byte) bool {
	subs := set[key]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			if len(subs) == 0 {
				delete(set, key)
			} else {
				set[key] = subs
			}
			close(c)
			return true
		}
	}
	return false
}

// Watchers returns the number of watchers of key, prefix watchers excluded.
func (b *InMemoryWatchBus) Watchers(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

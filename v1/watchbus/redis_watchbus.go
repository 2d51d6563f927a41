package watchbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisStreamPrefix = "lockstep:watch:"
	redisStreamMaxLen = 1000
)

// RedisWatchBus uses Redis Streams so watchers on other nodes see the records
// of every node. Each key keeps a bounded backlog.
type RedisWatchBus struct {
	client  *redis.Client
	mu      sync.Mutex
	cancels map[string]map[chan []byte]context.CancelFunc
}

// NewRedisWatchBus creates a new RedisWatchBus using the provided client.
func NewRedisWatchBus(client *redis.Client) *RedisWatchBus {
	return &RedisWatchBus{
		client:  client,
		cancels: make(map[string]map[chan []byte]context.CancelFunc),
	}
}

// Publish appends data to the stream of key and notifies prefix watchers.
func (b *RedisWatchBus) Publish(ctx context.Context, key string, data []byte) error {
	stream := redisStreamPrefix + key
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: redisStreamMaxLen,
		Approx: true,
		Values: map[string]any{"data": data},
	}).Err()
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, stream, data).Err()
}

// Watch reads new entries of the stream of key.
func (b *RedisWatchBus) Watch(ctx context.Context, key string) (chan []byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan []byte, watchBuffer)
	b.track(key, ch, cancel)

	stream := redisStreamPrefix + key
	go func() {
		defer close(ch)
		lastID := "$"
		for {
			res, err := b.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Block:   time.Second,
				Count:   16,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if err != redis.Nil {
					slog.Warn("lockstep: watch read failed", "key", key, "error", err)
					time.Sleep(100 * time.Millisecond)
				}
				continue
			}
			for _, s := range res {
				for _, msg := range s.Messages {
					lastID = msg.ID
					v, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					select {
					case ch <- []byte(v):
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

// SubscribePrefix follows every key starting with prefix through pub/sub.
func (b *RedisWatchBus) SubscribePrefix(ctx context.Context, prefix string) (chan []byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	ps := b.client.PSubscribe(ctx, redisStreamPrefix+prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, err
	}
	ch := make(chan []byte, watchBuffer)
	b.track(prefix, ch, func() {
		cancel()
		_ = ps.Close()
	})

	go func() {
		defer close(ch)
		for {
			msg, err := ps.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Unwatch stops watching the given key (or prefix) on ch. The channel is
// closed once the reader goroutine exits.
func (b *RedisWatchBus) Unwatch(ctx context.Context, key string, ch chan []byte) error {
	b.mu.Lock()
	m, ok := b.cancels[key]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	cancel, ok := m[ch]
	if ok {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.cancels, key)
		}
	}
	b.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (b *RedisWatchBus) track(key string, ch chan []byte, cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.cancels[key]
	if m == nil {
		m = make(map[chan []byte]context.CancelFunc)
		b.cancels[key] = m
	}
	m[ch] = cancel
}

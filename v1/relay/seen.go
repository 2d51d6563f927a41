package relay

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// seenSet remembers envelope ids for a bounded time so duplicates delivered
// by at-least-once transports are dropped.
type seenSet struct {
	c   *ristretto.Cache
	ttl time.Duration
}

// SeenOption configures the underlying ristretto cache.
type SeenOption func(*ristretto.Config)

// WithRistretto applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistretto(cfg *ristretto.Config) SeenOption {
	return func(c *ristretto.Config) {
		if cfg == nil {
			return
		}
		*c = *cfg
	}
}

func newSeenSet(ttl time.Duration, opts ...SeenOption) (*seenSet, error) {
	cfg := &ristretto.Config{
		NumCounters: 1e5,     // ids to track frequency of.
		MaxCost:     1 << 16, // one unit per id.
		BufferItems: 64,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	c, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}
	return &seenSet{c: c, ttl: ttl}, nil
}

// observe records id and reports whether it had been seen before.
func (s *seenSet) observe(id string) bool {
	if _, ok := s.c.Get(id); ok {
		return true
	}
	s.c.SetWithTTL(id, struct{}{}, 1, s.ttl)
	s.c.Wait()
	return false
}

func (s *seenSet) close() {
	s.c.Close()
}

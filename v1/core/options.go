package core

import (
	"log/slog"
	"time"

	"github.com/mirkobrombin/go-lockstep/v1/clock"
	"github.com/mirkobrombin/go-lockstep/v1/lock"
)

type options struct {
	window    time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	observers []Observer
}

func defaultOptions() options {
	return options{
		window: lock.DefaultTTL,
		clock:  clock.New(),
		logger: slog.Default(),
	}
}

// Option configures a Group, or every Group created by a Registry.
type Option func(*options)

// WithWindow sets how long an origin owns the propagation window.
// Non-positive values keep the default.
func WithWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.window = d
		}
	}
}

// WithClock schedules window releases on c.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver adds an observer notified after every dispatch.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

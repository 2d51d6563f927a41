// Package monitor streams dispatch records of sync groups to a watch bus so
// dashboards and the daemon's /watch endpoint can follow them live.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mirkobrombin/go-lockstep/v1/core"
	"github.com/mirkobrombin/go-lockstep/v1/event"
	"github.com/mirkobrombin/go-lockstep/v1/watchbus"
)

const defaultPublishTimeout = time.Second

// Entry is the wire form of a dispatch record.
type Entry struct {
	Group      string        `json:"group"`
	Origin     string        `json:"origin"`
	Kind       event.Kind    `json:"kind"`
	Payload    event.Payload `json:"payload"`
	Delivered  int           `json:"delivered"`
	Suppressed bool          `json:"suppressed"`
	Buffering  bool          `json:"buffering"`
	At         time.Time     `json:"at"`
}

// FromRecord converts a core record to its wire form.
func FromRecord(r core.Record) Entry {
	return Entry{
		Group:      r.Group,
		Origin:     r.Origin,
		Kind:       r.Event.Kind,
		Payload:    r.Event.Payload,
		Delivered:  r.Delivered,
		Suppressed: r.Suppressed,
		Buffering:  r.Buffering,
		At:         r.At,
	}
}

// Decode parses an entry published by a Recorder.
func Decode(data []byte) (Entry, error) {
	var e Entry
	err := json.Unmarshal(data, &e)
	return e, err
}

// Recorder implements core.Observer by publishing every record to a watch
// bus under the group key.
type Recorder struct {
	bus     watchbus.WatchBus
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used for publish failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithTimeout bounds each publish.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.timeout = d }
}

// NewRecorder returns a Recorder publishing to bus.
func NewRecorder(bus watchbus.WatchBus, opts ...Option) *Recorder {
	r := &Recorder{bus: bus, logger: slog.Default(), timeout: defaultPublishTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe implements core.Observer.
func (r *Recorder) Observe(rec core.Record) {
	data, err := json.Marshal(FromRecord(rec))
	if err != nil {
		r.logger.Warn("lockstep: encode record", "group", rec.Group, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.bus.Publish(ctx, rec.Group, data); err != nil {
		r.logger.Warn("lockstep: publish record", "group", rec.Group, "error", err)
	}
}

package core

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/mirkobrombin/go-lockstep/v1/clock"
	"github.com/mirkobrombin/go-lockstep/v1/event"
	"github.com/mirkobrombin/go-lockstep/v1/lock"
	"github.com/mirkobrombin/go-lockstep/v1/metrics"
)

// Group keeps a set of participants in lockstep.
type Group struct {
	key       string
	clock     clock.Clock
	logger    *slog.Logger
	observers []Observer
	window    *lock.Window

	mu           sync.Mutex
	order        []string
	participants map[string]Participant
	audio        int
	buffering    map[string]struct{}
}

// NewGroup returns an empty group identified by key.
func NewGroup(key string, opts ...Option) *Group {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	g := &Group{
		key:          key,
		clock:        o.clock,
		logger:       o.logger.With("group", key),
		observers:    o.observers,
		participants: make(map[string]Participant),
		buffering:    make(map[string]struct{}),
	}
	g.window = lock.NewWindow(o.window,
		lock.WithClock(o.clock),
		lock.WithReleaseHook(func(owner string) {
			g.logger.Debug("lockstep: window released", "owner", owner)
		}),
	)
	return g
}

// Key returns the group key.
func (g *Group) Key() string { return g.key }

// Register adds p to the group. A participant registered under an existing
// name replaces the previous one and keeps its delivery position.
func (g *Group) Register(p Participant) {
	name := p.Name()
	g.mu.Lock()
	if old, ok := g.participants[name]; ok {
		if old.Kind() == event.Audio {
			g.audio--
		}
	} else {
		g.order = append(g.order, name)
		metrics.ParticipantGauge.Inc()
	}
	g.participants[name] = p
	if p.Kind() == event.Audio {
		g.audio++
	}
	g.mu.Unlock()
	g.logger.Debug("lockstep: participant registered", "participant", name, "media", p.Kind())
}

// Unregister removes p from the group and from the buffering origins. If p was
// the last buffering origin the remaining participants resume. Unknown
// participants are ignored. A window held by p simply runs out.
func (g *Group) Unregister(p Participant) {
	name := p.Name()
	g.mu.Lock()
	old, ok := g.participants[name]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.participants, name)
	g.order = slices.DeleteFunc(g.order, func(n string) bool { return n == name })
	if old.Kind() == event.Audio {
		g.audio--
	}
	edge := g.removeBufferingOrigin(name)
	targets := g.snapshot("")
	g.mu.Unlock()

	metrics.ParticipantGauge.Dec()
	g.logger.Debug("lockstep: participant unregistered", "participant", name)
	g.applyEdge(edge, targets, name)
}

// Dispatch propagates ev from origin to every other participant. It returns
// false when the event was suppressed because another origin holds the
// propagation window.
func (g *Group) Dispatch(ev event.Event, origin string) bool {
	g.mu.Lock()
	edge := edgeNone
	if ev.Kind == event.Buffering {
		if ev.Payload.IsBuffering() {
			edge = g.addBufferingOrigin(origin)
		} else {
			edge = g.removeBufferingOrigin(origin)
		}
	}
	buffering := len(g.buffering) > 0
	if lockable(ev.Kind, buffering) && !g.window.TryAcquire(origin) {
		owner, _ := g.window.Owner()
		g.mu.Unlock()
		g.logger.Debug("lockstep: event suppressed", "kind", ev.Kind, "origin", origin, "owner", owner)
		metrics.DispatchCounter.WithLabelValues(string(ev.Kind), "suppressed").Inc()
		g.notify(Record{Group: g.key, Origin: origin, Event: ev, Suppressed: true, Buffering: buffering, At: g.clock.Now()})
		return false
	}
	all := g.snapshot("")
	g.mu.Unlock()

	g.applyEdge(edge, all, origin)

	delivered := 0
	for _, p := range all {
		if p.Name() == origin {
			continue
		}
		p.Receive(ev)
		delivered++
	}
	metrics.DispatchCounter.WithLabelValues(string(ev.Kind), "delivered").Inc()
	g.notify(Record{Group: g.key, Origin: origin, Event: ev, Delivered: delivered, Buffering: buffering, At: g.clock.Now()})
	return true
}

// lockable reports whether an event kind is subject to the propagation
// window. Buffering notifications always pass, and so do play/pause while the
// group is stalled.
func lockable(kind event.Kind, buffering bool) bool {
	if kind == event.Buffering {
		return false
	}
	if buffering && (kind == event.Play || kind == event.Pause) {
		return false
	}
	return true
}

// IsBuffering reports whether any participant is currently buffering.
func (g *Group) IsBuffering() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buffering) > 0
}

// IsBufferingOrigin reports whether name is currently buffering.
func (g *Group) IsBufferingOrigin(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.buffering[name]
	return ok
}

// BufferingOrigins returns the sorted names of buffering participants.
func (g *Group) BufferingOrigins() []string {
	g.mu.Lock()
	out := lo.Keys(g.buffering)
	g.mu.Unlock()
	slices.Sort(out)
	return out
}

// AudioCount returns the number of registered audio participants.
func (g *Group) AudioCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.audio
}

// LockOwner returns the origin holding the propagation window, if any.
func (g *Group) LockOwner() (string, bool) {
	return g.window.Owner()
}

// Participants returns participant names in registration order.
func (g *Group) Participants() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.order)
}

// Snapshot is a point-in-time view of a group.
type Snapshot struct {
	Key          string            `json:"key"`
	Participants []ParticipantInfo `json:"participants"`
	Buffering    []string          `json:"buffering"`
	LockOwner    string            `json:"lock_owner,omitempty"`
	AudioCount   int               `json:"audio_count"`
}

// ParticipantInfo names a participant and its media kind.
type ParticipantInfo struct {
	Name string          `json:"name"`
	Kind event.MediaKind `json:"kind"`
}

// Snapshot returns the current group state.
func (g *Group) Snapshot() Snapshot {
	owner, _ := g.window.Owner()
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{
		Key:        g.key,
		Buffering:  lo.Keys(g.buffering),
		LockOwner:  owner,
		AudioCount: g.audio,
	}
	slices.Sort(s.Buffering)
	for _, name := range g.order {
		s.Participants = append(s.Participants, ParticipantInfo{Name: name, Kind: g.participants[name].Kind()})
	}
	return s
}

// Close cancels the pending window release and drops every participant
// without notifying them. Members that later leave are ignored.
func (g *Group) Close() {
	g.window.Stop()
	g.mu.Lock()
	n := len(g.order)
	buffering := len(g.buffering) > 0
	g.order = nil
	g.participants = make(map[string]Participant)
	g.buffering = make(map[string]struct{})
	g.audio = 0
	g.mu.Unlock()

	metrics.ParticipantGauge.Sub(float64(n))
	if buffering {
		metrics.BufferingGauge.Dec()
	}
}

// snapshot returns participants in registration order, skipping skip.
// Callers hold g.mu.
func (g *Group) snapshot(skip string) []Participant {
	out := make([]Participant, 0, len(g.order))
	for _, name := range g.order {
		if name == skip {
			continue
		}
		out = append(out, g.participants[name])
	}
	return out
}

func (g *Group) notify(r Record) {
	for _, o := range g.observers {
		o.Observe(r)
	}
}

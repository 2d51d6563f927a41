package media

import (
	"log/slog"
	"sync"

	"github.com/mirkobrombin/go-lockstep/v1/core"
	"github.com/mirkobrombin/go-lockstep/v1/event"
)

// Handler reacts to an event received from the group.
type Handler func(ev event.Event)

// Participant is what every adapter exposes to its host.
type Participant interface {
	core.Participant
	// RegisterHandlers fills the handler table. It is called once when the
	// adapter joins its group.
	RegisterHandlers()
	// Send dispatches an event originated by this participant.
	Send(ev event.Event) bool
	// Destroy leaves the group.
	Destroy()
}

// Member is the shared participant implementation adapters are built from.
type Member struct {
	name   string
	kind   event.MediaKind
	group  *core.Group
	player Player
	logger *slog.Logger

	mu         sync.Mutex
	handlers   map[event.Kind]Handler
	wasPlaying bool
	destroyed  bool
	// quiet is set while the group drives the player directly (stall and
	// resume); native events emitted meanwhile are not sent back.
	quiet int
}

// NewMember returns a member bound to group. It is not registered until Join.
func NewMember(name string, kind event.MediaKind, group *core.Group, player Player) *Member {
	return &Member{
		name:     name,
		kind:     kind,
		group:    group,
		player:   player,
		logger:   slog.Default().With("group", group.Key(), "participant", name),
		handlers: make(map[event.Kind]Handler),
	}
}

// Join registers the handlers of p and adds p to its group.
func Join(p Participant, g *core.Group) {
	p.RegisterHandlers()
	g.Register(p)
}

// Name implements core.Participant.
func (m *Member) Name() string { return m.name }

// Kind implements core.Participant.
func (m *Member) Kind() event.MediaKind { return m.kind }

// Group returns the group the member was created for.
func (m *Member) Group() *core.Group { return m.group }

// Player returns the driven player.
func (m *Member) Player() Player { return m.player }

// RegisterHandlers is a no-op; adapters provide their own table.
func (m *Member) RegisterHandlers() {}

// Handle sets the handler for kind.
func (m *Member) Handle(kind event.Kind, h Handler) {
	m.mu.Lock()
	m.handlers[kind] = h
	m.mu.Unlock()
}

// Handles reports whether a handler is registered for kind.
func (m *Member) Handles(kind event.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[kind]
	return ok
}

// Send dispatches ev from this member. An accepted play silences the member
// unless it is an audio participant or the group has no audio participant.
func (m *Member) Send(ev event.Event) bool {
	m.mu.Lock()
	skip := m.destroyed || m.quiet > 0
	m.mu.Unlock()
	if skip {
		return false
	}
	ok := m.group.Dispatch(ev, m.name)
	if ok && ev.Kind == event.Play && m.kind != event.Audio && m.group.AudioCount() > 0 {
		m.player.SetMuted(true)
	}
	return ok
}

// Receive implements core.Participant. A received play silences every
// participant that is not audio.
func (m *Member) Receive(ev event.Event) {
	m.mu.Lock()
	h := m.handlers[ev.Kind]
	m.mu.Unlock()
	if h != nil {
		h(ev)
	}
	if ev.Kind == event.Play && m.kind != event.Audio {
		m.player.SetMuted(true)
	}
}

// Stall implements core.Participant.
func (m *Member) Stall() {
	if !m.player.Playing() {
		return
	}
	m.mu.Lock()
	m.wasPlaying = true
	m.quiet++
	m.mu.Unlock()
	m.player.Pause()
	m.mu.Lock()
	m.quiet--
	m.mu.Unlock()
}

// Resume implements core.Participant.
func (m *Member) Resume() {
	m.mu.Lock()
	was := m.wasPlaying
	m.wasPlaying = false
	if was {
		m.quiet++
	}
	m.mu.Unlock()
	if !was {
		return
	}
	m.player.Play()
	m.mu.Lock()
	m.quiet--
	m.mu.Unlock()
}

// WasPlayingBeforeBuffering reports whether the member is waiting to resume.
func (m *Member) WasPlayingBeforeBuffering() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wasPlaying
}

// Destroy leaves the group. Calling it twice is harmless.
func (m *Member) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.mu.Unlock()
	m.group.Unregister(m)
	m.logger.Debug("lockstep: participant destroyed")
}

// followPlay moves to the event time, if any, and starts playback.
func (m *Member) followPlay(ev event.Event) {
	if ev.Payload.Time != nil {
		m.player.Seek(*ev.Payload.Time)
	}
	if !m.player.Playing() {
		m.player.Play()
	}
}

func (m *Member) followPause(ev event.Event) {
	if m.player.Playing() {
		m.player.Pause()
	}
	if ev.Payload.Time != nil {
		m.player.Seek(*ev.Payload.Time)
	}
}

func (m *Member) followSeek(ev event.Event) {
	if ev.Payload.Time != nil {
		m.player.Seek(*ev.Payload.Time)
	}
	if ev.Payload.Playing == nil {
		return
	}
	switch {
	case *ev.Payload.Playing && !m.player.Playing():
		m.player.Play()
	case !*ev.Payload.Playing && m.player.Playing():
		m.player.Pause()
	}
}

func (m *Member) followSpeed(ev event.Event) {
	if ev.Payload.Speed != nil {
		m.player.SetSpeed(*ev.Payload.Speed)
	}
}

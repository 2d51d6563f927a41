package media

import (
	"sync"
	"time"

	"github.com/mirkobrombin/go-lockstep/v1/clock"
	"github.com/mirkobrombin/go-lockstep/v1/event"
)

// Virtual is an in-memory Player. Its position advances with the clock while
// playing. OnChange, when set, is called for every state change the way a
// native player emits events.
type Virtual struct {
	clock    clock.Clock
	duration float64

	mu       sync.Mutex
	position float64
	anchor   time.Time
	playing  bool
	speed    float64
	muted    bool
	onChange func(ev event.Event)
}

// NewVirtual returns a paused player of the given duration in seconds. A zero
// duration is unbounded.
func NewVirtual(c clock.Clock, duration float64) *Virtual {
	if c == nil {
		c = clock.New()
	}
	return &Virtual{clock: c, duration: duration, speed: 1, anchor: c.Now()}
}

// OnChange sets the native event hook.
func (v *Virtual) OnChange(fn func(ev event.Event)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Play implements Player.
func (v *Virtual) Play() {
	v.mu.Lock()
	if v.playing {
		v.mu.Unlock()
		return
	}
	v.position = v.positionLocked()
	v.anchor = v.clock.Now()
	v.playing = true
	pos, fn := v.position, v.onChange
	v.mu.Unlock()
	emit(fn, event.NewPlay(pos))
}

// Pause implements Player.
func (v *Virtual) Pause() {
	v.mu.Lock()
	if !v.playing {
		v.mu.Unlock()
		return
	}
	v.position = v.positionLocked()
	v.anchor = v.clock.Now()
	v.playing = false
	pos, fn := v.position, v.onChange
	v.mu.Unlock()
	emit(fn, event.NewPause(pos))
}

// Seek implements Player. Seeking to the current position emits nothing.
func (v *Virtual) Seek(t float64) {
	v.mu.Lock()
	t = v.clamp(t)
	if t == v.positionLocked() {
		v.mu.Unlock()
		return
	}
	v.position = t
	v.anchor = v.clock.Now()
	playing, fn := v.playing, v.onChange
	v.mu.Unlock()
	emit(fn, event.NewSeek(t, playing))
}

// SetSpeed implements Player.
func (v *Virtual) SetSpeed(rate float64) {
	v.mu.Lock()
	if rate <= 0 || rate == v.speed {
		v.mu.Unlock()
		return
	}
	v.position = v.positionLocked()
	v.anchor = v.clock.Now()
	v.speed = rate
	fn := v.onChange
	v.mu.Unlock()
	emit(fn, event.NewSpeed(rate))
}

// SetMuted implements Player.
func (v *Virtual) SetMuted(muted bool) {
	v.mu.Lock()
	v.muted = muted
	v.mu.Unlock()
}

// Playing implements Player.
func (v *Virtual) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

// Muted implements Player.
func (v *Virtual) Muted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muted
}

// Speed returns the playback rate.
func (v *Virtual) Speed() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speed
}

// Position implements Player.
func (v *Virtual) Position() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positionLocked()
}

func (v *Virtual) positionLocked() float64 {
	if !v.playing {
		return v.position
	}
	elapsed := v.clock.Now().Sub(v.anchor).Seconds()
	return v.clamp(v.position + elapsed*v.speed)
}

func (v *Virtual) clamp(t float64) float64 {
	if t < 0 {
		return 0
	}
	if v.duration > 0 && t > v.duration {
		return v.duration
	}
	return t
}

func emit(fn func(event.Event), ev event.Event) {
	if fn != nil {
		fn(ev)
	}
}

// SetBuffering reports a stall or its end through the native event hook.
func (v *Virtual) SetBuffering(buffering bool) {
	v.mu.Lock()
	fn := v.onChange
	v.mu.Unlock()
	emit(fn, event.NewBuffering(buffering))
}

// Forward sends every native event of v through p, as a host does when it
// wires a player's event listeners to its adapter.
func Forward(p Participant, v *Virtual) {
	v.OnChange(func(ev event.Event) { p.Send(ev) })
}

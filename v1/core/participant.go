package core

import (
	"time"

	"github.com/mirkobrombin/go-lockstep/v1/event"
)

// Participant is a media component joined to a Group.
type Participant interface {
	// Name is unique within the group.
	Name() string
	// Kind decides whether the participant may stay audible.
	Kind() event.MediaKind
	// Receive is called for events dispatched by other participants.
	Receive(ev event.Event)
	// Stall is called when the group enters the buffering state. A playing
	// participant remembers that it was playing and pauses.
	Stall()
	// Resume is called when the group leaves the buffering state. A
	// participant that was playing before the stall starts again.
	Resume()
}

// Record describes the outcome of one Dispatch call.
type Record struct {
	Group      string      `json:"group"`
	Origin     string      `json:"origin"`
	Event      event.Event `json:"event"`
	Delivered  int         `json:"delivered"`
	Suppressed bool        `json:"suppressed"`
	Buffering  bool        `json:"buffering"`
	At         time.Time   `json:"at"`
}

// Observer is notified after every dispatch.
type Observer interface {
	Observe(r Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r Record)

// Observe implements Observer.
func (f ObserverFunc) Observe(r Record) { f(r) }

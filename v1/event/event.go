// Package event defines the playback events exchanged inside a sync group.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a sync event.
type Kind string

const (
	Play      Kind = "play"
	Pause     Kind = "pause"
	Seek      Kind = "seek"
	Speed     Kind = "speed"
	Buffering Kind = "buffering"
)

// Kinds lists every known event kind.
var Kinds = []Kind{Play, Pause, Seek, Speed, Buffering}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case Play, Pause, Seek, Speed, Buffering:
		return true
	}
	return false
}

// MediaKind classifies a participant for the audibility rule.
type MediaKind string

const (
	Audio MediaKind = "audio"
	Video MediaKind = "video"
	Other MediaKind = "other"
)

// Payload carries the optional fields of an event. Nil means "not set".
type Payload struct {
	Time      *float64 `json:"time,omitempty"`
	Playing   *bool    `json:"playing,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Buffering *bool    `json:"buffering,omitempty"`
}

// Event is one play/pause/seek/speed/buffering notification.
type Event struct {
	Kind    Kind    `json:"kind"`
	Payload Payload `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s%s", e.Kind, e.Payload)
}

func (p Payload) String() string {
	s := ""
	if p.Time != nil {
		s += fmt.Sprintf(" time=%.3f", *p.Time)
	}
	if p.Playing != nil {
		s += fmt.Sprintf(" playing=%t", *p.Playing)
	}
	if p.Speed != nil {
		s += fmt.Sprintf(" speed=%.2f", *p.Speed)
	}
	if p.Buffering != nil {
		s += fmt.Sprintf(" buffering=%t", *p.Buffering)
	}
	return s
}

// IsBuffering reports whether the payload signals a stall.
func (p Payload) IsBuffering() bool {
	return p.Buffering != nil && *p.Buffering
}

// TimeOr returns the time field or def when unset.
func (p Payload) TimeOr(def float64) float64 {
	if p.Time == nil {
		return def
	}
	return *p.Time
}

// SpeedOr returns the speed field or def when unset.
func (p Payload) SpeedOr(def float64) float64 {
	if p.Speed == nil {
		return def
	}
	return *p.Speed
}

// NewPlay builds a play event at time t.
func NewPlay(t float64) Event {
	return Event{Kind: Play, Payload: Payload{Time: &t, Playing: ptr(true)}}
}

// NewPause builds a pause event at time t.
func NewPause(t float64) Event {
	return Event{Kind: Pause, Payload: Payload{Time: &t, Playing: ptr(false)}}
}

// NewSeek builds a seek event to time t.
func NewSeek(t float64, playing bool) Event {
	return Event{Kind: Seek, Payload: Payload{Time: &t, Playing: &playing}}
}

// NewSpeed builds a playback rate change.
func NewSpeed(rate float64) Event {
	return Event{Kind: Speed, Payload: Payload{Speed: &rate}}
}

// NewBuffering builds a buffering state notification.
func NewBuffering(buffering bool) Event {
	return Event{Kind: Buffering, Payload: Payload{Buffering: &buffering}}
}

// Marshal encodes e as JSON.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes and validates a JSON event.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if !e.Kind.Valid() {
		return Event{}, fmt.Errorf("event: unknown kind %q", e.Kind)
	}
	return e, nil
}

func ptr[T any](v T) *T { return &v }

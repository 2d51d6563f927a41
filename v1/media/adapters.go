package media

import (
	"sort"
	"sync"

	"github.com/mirkobrombin/go-lockstep/v1/core"
	"github.com/mirkobrombin/go-lockstep/v1/event"
)

// Audio is an audio track. It is the authoritative audible source of its group.
type Audio struct {
	*Member
}

// NewAudio creates an audio adapter and joins it to g.
func NewAudio(name string, g *core.Group, p Player) *Audio {
	a := &Audio{Member: NewMember(name, event.Audio, g, p)}
	Join(a, g)
	return a
}

// RegisterHandlers implements Participant.
func (a *Audio) RegisterHandlers() {
	a.Handle(event.Play, a.followPlay)
	a.Handle(event.Pause, a.followPause)
	a.Handle(event.Seek, a.followSeek)
	a.Handle(event.Speed, a.followSpeed)
}

// Video is a video track.
type Video struct {
	*Member
}

// NewVideo creates a video adapter and joins it to g.
func NewVideo(name string, g *core.Group, p Player) *Video {
	v := &Video{Member: NewMember(name, event.Video, g, p)}
	Join(v, g)
	return v
}

// RegisterHandlers implements Participant.
func (v *Video) RegisterHandlers() {
	v.Handle(event.Play, v.followPlay)
	v.Handle(event.Pause, v.followPause)
	v.Handle(event.Seek, v.followSeek)
	v.Handle(event.Speed, v.followSpeed)
}

// Phrase is one transcript segment, in seconds.
type Phrase struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Paragraphs is a transcript whose active phrase follows the group time.
type Paragraphs struct {
	*Member

	phrases []Phrase

	mu      sync.Mutex
	current int
}

// NewParagraphs creates a transcript adapter and joins it to g. Phrases are
// sorted by start time.
func NewParagraphs(name string, g *core.Group, p Player, phrases []Phrase) *Paragraphs {
	sorted := append([]Phrase(nil), phrases...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	t := &Paragraphs{Member: NewMember(name, event.Other, g, p), phrases: sorted, current: -1}
	Join(t, g)
	return t
}

// RegisterHandlers implements Participant. Transcripts do not follow speed.
func (t *Paragraphs) RegisterHandlers() {
	t.Handle(event.Play, func(ev event.Event) {
		t.followPlay(ev)
		t.track()
	})
	t.Handle(event.Pause, func(ev event.Event) {
		t.followPause(ev)
		t.track()
	})
	t.Handle(event.Seek, func(ev event.Event) {
		t.followSeek(ev)
		t.track()
	})
}

// Current returns the index of the highlighted phrase, or -1.
func (t *Paragraphs) Current() int {
	t.track()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// PhraseAt returns the index of the phrase covering time ts, or -1.
func (t *Paragraphs) PhraseAt(ts float64) int {
	i := sort.Search(len(t.phrases), func(i int) bool { return t.phrases[i].Start > ts }) - 1
	if i < 0 || ts >= t.phrases[i].End {
		return -1
	}
	return i
}

// SeekToPhrase moves the group to the start of phrase i.
func (t *Paragraphs) SeekToPhrase(i int) bool {
	if i < 0 || i >= len(t.phrases) {
		return false
	}
	start := t.phrases[i].Start
	t.player.Seek(start)
	t.track()
	return t.Send(event.NewSeek(start, t.player.Playing()))
}

func (t *Paragraphs) track() {
	idx := t.PhraseAt(t.player.Position())
	t.mu.Lock()
	t.current = idx
	t.mu.Unlock()
}

// TimeSeries is a chart whose cursor follows the group time.
type TimeSeries struct {
	*Member
}

// NewTimeSeries creates a time series adapter and joins it to g.
func NewTimeSeries(name string, g *core.Group, p Player) *TimeSeries {
	ts := &TimeSeries{Member: NewMember(name, event.Other, g, p)}
	Join(ts, g)
	return ts
}

// RegisterHandlers implements Participant.
func (ts *TimeSeries) RegisterHandlers() {
	ts.Handle(event.Play, ts.followPlay)
	ts.Handle(event.Pause, ts.followPause)
	ts.Handle(event.Seek, ts.followSeek)
	ts.Handle(event.Speed, ts.followSpeed)
}

// Cursor returns the chart cursor position in seconds.
func (ts *TimeSeries) Cursor() float64 {
	return ts.player.Position()
}

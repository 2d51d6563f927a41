package core

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mirkobrombin/go-lockstep/v1/clock"
	"github.com/mirkobrombin/go-lockstep/v1/event"
	"github.com/mirkobrombin/go-lockstep/v1/metrics"
)

type fakeParticipant struct {
	name    string
	kind    event.MediaKind
	got     []event.Event
	playing bool
	wasPlay bool
	stalls  int
	resumes int
	onRecv  func(ev event.Event)
}

func newFake(name string, kind event.MediaKind) *fakeParticipant {
	return &fakeParticipant{name: name, kind: kind}
}

func (f *fakeParticipant) Name() string          { return f.name }
func (f *fakeParticipant) Kind() event.MediaKind { return f.kind }

func (f *fakeParticipant) Receive(ev event.Event) {
	f.got = append(f.got, ev)
	if f.onRecv != nil {
		f.onRecv(ev)
	}
}

func (f *fakeParticipant) Stall() {
	f.stalls++
	if f.playing {
		f.wasPlay = true
		f.playing = false
	}
}

func (f *fakeParticipant) Resume() {
	f.resumes++
	if f.wasPlay {
		f.wasPlay = false
		f.playing = true
	}
}

func newTestGroup(t *testing.T) (*Group, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(time.Unix(0, 0))
	g := NewGroup("k", WithClock(c))
	t.Cleanup(g.Close)
	return g, c
}

func TestDispatchDeliversToOthersAndLocksOut(t *testing.T) {
	g, _ := newTestGroup(t)
	a, b := newFake("a", event.Video), newFake("b", event.Audio)
	g.Register(a)
	g.Register(b)

	if !g.Dispatch(event.NewPlay(0), "a") {
		t.Fatal("expected play from a to propagate")
	}
	if len(b.got) != 1 || b.got[0].Kind != event.Play {
		t.Fatalf("expected b to receive play once, got %v", b.got)
	}
	if len(a.got) != 0 {
		t.Fatalf("origin must not receive its own event, got %v", a.got)
	}
	if g.Dispatch(event.NewPlay(0), "b") {
		t.Fatal("expected play from b to be suppressed inside the window")
	}
	if len(a.got) != 0 {
		t.Fatalf("suppressed event reached a: %v", a.got)
	}
	if owner, ok := g.LockOwner(); !ok || owner != "a" {
		t.Fatalf("expected a to own the window, got %q %v", owner, ok)
	}
}

func TestSameOriginPassesWithinWindow(t *testing.T) {
	g, _ := newTestGroup(t)
	a, b := newFake("a", event.Video), newFake("b", event.Video)
	g.Register(a)
	g.Register(b)

	if !g.Dispatch(event.NewPlay(1), "a") || !g.Dispatch(event.NewSeek(3, true), "a") {
		t.Fatal("same-origin events must pass within the window")
	}
	if len(b.got) != 2 {
		t.Fatalf("expected 2 events at b, got %d", len(b.got))
	}
}

func TestWindowExpiryAcceptsBlockedOrigin(t *testing.T) {
	g, c := newTestGroup(t)
	a, b := newFake("a", event.Video), newFake("b", event.Video)
	g.Register(a)
	g.Register(b)

	g.Dispatch(event.NewPlay(0), "a")
	if g.Dispatch(event.NewPause(1), "b") {
		t.Fatal("expected b blocked")
	}
	c.Advance(100 * time.Millisecond)
	if !g.Dispatch(event.NewPause(1), "b") {
		t.Fatal("expected b accepted after the window elapsed")
	}
	if len(a.got) != 1 || a.got[0].Kind != event.Pause {
		t.Fatalf("expected a to receive pause, got %v", a.got)
	}
}

func TestBufferingNeverSuppressed(t *testing.T) {
	g, _ := newTestGroup(t)
	a, b := newFake("a", event.Video), newFake("b", event.Video)
	g.Register(a)
	g.Register(b)

	g.Dispatch(event.NewSeek(2, false), "a")
	for _, buffering := range []bool{true, false, true} {
		if !g.Dispatch(event.NewBuffering(buffering), "b") {
			t.Fatalf("buffering=%v from b was suppressed", buffering)
		}
		if g.IsBuffering() != buffering {
			t.Fatalf("IsBuffering=%v after buffering=%v", g.IsBuffering(), buffering)
		}
		if g.IsBufferingOrigin("b") != buffering {
			t.Fatalf("IsBufferingOrigin(b)=%v after buffering=%v", g.IsBufferingOrigin("b"), buffering)
		}
	}
}

func TestPlayPauseBypassWindowWhileBuffering(t *testing.T) {
	g, _ := newTestGroup(t)
	a, b, c := newFake("a", event.Video), newFake("b", event.Audio), newFake("c", event.Other)
	g.Register(a)
	g.Register(b)
	g.Register(c)

	g.Dispatch(event.NewSeek(5, false), "a")
	g.Dispatch(event.NewBuffering(true), "c")
	if !g.Dispatch(event.NewPlay(5), "b") {
		t.Fatal("play must bypass the window while buffering")
	}
	if a.got[len(a.got)-1].Kind != event.Play {
		t.Fatalf("expected a to receive play, got %v", a.got)
	}
	if g.Dispatch(event.NewSeek(6, false), "b") {
		t.Fatal("seek stays lockable while buffering")
	}
}

func TestBufferingEdgesStallAndResume(t *testing.T) {
	g, _ := newTestGroup(t)
	a, b := newFake("a", event.Video), newFake("b", event.Audio)
	a.playing, b.playing = true, true
	g.Register(a)
	g.Register(b)

	g.Dispatch(event.NewBuffering(true), "a")
	if a.playing || b.playing {
		t.Fatal("expected both paused on buffering start")
	}
	if !a.wasPlay || !b.wasPlay {
		t.Fatal("expected both to remember they were playing")
	}
	g.Dispatch(event.NewBuffering(false), "a")
	if !a.playing || !b.playing {
		t.Fatal("expected both resumed once buffering cleared")
	}
}

func TestBufferingIntermediateChangesDoNotToggle(t *testing.T) {
	g, _ := newTestGroup(t)
	a, b := newFake("a", event.Video), newFake("b", event.Audio)
	g.Register(a)
	g.Register(b)

	g.Dispatch(event.NewBuffering(true), "a")
	g.Dispatch(event.NewBuffering(true), "b")
	g.Dispatch(event.NewBuffering(true), "a")
	g.Dispatch(event.NewBuffering(false), "a")
	if a.stalls != 1 || a.resumes != 0 {
		t.Fatalf("expected one stall and no resume, got %d/%d", a.stalls, a.resumes)
	}
	g.Dispatch(event.NewBuffering(false), "b")
	if a.resumes != 1 || b.resumes != 1 {
		t.Fatalf("expected one resume each, got %d/%d", a.resumes, b.resumes)
	}
}

func TestUnregisterClearsBufferingAndResumes(t *testing.T) {
	g, _ := newTestGroup(t)
	a, b := newFake("a", event.Audio), newFake("b", event.Video)
	b.playing = true
	g.Register(a)
	g.Register(b)
	g.Dispatch(event.NewBuffering(true), "a")

	g.Unregister(a)
	if g.IsBuffering() || g.IsBufferingOrigin("a") {
		t.Fatal("unregistered origin must leave the buffering set")
	}
	if g.AudioCount() != 0 {
		t.Fatalf("expected audio count 0 got %d", g.AudioCount())
	}
	if !b.playing {
		t.Fatal("expected b resumed when the last origin left")
	}
	if got := g.Participants(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected participants %v", got)
	}
}

func TestUnregisterLockOwnerKeepsWindow(t *testing.T) {
	g, c := newTestGroup(t)
	a, b, x := newFake("a", event.Video), newFake("b", event.Video), newFake("x", event.Video)
	g.Register(a)
	g.Register(b)
	g.Register(x)
	g.Dispatch(event.NewPlay(0), "a")
	g.Unregister(a)

	if g.Dispatch(event.NewPause(0), "b") {
		t.Fatal("window of an unregistered owner must run out on its own")
	}
	c.Advance(100 * time.Millisecond)
	if !g.Dispatch(event.NewPause(0), "b") {
		t.Fatal("expected b accepted after expiry")
	}
}

func TestBufferingFromUnknownOriginIgnored(t *testing.T) {
	g, _ := newTestGroup(t)
	g.Register(newFake("a", event.Video))
	if !g.Dispatch(event.NewBuffering(true), "ghost") {
		t.Fatal("buffering always propagates")
	}
	if g.IsBuffering() {
		t.Fatal("unknown origin must not enter the buffering set")
	}
}

func TestDispatchToEmptyGroup(t *testing.T) {
	g, _ := newTestGroup(t)
	if !g.Dispatch(event.NewPlay(0), "a") {
		t.Fatal("expected first dispatch to pass")
	}
	if g.Dispatch(event.NewPlay(0), "b") {
		t.Fatal("locking still applies with no participants")
	}
}

func TestAudioCountAndReplace(t *testing.T) {
	g, _ := newTestGroup(t)
	g.Register(newFake("a", event.Audio))
	g.Register(newFake("v", event.Video))
	if g.AudioCount() != 1 {
		t.Fatalf("expected 1 audio got %d", g.AudioCount())
	}
	g.Register(newFake("a", event.Video))
	if g.AudioCount() != 0 {
		t.Fatalf("expected replaced participant to drop audio count, got %d", g.AudioCount())
	}
	if got := g.Participants(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("replacement must keep position, got %v", got)
	}
	g.Unregister(newFake("missing", event.Audio))
	if g.AudioCount() != 0 {
		t.Fatal("unknown unregister changed the audio count")
	}
}

func TestDeliveryInRegistrationOrder(t *testing.T) {
	g, _ := newTestGroup(t)
	var order []string
	for _, n := range []string{"c", "a", "b", "origin"} {
		p := newFake(n, event.Other)
		p.onRecv = func(event.Event) { order = append(order, p.name) }
		g.Register(p)
	}
	g.Dispatch(event.NewSeek(1, false), "origin")
	if len(order) != 3 || order[0] != "c" || order[1] != "a" || order[2] != "b" {
		t.Fatalf("unexpected delivery order %v", order)
	}
}

func TestReentrantSendIsBoundedByWindow(t *testing.T) {
	g, _ := newTestGroup(t)
	a, b := newFake("a", event.Video), newFake("b", event.Video)
	echoes := 0
	b.onRecv = func(ev event.Event) {
		echoes++
		if g.Dispatch(ev, "b") {
			t.Fatal("echo from b must be suppressed")
		}
	}
	a.onRecv = func(event.Event) { t.Fatal("echo reached a") }
	g.Register(a)
	g.Register(b)

	if !g.Dispatch(event.NewSeek(7, true), "a") {
		t.Fatal("expected seek to propagate")
	}
	if echoes != 1 {
		t.Fatalf("expected a single echo attempt, got %d", echoes)
	}
}

func TestObserverAndMetrics(t *testing.T) {
	var records []Record
	c := clock.NewManual(time.Unix(0, 0))
	g := NewGroup("obs", WithClock(c), WithObserver(ObserverFunc(func(r Record) { records = append(records, r) })))
	defer g.Close()
	g.Register(newFake("a", event.Video))
	g.Register(newFake("b", event.Video))

	delivered := testutil.ToFloat64(metrics.DispatchCounter.WithLabelValues("speed", "delivered"))
	suppressed := testutil.ToFloat64(metrics.DispatchCounter.WithLabelValues("speed", "suppressed"))

	g.Dispatch(event.NewSpeed(2), "a")
	g.Dispatch(event.NewSpeed(1), "b")

	if len(records) != 2 {
		t.Fatalf("expected 2 records got %d", len(records))
	}
	if records[0].Suppressed || records[0].Delivered != 1 || records[0].Group != "obs" {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if !records[1].Suppressed || records[1].Delivered != 0 {
		t.Fatalf("unexpected second record %+v", records[1])
	}
	if v := testutil.ToFloat64(metrics.DispatchCounter.WithLabelValues("speed", "delivered")); v != delivered+1 {
		t.Fatalf("expected delivered counter %v got %v", delivered+1, v)
	}
	if v := testutil.ToFloat64(metrics.DispatchCounter.WithLabelValues("speed", "suppressed")); v != suppressed+1 {
		t.Fatalf("expected suppressed counter %v got %v", suppressed+1, v)
	}
}

func TestSnapshot(t *testing.T) {
	g, _ := newTestGroup(t)
	g.Register(newFake("audio", event.Audio))
	g.Register(newFake("video", event.Video))
	g.Dispatch(event.NewBuffering(true), "video")
	g.Dispatch(event.NewSeek(1, false), "audio")

	s := g.Snapshot()
	if s.Key != "k" || s.AudioCount != 1 || s.LockOwner != "audio" {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if len(s.Buffering) != 1 || s.Buffering[0] != "video" {
		t.Fatalf("unexpected buffering %v", s.Buffering)
	}
	if len(s.Participants) != 2 || s.Participants[1].Kind != event.Video {
		t.Fatalf("unexpected participants %+v", s.Participants)
	}
}

func TestBufferingOrigins(t *testing.T) {
	g, _ := newTestGroup(t)
	for _, name := range []string{"video", "chart", "audio"} {
		g.Register(newFake(name, event.Video))
	}
	g.Dispatch(event.NewBuffering(true), "video")
	g.Dispatch(event.NewBuffering(true), "chart")
	if got := g.BufferingOrigins(); len(got) != 2 || got[0] != "chart" || got[1] != "video" {
		t.Fatalf("unexpected origins %v", got)
	}
	g.Dispatch(event.NewBuffering(false), "chart")
	if got := g.BufferingOrigins(); len(got) != 1 || got[0] != "video" {
		t.Fatalf("unexpected origins %v", got)
	}
}

func TestCloseReleasesGauges(t *testing.T) {
	participants := testutil.ToFloat64(metrics.ParticipantGauge)
	buffering := testutil.ToFloat64(metrics.BufferingGauge)

	g := NewGroup("gauges", WithClock(clock.NewManual(time.Unix(0, 0))))
	audio := newFake("audio", event.Audio)
	g.Register(audio)
	g.Register(newFake("video", event.Video))
	g.Dispatch(event.NewBuffering(true), "video")
	if v := testutil.ToFloat64(metrics.ParticipantGauge); v != participants+2 {
		t.Fatalf("expected participant gauge %v got %v", participants+2, v)
	}
	if v := testutil.ToFloat64(metrics.BufferingGauge); v != buffering+1 {
		t.Fatalf("expected buffering gauge %v got %v", buffering+1, v)
	}

	g.Close()
	g.Close()
	g.Unregister(audio)
	if v := testutil.ToFloat64(metrics.ParticipantGauge); v != participants {
		t.Fatalf("expected participant gauge back to %v got %v", participants, v)
	}
	if v := testutil.ToFloat64(metrics.BufferingGauge); v != buffering {
		t.Fatalf("expected buffering gauge back to %v got %v", buffering, v)
	}
	if g.IsBuffering() || len(g.Participants()) != 0 || g.AudioCount() != 0 {
		t.Fatal("expected an empty group after Close")
	}
}

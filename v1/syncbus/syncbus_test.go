package syncbus

import (
	"context"
	"errors"
	"testing"
	"time"

	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
)

func expectPayload(t *testing.T, ch <-chan []byte, want string, wait time.Duration) {
	t.Helper()
	select {
	case got, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		if string(got) != want {
			t.Fatalf("expected %q got %q", want, got)
		}
	case <-time.After(wait):
		t.Fatal("timeout waiting for publish")
	}
}

func expectClosed(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unsubscribe")
	}
}

func waitMetrics(t *testing.T, get func() Metrics, published, delivered uint64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		m := get()
		if m.Published == published && m.Delivered == delivered {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected published %d delivered %d got %+v", published, delivered, m)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "lockstep.task-1_video")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(context.Background(), "lockstep.task-1_video", []byte("play")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectPayload(t, ch, "play", time.Second)

	metrics := bus.Metrics()
	if metrics.Published != 1 {
		t.Fatalf("expected published 1 got %d", metrics.Published)
	}
	if metrics.Delivered != 1 {
		t.Fatalf("expected delivered 1 got %d", metrics.Delivered)
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	a, _ := bus.Subscribe(ctx, "a")
	b, _ := bus.Subscribe(ctx, "b")
	if err := bus.Publish(ctx, "a", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectPayload(t, a, "x", time.Second)
	select {
	case <-b:
		t.Fatal("unexpected delivery on other topic")
	default:
	}
}

func TestMultipleSubscribersReceive(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	first, _ := bus.Subscribe(ctx, "k")
	second, _ := bus.Subscribe(ctx, "k")
	if err := bus.Publish(ctx, "k", []byte("seek")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectPayload(t, first, "seek", time.Second)
	expectPayload(t, second, "seek", time.Second)
	if got := bus.Metrics().Delivered; got != 2 {
		t.Fatalf("expected delivered 2 got %d", got)
	}
}

func TestContextBasedUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, "key")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()
	expectClosed(t, ch)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if _, ok := bus.subs["key"]; ok {
		t.Fatal("subscription still present after context cancel")
	}
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	if _, err := bus.Subscribe(ctx, "k"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < subscriberBuffer+10; i++ {
		if err := bus.Publish(ctx, "k", []byte("x")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	m := bus.Metrics()
	if m.Published != subscriberBuffer+10 || m.Delivered != subscriberBuffer {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestCloseClosesSubscriptions(t *testing.T) {
	bus := NewInMemoryBus()
	ch, _ := bus.Subscribe(context.Background(), "k")
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	expectClosed(t, ch)
	if err := bus.Publish(context.Background(), "k", nil); !errors.Is(err, lserrors.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed got %v", err)
	}
	if _, err := bus.Subscribe(context.Background(), "k"); !errors.Is(err, lserrors.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed got %v", err)
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.Publish(ctx, "k", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
}

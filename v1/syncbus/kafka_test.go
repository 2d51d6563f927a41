package syncbus

import (
	"context"
	"os"
	"testing"
	"time"

	sarama "github.com/IBM/sarama"
	"github.com/google/uuid"
)

func newKafkaBus(t *testing.T) (*KafkaBus, context.Context) {
	t.Helper()
	addr := os.Getenv("LOCKSTEP_TEST_KAFKA_ADDR")
	if addr == "" {
		t.Skip("LOCKSTEP_TEST_KAFKA_ADDR not set, skipping Kafka integration tests")
	}
	t.Logf("TestKafkaBus: using real Kafka at %s", addr)

	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	bus, err := NewKafkaBus([]string{addr}, config)
	if err != nil {
		t.Fatalf("NewKafkaBus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	return bus, context.Background()
}

func TestKafkaBusPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus, ctx := newKafkaBus(t)
	topic := "lockstep.test-" + uuid.NewString()

	// Create the topic so the partition consumer has something to attach to.
	if err := bus.Publish(ctx, topic, []byte("warmup")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ch, err := bus.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(2 * time.Second)

	if err := bus.Publish(ctx, topic, []byte("play")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectPayload(t, ch, "play", 10*time.Second)

	if m := bus.Metrics(); m.Published != 2 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestKafkaBusContextBasedUnsubscribe(t *testing.T) {
	bus, ctx := newKafkaBus(t)
	topic := "lockstep.test-" + uuid.NewString()
	if err := bus.Publish(ctx, topic, []byte("warmup")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := bus.Subscribe(subCtx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	expectClosed(t, ch)
}

package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// loopback is an in-process stand-in for a kafka topic: written messages become readable.
type loopback struct {
	mu     sync.Mutex
	ch     chan kafka.Message
	failed bool
	closed int
}

func newLoopback() *loopback { return &loopback{ch: make(chan kafka.Message, 16)} }

func (l *loopback) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed {
		return errors.New("broker unavailable")
	}
	for _, m := range msgs {
		l.ch <- m
	}
	return nil
}

func (l *loopback) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-l.ch:
		return m, nil
	}
}

func (l *loopback) Close() error {
	l.mu.Lock()
	l.closed++
	l.mu.Unlock()
	return nil
}

func TestKafkaGroup_PublishRoundTripsToLocalMembers(t *testing.T) {
	topic := newLoopback()
	hub := NewHub(quietLog(), nil)
	g := newKafkaGroup(hub, topic, topic, time.Second, quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- g.Run(ctx) }()

	a := NewClient("acct", "s-a", 4)
	if err := g.Join(ctx, "sensor_data", a); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := g.Publish(ctx, "sensor_data", []byte(`{"type":"sensor_data"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-a.Send:
		if string(msg) != `{"type":"sensor_data"}` {
			t.Fatalf("got %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message not fanned out from the consumer")
	}
	select {
	case extra := <-a.Send:
		t.Fatalf("duplicate delivery: %s", extra)
	case <-time.After(50 * time.Millisecond):
	}

	if err := g.Leave(ctx, "sensor_data", "s-a"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if topic.closed != 2 {
		t.Fatalf("closed=%d want writer and reader", topic.closed)
	}
}

func TestKafkaGroup_PublishError(t *testing.T) {
	topic := newLoopback()
	topic.failed = true
	g := newKafkaGroup(NewHub(quietLog(), nil), topic, topic, time.Second, quietLog())
	if err := g.Publish(context.Background(), "sensor_data", []byte("x")); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestNewKafkaGroup_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaGroup(KafkaConfig{}, NewHub(quietLog(), nil), nil); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

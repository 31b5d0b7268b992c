package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestInMemoryBroker_PublishSubscribe(t *testing.T) {
	b := NewInMemoryBroker("seller-service", nil)
	defer b.Close()

	var received Message
	done := make(chan struct{})
	if _, err := b.Subscribe("order-notifications", func(ctx context.Context, msg Message) error {
		received = msg
		close(done)
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	msg := NewMessage("order-notifications", "O1", []byte(`{"orderId":"O1"}`), "NEW_ORDER")
	if err := b.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitFor(t, done)

	if received.Key != "O1" {
		t.Errorf("expected key O1, got %q", received.Key)
	}
	if received.MessageType() != "NEW_ORDER" {
		t.Errorf("expected message type NEW_ORDER, got %q", received.MessageType())
	}
	if received.Header(HeaderSource) != "seller-service" {
		t.Errorf("expected source header, got %q", received.Header(HeaderSource))
	}
	if string(received.Value) != `{"orderId":"O1"}` {
		t.Errorf("unexpected value %s", received.Value)
	}
}

func TestInMemoryBroker_DoesNotMutateCallerHeaders(t *testing.T) {
	b := NewInMemoryBroker("svc", nil)
	defer b.Close()

	msg := NewMessage("t", "k", nil, "X")
	if err := b.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if _, ok := msg.Headers[HeaderSource]; ok {
		t.Error("publish modified the caller's header map")
	}
}

func TestInMemoryBroker_TopicFilteringAndOffsets(t *testing.T) {
	b := NewInMemoryBroker("svc", nil)
	defer b.Close()

	var mu sync.Mutex
	var offsets []int64
	var others atomic.Int32
	done := make(chan struct{})

	b.Subscribe("a", func(ctx context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		offsets = append(offsets, msg.Offset)
		if len(offsets) == 3 {
			close(done)
		}
		return nil
	})
	b.Subscribe("b", func(ctx context.Context, msg Message) error {
		others.Add(1)
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := b.Publish(context.Background(), NewMessage("a", "", nil, "")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}
	waitFor(t, done)

	mu.Lock()
	defer mu.Unlock()
	for i, off := range offsets {
		if off != int64(i) {
			t.Errorf("expected offset %d, got %d", i, off)
		}
	}
	if others.Load() != 0 {
		t.Errorf("expected no deliveries on topic b, got %d", others.Load())
	}
}

func TestInMemoryBroker_RedeliversOnHandlerError(t *testing.T) {
	b := NewInMemoryBroker("svc", nil)
	b.RedeliveryDelay = time.Millisecond
	defer b.Close()

	var calls atomic.Int32
	done := make(chan struct{})
	b.Subscribe("t", func(ctx context.Context, msg Message) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	b.Publish(context.Background(), NewMessage("t", "", nil, ""))
	waitFor(t, done)

	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 handler calls, got %d", got)
	}
}

func TestInMemoryBroker_DropsAfterMaxRedeliveries(t *testing.T) {
	b := NewInMemoryBroker("svc", nil)
	b.MaxRedeliveries = 2
	b.RedeliveryDelay = time.Millisecond

	var calls atomic.Int32
	b.Subscribe("t", func(ctx context.Context, msg Message) error {
		calls.Add(1)
		return errors.New("permanent")
	})
	b.Publish(context.Background(), NewMessage("t", "", nil, ""))

	// Close drains the queue, so every attempt has happened when it returns.
	b.Close()
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 1 delivery + 2 redeliveries, got %d", got)
	}
}

func TestInMemoryBroker_ClosePreventsFurtherUse(t *testing.T) {
	b := NewInMemoryBroker("svc", nil)
	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if err := b.Publish(context.Background(), Message{Topic: "t"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Publish, got %v", err)
	}
	if _, err := b.Subscribe("t", func(context.Context, Message) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Subscribe, got %v", err)
	}
	if err := b.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Connect, got %v", err)
	}
}

func TestInMemoryBroker_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	b := NewInMemoryBroker("svc", nil)
	defer b.Close()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var got trace.SpanContext
	done := make(chan struct{})
	b.Subscribe("t", func(ctx context.Context, msg Message) error {
		got = trace.SpanContextFromContext(ctx)
		close(done)
		return nil
	})
	b.Publish(ctx, NewMessage("t", "", nil, ""))
	waitFor(t, done)

	if got.TraceID() != traceID {
		t.Errorf("expected trace id %s, got %s", traceID, got.TraceID())
	}
	if !got.IsRemote() {
		t.Error("expected remote span context on the consumer side")
	}
}

func TestInMemoryBroker_PublishFromHandlerWithFullQueue(t *testing.T) {
	b := NewInMemoryBroker("svc", nil)
	defer b.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	result := make(chan error, 1)
	defer close(release)

	var once sync.Once
	if _, err := b.Subscribe("in", func(ctx context.Context, msg Message) error {
		once.Do(func() { close(started) })
		if msg.Key != "first" {
			return nil
		}
		<-release
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := b.Publish(context.Background(), NewMessage("in", "first", nil, "")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitFor(t, started)

	// The dispatch goroutine is parked in the handler; fill the queue behind it.
	for i := 0; i < memoryQueueSize; i++ {
		if err := b.Publish(context.Background(), NewMessage("other", "fill", nil, "")); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		result <- b.Publish(ctx, NewMessage("out", "summary", nil, ""))
	}()

	select {
	case err := <-result:
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("expected ErrQueueFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish on a full queue blocked")
	}
}

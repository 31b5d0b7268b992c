package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// Integration tests against a real cluster are not part of the unit suite.

func TestKafkaBroker_ImplementsInterface(t *testing.T) {
	var _ MessageBroker = (*KafkaBroker)(nil)
	var _ MessageBroker = (*RabbitMQBroker)(nil)
	var _ MessageBroker = (*InMemoryBroker)(nil)
}

func TestNewKafkaBroker_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaBroker(KafkaConfig{}, nil); err == nil {
		t.Error("expected error for empty brokers list")
	}
}

func TestNewKafkaBroker_Defaults(t *testing.T) {
	b, err := NewKafkaBroker(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	if b.config.ConsumerGroup != "seller-service-group" {
		t.Errorf("expected default consumer group, got %s", b.config.ConsumerGroup)
	}
	if b.config.ClientID != "seller-service" {
		t.Errorf("expected default client id, got %s", b.config.ClientID)
	}
	if b.writer != nil {
		t.Error("writer should not be created before the first publish")
	}
}

func TestKafkaBroker_WriterIsCached(t *testing.T) {
	b, _ := NewKafkaBroker(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	defer b.Close()

	w1, err := b.getWriter()
	if err != nil {
		t.Fatalf("getWriter failed: %v", err)
	}
	w2, _ := b.getWriter()
	if w1 != w2 {
		t.Error("expected the same writer on every call")
	}
}

func TestKafkaBroker_ClosePreventsFurtherUse(t *testing.T) {
	b, _ := NewKafkaBroker(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if err := b.Publish(context.Background(), Message{Topic: "t"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := b.Subscribe("t", func(context.Context, Message) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestKafkaBroker_ConnectFailsWhenUnreachable(t *testing.T) {
	b, _ := NewKafkaBroker(KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, nil)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Connect(ctx); err == nil {
		t.Fatal("expected connect error for unreachable broker")
	}
}

func TestKafkaHeaderConversion(t *testing.T) {
	headers := toKafkaHeaders(map[string]string{
		HeaderMessageType: "NEW_ORDER",
		HeaderSource:      "orders",
	})
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(headers))
	}

	msg := fromKafkaMessage(kafka.Message{
		Topic:     "order-notifications",
		Partition: 2,
		Offset:    41,
		Key:       []byte("O1"),
		Value:     []byte(`{}`),
		Headers:   headers,
	})
	if msg.MessageType() != "NEW_ORDER" || msg.Header(HeaderSource) != "orders" {
		t.Errorf("headers lost in conversion: %v", msg.Headers)
	}
	if msg.Partition != 2 || msg.Offset != 41 || msg.Key != "O1" {
		t.Errorf("unexpected message metadata: %+v", msg)
	}
}

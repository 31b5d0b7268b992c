package broker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Header names carried on every message.
const (
	HeaderMessageType   = "message-type"
	HeaderSource        = "source"
	HeaderError         = "x-error"
	HeaderAttempts      = "x-attempts"
	HeaderOriginalTopic = "x-original-topic"
)

// Message is the broker-neutral envelope. Partition and Offset are only set
// on consumed messages and only meaningful for Kafka.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
}

func NewMessage(topic, key string, value []byte, messageType string) Message {
	return Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: map[string]string{HeaderMessageType: messageType},
	}
}

func (m Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[name]
}

func (m Message) MessageType() string {
	return m.Header(HeaderMessageType)
}

// DeadLetterTopic is where messages from topic go once they cannot be
// processed.
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}

// outgoingHeaders copies h, stamps the source and injects the trace context
// from ctx. The caller's map is never modified.
func outgoingHeaders(ctx context.Context, h map[string]string, source string) map[string]string {
	out := make(map[string]string, len(h)+3)
	for k, v := range h {
		out[k] = v
	}
	if source != "" {
		if _, ok := out[HeaderSource]; !ok {
			out[HeaderSource] = source
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(out))
	return out
}

// contextFromHeaders returns ctx carrying the remote span context, if any.
func contextFromHeaders(ctx context.Context, h map[string]string) context.Context {
	if len(h) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(h))
}

package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fast-fab/Seller-service/internal/broker"
	"github.com/fast-fab/Seller-service/internal/config"
	"github.com/fast-fab/Seller-service/internal/events"
	"github.com/fast-fab/Seller-service/internal/metrics"
)

// ProducerConfig controls how hard the producer tries before giving up on a
// message.
type ProducerConfig struct {
	Topics  config.Topics
	Retries int
	Timeout time.Duration
	Backoff time.Duration
}

// EventProducer encodes payloads as JSON and publishes them to the broker,
// retrying failed attempts with exponential backoff.
type EventProducer struct {
	broker broker.MessageBroker
	cfg    ProducerConfig
	logger *zap.Logger
}

// NewEventProducer creates a new EventProducer that publishes to the given broker.
func NewEventProducer(b broker.MessageBroker, cfg ProducerConfig, logger *zap.Logger) *EventProducer {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventProducer{broker: b, cfg: cfg, logger: logger}
}

// Publish JSON-encodes payload and publishes it to topic under key.
func (p *EventProducer) Publish(ctx context.Context, topic, key string, payload interface{}, messageType string) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", messageType, err)
	}
	return p.send(ctx, broker.NewMessage(topic, key, value, messageType))
}

func (p *EventProducer) send(ctx context.Context, msg broker.Message) error {
	var err error
	for attempt := 1; attempt <= p.cfg.Retries; attempt++ {
		actx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		err = p.broker.Publish(actx, msg)
		cancel()
		if err == nil {
			metrics.EventsPublishedTotal.WithLabelValues(msg.Topic, "ok").Inc()
			return nil
		}
		if errors.Is(err, broker.ErrClosed) || attempt == p.cfg.Retries {
			break
		}
		p.logger.Warn("publish attempt failed",
			zap.String("topic", msg.Topic),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if !broker.Sleep(ctx, broker.Backoff(p.cfg.Backoff, 30*time.Second, attempt)) {
			err = ctx.Err()
			break
		}
	}
	metrics.EventsPublishedTotal.WithLabelValues(msg.Topic, "error").Inc()
	return fmt.Errorf("publish to %s: %w", msg.Topic, err)
}

// PublishNewOrder is used by tooling to feed the pipeline.
func (p *EventProducer) PublishNewOrder(ctx context.Context, order events.OrderEvent) error {
	return p.Publish(ctx, p.cfg.Topics.OrderNotifications, order.OrderID, order, events.TypeNewOrder)
}

func (p *EventProducer) PublishSellerResponse(ctx context.Context, r events.SellerResponse) error {
	return p.Publish(ctx, p.cfg.Topics.OrderResponses, r.OrderID, r, events.TypeSellerResponse)
}

func (p *EventProducer) PublishStatusUpdate(ctx context.Context, u events.StatusUpdate) error {
	return p.Publish(ctx, p.cfg.Topics.OrderStatus, u.Key(), u, events.TypeStatusUpdate)
}

func (p *EventProducer) PublishNotificationSent(ctx context.Context, s events.NotificationSent) error {
	return p.Publish(ctx, p.cfg.Topics.SellerNotifications, s.OrderID, s, events.TypeNotificationSent)
}

// PublishDeadLetter copies msg unchanged to its dead-letter topic, recording
// why and after how many attempts it was given up on.
func (p *EventProducer) PublishDeadLetter(ctx context.Context, msg broker.Message, cause error, attempts int) error {
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	// The dead letter is ours now; trace context is re-injected on publish.
	delete(headers, broker.HeaderSource)
	delete(headers, "traceparent")
	delete(headers, "tracestate")
	headers[broker.HeaderOriginalTopic] = msg.Topic
	headers[broker.HeaderAttempts] = strconv.Itoa(attempts)
	if cause != nil {
		headers[broker.HeaderError] = cause.Error()
	}

	dlq := broker.Message{
		Topic:   broker.DeadLetterTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if err := p.send(ctx, dlq); err != nil {
		return err
	}
	metrics.EventsDeadLetteredTotal.WithLabelValues(msg.Topic).Inc()
	return nil
}

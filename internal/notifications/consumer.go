package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fast-fab/Seller-service/internal/apperr"
	"github.com/fast-fab/Seller-service/internal/broker"
	"github.com/fast-fab/Seller-service/internal/config"
	"github.com/fast-fab/Seller-service/internal/events"
)

type OrderDispatcher interface {
	DispatchOrderNotification(ctx context.Context, order events.OrderEvent) (int, error)
}

type InboundRecorder interface {
	RecordInbound(ctx context.Context, r events.SellerResponse) (*OrderResponse, error)
}

type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, msg broker.Message, cause error, attempts int) error
}

// ConsumerConfig names the topics to read and how often a failing message
// is retried before it is dead-lettered. Source is this service's client id;
// responses carrying it were published by us and are skipped.
type ConsumerConfig struct {
	Topics       config.Topics
	Source       string
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Consumer subscribes to the order topics and routes each message by topic
// and message type.
type Consumer struct {
	broker     broker.MessageBroker
	dispatcher OrderDispatcher
	responses  InboundRecorder
	deadLetter DeadLetterPublisher
	cfg        ConsumerConfig
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConsumer creates a new Consumer.
func NewConsumer(b broker.MessageBroker, dispatcher OrderDispatcher, responses InboundRecorder, deadLetter DeadLetterPublisher, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		broker:     b,
		dispatcher: dispatcher,
		responses:  responses,
		deadLetter: deadLetter,
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the inbound topics. It returns immediately; messages
// are handled on the broker's goroutines.
func (c *Consumer) Start() error {
	for _, topic := range []string{c.cfg.Topics.OrderNotifications, c.cfg.Topics.OrderResponses} {
		id, err := c.broker.Subscribe(topic, c.handle)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		c.logger.Info("consumer subscribed", zap.String("topic", topic), zap.String("subscription", id))
	}
	return nil
}

// Stop aborts pending retries. Close the broker separately to stop delivery.
func (c *Consumer) Stop() {
	c.cancel()
}

func (c *Consumer) handle(ctx context.Context, msg broker.Message) error {
	log := c.logger.With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("message_type", msg.MessageType()),
	)

	switch msg.Topic {
	case c.cfg.Topics.OrderNotifications:
		if t := msg.MessageType(); t != "" && t != events.TypeNewOrder {
			log.Warn("unknown message type, skipping")
			return nil
		}
		var order events.OrderEvent
		if err := json.Unmarshal(msg.Value, &order); err != nil {
			return c.reject(ctx, log, msg, fmt.Errorf("decode order event: %w", err), 1)
		}
		return c.process(ctx, log.With(zap.String("order_id", order.OrderID)), msg, func(ctx context.Context) error {
			_, err := c.dispatcher.DispatchOrderNotification(ctx, order)
			return err
		})

	case c.cfg.Topics.OrderResponses:
		if t := msg.MessageType(); t != "" && t != events.TypeSellerResponse {
			log.Warn("unknown message type, skipping")
			return nil
		}
		if c.cfg.Source != "" && msg.Header(broker.HeaderSource) == c.cfg.Source {
			log.Debug("skipping own seller response")
			return nil
		}
		var resp events.SellerResponse
		if err := json.Unmarshal(msg.Value, &resp); err != nil {
			return c.reject(ctx, log, msg, fmt.Errorf("decode seller response: %w", err), 1)
		}
		return c.process(ctx, log.With(zap.String("order_id", resp.OrderID), zap.String("seller_id", resp.SellerID)), msg, func(ctx context.Context) error {
			_, err := c.responses.RecordInbound(ctx, resp)
			return err
		})

	default:
		log.Warn("message from unexpected topic, skipping")
		return nil
	}
}

// process runs fn up to MaxAttempts times. Invalid input and dispatches
// whose pushes already went out are not retried. When every attempt fails
// the message is dead-lettered.
func (c *Consumer) process(ctx context.Context, log *zap.Logger, msg broker.Message, fn func(context.Context) error) error {
	var err error
	attempt := 1
	for ; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, apperr.ErrInvalid) || errors.Is(err, ErrPushesSent) || attempt >= c.cfg.MaxAttempts {
			break
		}
		log.Warn("handler failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if !broker.Sleep(c.ctx, broker.Backoff(c.cfg.RetryBackoff, 30*time.Second, attempt)) {
			return fmt.Errorf("consumer stopped: %w", err)
		}
	}
	return c.reject(ctx, log, msg, err, attempt)
}

// reject dead-letters msg. Only a failure to do so is returned, which makes
// the broker deliver the message again.
func (c *Consumer) reject(ctx context.Context, log *zap.Logger, msg broker.Message, cause error, attempts int) error {
	if err := c.deadLetter.PublishDeadLetter(ctx, msg, cause, attempts); err != nil {
		log.Error("dead-letter publish failed", zap.NamedError("cause", cause), zap.Error(err))
		return fmt.Errorf("dead-letter message from %s: %w", msg.Topic, err)
	}
	log.Error("message dead-lettered",
		zap.String("dlq", broker.DeadLetterTopic(msg.Topic)),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	return nil
}

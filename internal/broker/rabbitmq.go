package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const headerKey = "message-key"

type RabbitMQConfig struct {
	URL           string
	Exchange      string
	ConsumerGroup string
	ClientID      string
	DialAttempts  int
	DialDelay     time.Duration
	RetryBackoff  time.Duration
}

// RabbitMQBroker implements MessageBroker on a durable topic exchange. Topic
// names are used as routing keys. Each subscription gets a durable queue
// named <group>.<topic> so several replicas share the work, and messages
// are acknowledged only after the handler succeeds.
type RabbitMQBroker struct {
	config RabbitMQConfig
	logger *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	subs   map[string]*amqp.Channel
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRabbitMQBroker(config RabbitMQConfig, logger *zap.Logger) (*RabbitMQBroker, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL is required")
	}
	if config.Exchange == "" {
		config.Exchange = "marketplace.events"
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "seller-service-group"
	}
	if config.DialAttempts <= 0 {
		config.DialAttempts = 5
	}
	if config.DialDelay <= 0 {
		config.DialDelay = 2 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RabbitMQBroker{
		config: config,
		logger: logger,
		subs:   make(map[string]*amqp.Channel),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Connect dials with a few retries, since the broker container is often
// still starting, then declares the exchange.
func (b *RabbitMQBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return nil
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < b.config.DialAttempts; i++ {
		conn, err = amqp.DialConfig(b.config.URL, amqp.Config{
			Properties: amqp.Table{"connection_name": b.config.ClientID},
		})
		if err == nil {
			break
		}
		b.logger.Warn("rabbitmq dial failed", zap.Int("attempt", i+1), zap.Error(err))
		if i < b.config.DialAttempts-1 && !Sleep(ctx, b.config.DialDelay) {
			return ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("could not open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(b.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("could not declare exchange: %w", err)
	}

	b.conn = conn
	b.pubCh = ch
	b.logger.Info("connected to rabbitmq", zap.String("exchange", b.config.Exchange))
	return nil
}

func (b *RabbitMQBroker) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.pubCh == nil {
		return ErrNotConnected
	}

	headers := amqp.Table{}
	for k, v := range outgoingHeaders(ctx, msg.Headers, b.config.ClientID) {
		headers[k] = v
	}
	if msg.Key != "" {
		headers[headerKey] = msg.Key
	}

	err := b.pubCh.PublishWithContext(ctx,
		b.config.Exchange,
		msg.Topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			AppId:        b.config.ClientID,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
			Body:         msg.Value,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to rabbitmq routing key %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe requires Connect to have succeeded.
func (b *RabbitMQBroker) Subscribe(topic string, handler Handler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	if b.conn == nil {
		return "", ErrNotConnected
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return "", fmt.Errorf("could not open channel: %w", err)
	}
	// One unacked message at a time keeps per-queue ordering.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return "", fmt.Errorf("could not set qos: %w", err)
	}

	queue := b.config.ConsumerGroup + "." + topic
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return "", fmt.Errorf("could not declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, b.config.Exchange, false, nil); err != nil {
		ch.Close()
		return "", fmt.Errorf("could not bind queue: %w", err)
	}

	id := uuid.New().String()
	deliveries, err := ch.Consume(q.Name, b.config.ClientID+"-"+id, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return "", fmt.Errorf("could not start consume: %w", err)
	}
	b.subs[id] = ch

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consumeLoop(topic, deliveries, handler)
	}()
	return id, nil
}

func (b *RabbitMQBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	subs := b.subs
	conn := b.conn
	b.mu.Unlock()

	var firstErr error
	for _, ch := range subs {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.wg.Wait()
	if conn != nil {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *RabbitMQBroker) consumeLoop(topic string, deliveries <-chan amqp.Delivery, handler Handler) {
	log := b.logger.With(zap.String("topic", topic))
	for {
		select {
		case <-b.ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			msg := fromDelivery(topic, d)
			if err := handler(contextFromHeaders(b.ctx, msg.Headers), msg); err != nil {
				log.Warn("handler failed, requeueing", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
				Sleep(b.ctx, b.config.RetryBackoff)
				if err := d.Nack(false, true); err != nil {
					log.Error("nack failed", zap.Error(err))
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				log.Error("ack failed", zap.Error(err))
			}
		}
	}
}

func fromDelivery(topic string, d amqp.Delivery) Message {
	headers := make(map[string]string, len(d.Headers))
	var key string
	for k, v := range d.Headers {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		if k == headerKey {
			key = s
			continue
		}
		headers[k] = s
	}
	return Message{
		Topic:   topic,
		Key:     key,
		Value:   d.Body,
		Headers: headers,
		Offset:  int64(d.DeliveryTag),
	}
}

package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string

	// RetryBackoff is the first delay before a failed message is handed to
	// the handler again. It doubles per attempt up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// KafkaBroker implements MessageBroker on segmentio/kafka-go. The writer is
// created on first publish and reused. Each subscription owns a group
// reader that starts from the earliest retained offset and commits a
// message only after the handler succeeds.
type KafkaBroker struct {
	config KafkaConfig
	logger *zap.Logger
	dialer *kafka.Dialer

	mu      sync.Mutex
	writer  *kafka.Writer
	readers map[string]*kafkaSubscription
	closed  bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

type kafkaSubscription struct {
	id      string
	topic   string
	reader  *kafka.Reader
	handler Handler
	cancel  context.CancelFunc
}

func NewKafkaBroker(config KafkaConfig, logger *zap.Logger) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "seller-service-group"
	}
	if config.ClientID == "" {
		config.ClientID = "seller-service"
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.MaxRetryBackoff <= 0 {
		config.MaxRetryBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &KafkaBroker{
		config: config,
		logger: logger,
		dialer: &kafka.Dialer{
			ClientID:  config.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		},
		readers: make(map[string]*kafkaSubscription),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Connect dials the configured brokers until one answers.
func (b *KafkaBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var lastErr error
	for _, addr := range b.config.Brokers {
		conn, err := b.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		b.logger.Info("connected to kafka", zap.String("broker", addr), zap.String("client_id", b.config.ClientID))
		return nil
	}
	return fmt.Errorf("connect to kafka %v: %w", b.config.Brokers, lastErr)
}

// getWriter returns the shared writer, creating it on first use.
func (b *KafkaBroker) getWriter() (*kafka.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.writer == nil {
		b.writer = &kafka.Writer{
			Addr:                   kafka.TCP(b.config.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			Transport: &kafka.Transport{
				ClientID: b.config.ClientID,
				Dial:     (&net.Dialer{Timeout: b.dialer.Timeout}).DialContext,
			},
		}
	}
	return b.writer, nil
}

// Publish writes msg keyed by msg.Key so messages for one order stay on one
// partition. The source header and trace context are added here.
func (b *KafkaBroker) Publish(ctx context.Context, msg Message) error {
	w, err := b.getWriter()
	if err != nil {
		return err
	}

	km := kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: toKafkaHeaders(outgoingHeaders(ctx, msg.Headers, b.config.ClientID)),
	}
	if err := w.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write to kafka topic %s: %w", msg.Topic, err)
	}
	return nil
}

func (b *KafkaBroker) Subscribe(topic string, handler Handler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrClosed
	}

	id := uuid.New().String()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.config.Brokers,
		Topic:       topic,
		GroupID:     b.config.ConsumerGroup,
		Dialer:      b.dialer,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
	})

	subCtx, subCancel := context.WithCancel(b.ctx)
	sub := &kafkaSubscription{
		id:      id,
		topic:   topic,
		reader:  reader,
		handler: handler,
		cancel:  subCancel,
	}
	b.readers[id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consumeLoop(subCtx, sub)
	}()

	return id, nil
}

// Close stops consumers, waits for in-flight handlers and flushes the
// writer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	readers := make([]*kafkaSubscription, 0, len(b.readers))
	for _, sub := range b.readers {
		readers = append(readers, sub)
	}
	writer := b.writer
	b.mu.Unlock()

	b.wg.Wait()

	var firstErr error
	for _, sub := range readers {
		if err := sub.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *KafkaBroker) consumeLoop(ctx context.Context, sub *kafkaSubscription) {
	log := b.logger.With(zap.String("topic", sub.topic), zap.String("subscription", sub.id))
	fetchFailures := 0

	for {
		km, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fetchFailures++
			log.Warn("kafka fetch failed", zap.Error(err))
			if !Sleep(ctx, Backoff(b.config.RetryBackoff, b.config.MaxRetryBackoff, fetchFailures)) {
				return
			}
			continue
		}
		fetchFailures = 0

		msg := fromKafkaMessage(km)
		if !b.handleUntilDone(ctx, sub, msg, log) {
			return
		}

		if err := sub.reader.CommitMessages(ctx, km); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("kafka commit failed",
				zap.Int("partition", km.Partition),
				zap.Int64("offset", km.Offset),
				zap.Error(err))
		}
	}
}

// handleUntilDone calls the handler until it succeeds. It returns false if
// ctx was cancelled first, in which case the message stays uncommitted.
func (b *KafkaBroker) handleUntilDone(ctx context.Context, sub *kafkaSubscription, msg Message, log *zap.Logger) bool {
	hctx := contextFromHeaders(ctx, msg.Headers)
	for attempt := 1; ; attempt++ {
		err := sub.handler(hctx, msg)
		if err == nil {
			return true
		}
		log.Warn("handler failed, message will be redelivered",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if !Sleep(ctx, Backoff(b.config.RetryBackoff, b.config.MaxRetryBackoff, attempt)) {
			return false
		}
	}
}

func toKafkaHeaders(h map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func fromKafkaMessage(km kafka.Message) Message {
	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     km.Topic,
		Key:       string(km.Key),
		Value:     km.Value,
		Headers:   headers,
		Partition: km.Partition,
		Offset:    km.Offset,
	}
}

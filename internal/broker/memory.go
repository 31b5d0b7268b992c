package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const memoryQueueSize = 1024

type memorySubscription struct {
	id      string
	handler Handler
}

// InMemoryBroker is a single-process MessageBroker backed by a channel. It
// redelivers a message up to MaxRedeliveries times when a handler fails,
// then drops it. Suitable for development and tests.
type InMemoryBroker struct {
	MaxRedeliveries int
	RedeliveryDelay time.Duration

	source string
	logger *zap.Logger

	mu     sync.RWMutex // guards closed and eventCh sends
	closed bool

	subMu   sync.RWMutex
	subs    map[string][]memorySubscription // topic -> subscriptions
	offsets map[string]int64

	eventCh chan Message
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewInMemoryBroker starts the dispatch goroutine. Call Close to stop it.
func NewInMemoryBroker(source string, logger *zap.Logger) *InMemoryBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &InMemoryBroker{
		MaxRedeliveries: 3,
		RedeliveryDelay: 10 * time.Millisecond,
		source:          source,
		logger:          logger,
		subs:            make(map[string][]memorySubscription),
		offsets:         make(map[string]int64),
		eventCh:         make(chan Message, memoryQueueSize),
		done:            make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}
	go b.dispatch()
	return b
}

func (b *InMemoryBroker) Connect(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Publish enqueues msg for asynchronous delivery. It never waits for room:
// handlers publish from the dispatch goroutine, which is the only reader of
// the queue, so a full queue returns ErrQueueFull.
func (b *InMemoryBroker) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg.Headers = outgoingHeaders(ctx, msg.Headers, b.source)
	select {
	case b.eventCh <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *InMemoryBroker) Subscribe(topic string, handler Handler) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return "", ErrClosed
	}

	id := uuid.New().String()
	b.subMu.Lock()
	b.subs[topic] = append(b.subs[topic], memorySubscription{id: id, handler: handler})
	b.subMu.Unlock()
	return id, nil
}

// Close drains queued messages, then stops the dispatch goroutine.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.eventCh)
	b.mu.Unlock()

	<-b.done
	b.cancel()
	return nil
}

func (b *InMemoryBroker) dispatch() {
	defer close(b.done)

	for msg := range b.eventCh {
		b.subMu.Lock()
		msg.Offset = b.offsets[msg.Topic]
		b.offsets[msg.Topic]++
		subs := make([]memorySubscription, len(b.subs[msg.Topic]))
		copy(subs, b.subs[msg.Topic])
		b.subMu.Unlock()

		for _, s := range subs {
			b.deliver(s, msg)
		}
	}
}

func (b *InMemoryBroker) deliver(s memorySubscription, msg Message) {
	ctx := contextFromHeaders(b.ctx, msg.Headers)
	for attempt := 0; ; attempt++ {
		err := s.handler(ctx, msg)
		if err == nil {
			return
		}
		if attempt >= b.MaxRedeliveries {
			b.logger.Error("dropping message after redeliveries",
				zap.String("topic", msg.Topic),
				zap.String("subscription", s.id),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return
		}
		b.logger.Warn("handler failed, redelivering",
			zap.String("topic", msg.Topic),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if !Sleep(b.ctx, b.RedeliveryDelay) {
			return
		}
	}
}

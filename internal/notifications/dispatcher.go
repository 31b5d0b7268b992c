package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fast-fab/Seller-service/internal/apperr"
	"github.com/fast-fab/Seller-service/internal/broker"
	"github.com/fast-fab/Seller-service/internal/events"
	"github.com/fast-fab/Seller-service/internal/geo"
	"github.com/fast-fab/Seller-service/internal/metrics"
	"github.com/fast-fab/Seller-service/internal/notifications/push"
	"github.com/fast-fab/Seller-service/internal/observability"
)

// CandidateSource lists the sellers that could take an order for a product.
type CandidateSource interface {
	ListCandidates(ctx context.Context, productID string) ([]geo.Candidate, error)
}

// NotificationWriter stores a dispatch batch and marks its sellers NOTIFIED
// in one step. Sellers that already responded keep their status.
type NotificationWriter interface {
	InsertNotifications(ctx context.Context, records []Notification) ([]Notification, error)
}

// ErrPushesSent marks a dispatch that failed after its pushes went out.
// Running it again would notify the same sellers twice, so the consumer
// dead-letters the event instead of retrying it.
var ErrPushesSent = errors.New("pushes already sent")

const (
	defaultPersistAttempts = 3
	defaultPersistBackoff  = 200 * time.Millisecond
)

type SummaryPublisher interface {
	PublishNotificationSent(ctx context.Context, s events.NotificationSent) error
}

// LiveFeed pushes stored notifications to connected sellers.
type LiveFeed interface {
	Broadcast(sellerID string, n Notification)
}

// Dispatcher turns a new-order event into pushes and stored notifications
// for every eligible seller.
type Dispatcher struct {
	candidates  CandidateSource
	notifier    push.Notifier
	store       NotificationWriter
	publisher   SummaryPublisher
	feed        LiveFeed
	fanoutLimit int
	logger      *zap.Logger
	now         func() time.Time

	persistAttempts int
	persistBackoff  time.Duration
}

// NewDispatcher creates a Dispatcher. feed may be nil. A fanoutLimit of zero
// or less sends all pushes at once.
func NewDispatcher(candidates CandidateSource, notifier push.Notifier, store NotificationWriter, publisher SummaryPublisher, feed LiveFeed, fanoutLimit int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		candidates:  candidates,
		notifier:    notifier,
		store:       store,
		publisher:   publisher,
		feed:        feed,
		fanoutLimit: fanoutLimit,
		logger:      logger,
		now:         time.Now,

		persistAttempts: defaultPersistAttempts,
		persistBackoff:  defaultPersistBackoff,
	}
}

// DispatchOrderNotification notifies every eligible seller and stores one
// record per seller whether or not the push got through. It returns the
// number of eligible sellers. A repeated event is processed again in full.
// Once pushes are sent, storage failures are retried here and never by
// re-running the pushes; a final failure wraps ErrPushesSent.
func (d *Dispatcher) DispatchOrderNotification(ctx context.Context, order events.OrderEvent) (int, error) {
	if order.OrderID == "" || order.ProductID == "" {
		return 0, apperr.Invalid("order event needs orderId and productId")
	}

	ctx, span := observability.Tracer().Start(ctx, "dispatch_order_notification")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", order.OrderID),
		attribute.String("product.id", order.ProductID),
	)

	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()
	metrics.OrderDispatchTotal.Inc()

	log := d.logger.With(zap.String("order_id", order.OrderID), zap.String("product_id", order.ProductID))

	candidates, err := d.candidates.ListCandidates(ctx, order.ProductID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list candidates")
		return 0, fmt.Errorf("list candidates for order %s: %w", order.OrderID, err)
	}

	eligible := geo.Select(order.MatchOrder(), candidates)
	span.SetAttributes(attribute.Int("sellers.eligible", len(eligible)))
	if len(eligible) == 0 {
		log.Info("no eligible sellers", zap.Int("candidates", len(candidates)))
		return 0, nil
	}

	delivered := d.fanOut(ctx, order, eligible)

	metadata, err := json.Marshal(order)
	if err != nil {
		return 0, fmt.Errorf("marshal order metadata: %w", err)
	}

	records := make([]Notification, len(eligible))
	sellerIDs := make([]string, len(eligible))
	deliveredCount := 0
	for i, seller := range eligible {
		records[i] = orderRecord(order, seller.ID, metadata, delivered[i])
		sellerIDs[i] = seller.ID
		if delivered[i] {
			deliveredCount++
		}
	}

	stored, err := d.persist(ctx, log, records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist notifications")
		return 0, fmt.Errorf("persist notifications for order %s: %w: %w", order.OrderID, ErrPushesSent, err)
	}
	metrics.NotificationsPersistedTotal.Add(float64(len(stored)))

	summary := events.NotificationSent{
		OrderID:        order.OrderID,
		SellerIDs:      sellerIDs,
		NotifiedCount:  len(eligible),
		DeliveredCount: deliveredCount,
		Timestamp:      d.now().UTC(),
	}
	if err := d.publisher.PublishNotificationSent(ctx, summary); err != nil {
		log.Error("notification summary not published", zap.Error(err))
	}

	if d.feed != nil {
		for _, n := range stored {
			d.feed.Broadcast(n.SellerID, n)
		}
	}

	log.Info("order dispatched",
		zap.Int("eligible", len(eligible)),
		zap.Int("delivered", deliveredCount))
	return len(eligible), nil
}

// persist writes the batch, retrying transient failures with backoff.
func (d *Dispatcher) persist(ctx context.Context, log *zap.Logger, records []Notification) ([]Notification, error) {
	for attempt := 1; ; attempt++ {
		stored, err := d.store.InsertNotifications(ctx, records)
		if err == nil {
			return stored, nil
		}
		if errors.Is(err, apperr.ErrInvalid) || attempt >= d.persistAttempts {
			return nil, err
		}
		log.Warn("persisting notifications failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if !broker.Sleep(ctx, broker.Backoff(d.persistBackoff, 5*time.Second, attempt)) {
			return nil, err
		}
	}
}

// fanOut sends one push per seller and waits for all of them. Outcomes are
// indexed like sellers.
func (d *Dispatcher) fanOut(ctx context.Context, order events.OrderEvent, sellers []geo.Candidate) []bool {
	n := orderPush(order)
	delivered := make([]bool, len(sellers))

	var g errgroup.Group
	if d.fanoutLimit > 0 {
		g.SetLimit(d.fanoutLimit)
	}
	for i, seller := range sellers {
		g.Go(func() error {
			delivered[i] = d.notifier.Notify(ctx, seller.ID, n)
			return nil
		})
	}
	g.Wait() //nolint:errcheck
	return delivered
}

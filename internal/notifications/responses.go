package notifications

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fast-fab/Seller-service/internal/apperr"
	"github.com/fast-fab/Seller-service/internal/events"
	"github.com/fast-fab/Seller-service/internal/metrics"
	"github.com/fast-fab/Seller-service/internal/observability"
)

type ResponseWriter interface {
	InsertResponse(ctx context.Context, r *OrderResponse) error
}

type ResponsePublisher interface {
	PublishSellerResponse(ctx context.Context, r events.SellerResponse) error
}

// ResponseCollector records seller decisions and announces them downstream.
type ResponseCollector struct {
	store     ResponseWriter
	publisher ResponsePublisher
	logger    *zap.Logger
}

func NewResponseCollector(store ResponseWriter, publisher ResponsePublisher, logger *zap.Logger) *ResponseCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCollector{store: store, publisher: publisher, logger: logger}
}

// RecordResponse stores the decision and then publishes it once. The record
// stays stored if publishing fails; that failure is logged, not returned.
// Nothing checks that the seller was notified for the order, and repeated
// calls append further records.
func (c *ResponseCollector) RecordResponse(ctx context.Context, orderID, sellerID string, accepted bool, reason string) (*OrderResponse, error) {
	ctx, span := observability.Tracer().Start(ctx, "record_response")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("seller.id", sellerID),
		attribute.Bool("response.accepted", accepted),
	)

	resp, err := c.persist(ctx, orderID, sellerID, accepted, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist response")
		return nil, err
	}

	event := events.SellerResponse{
		OrderID:   resp.OrderID,
		SellerID:  resp.SellerID,
		Accepted:  resp.Accepted,
		Reason:    resp.Reason,
		Timestamp: resp.ResponseTime.UTC(),
	}
	if err := c.publisher.PublishSellerResponse(ctx, event); err != nil {
		span.RecordError(err)
		c.logger.Error("seller response stored but not published",
			zap.String("order_id", orderID),
			zap.String("seller_id", sellerID),
			zap.String("response_id", resp.ID),
			zap.Error(err))
	}
	return resp, nil
}

// RecordInbound stores a decision that arrived as an event. It is not
// published again.
func (c *ResponseCollector) RecordInbound(ctx context.Context, r events.SellerResponse) (*OrderResponse, error) {
	return c.persist(ctx, r.OrderID, r.SellerID, r.Accepted, r.Reason)
}

func (c *ResponseCollector) persist(ctx context.Context, orderID, sellerID string, accepted bool, reason string) (*OrderResponse, error) {
	if orderID == "" || sellerID == "" {
		return nil, apperr.Invalid("orderId and sellerId are required")
	}

	resp := &OrderResponse{
		OrderID:  orderID,
		SellerID: sellerID,
		Accepted: accepted,
		Reason:   reason,
	}
	if err := c.store.InsertResponse(ctx, resp); err != nil {
		return nil, err
	}
	metrics.ResponsesTotal.WithLabelValues(strconv.FormatBool(accepted)).Inc()
	c.logger.Info("seller response recorded",
		zap.String("order_id", orderID),
		zap.String("seller_id", sellerID),
		zap.Bool("accepted", accepted))
	return resp, nil
}

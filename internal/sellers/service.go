package sellers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fast-fab/Seller-service/internal/apperr"
	"github.com/fast-fab/Seller-service/internal/events"
)

// Repository is the persistence the service needs; *Store implements it.
type Repository interface {
	UpdateStock(ctx context.Context, sellerID, productID string, stock int) (int, error)
	SetActive(ctx context.Context, sellerID string, active bool) (bool, error)
	SetDeviceToken(ctx context.Context, sellerID, token string) error
}

// StatusPublisher emits order-status events.
type StatusPublisher interface {
	PublishStatusUpdate(ctx context.Context, update events.StatusUpdate) error
}

// TokenInvalidator forgets a cached device token.
type TokenInvalidator interface {
	Invalidate(ctx context.Context, sellerID string) error
}

// Service applies seller-side changes that other services care about and
// announces them on the order-status topic. Publishing is best effort: the
// change is already committed when the event goes out.
type Service struct {
	repo      Repository
	publisher StatusPublisher
	tokens    TokenInvalidator
	logger    *zap.Logger
	now       func() time.Time
}

// NewService builds a Service. tokens may be nil when no cache is in use.
func NewService(repo Repository, publisher StatusPublisher, tokens TokenInvalidator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, publisher: publisher, tokens: tokens, logger: logger, now: time.Now}
}

// UpdateStock sets the stock level. Crossing zero in either direction emits
// OUT_OF_STOCK or RESTOCKED.
func (s *Service) UpdateStock(ctx context.Context, sellerID, productID string, stock int) error {
	if stock < 0 {
		return apperr.Invalid("stock must be a non-negative number")
	}
	previous, err := s.repo.UpdateStock(ctx, sellerID, productID, stock)
	if err != nil {
		return err
	}

	var kind string
	switch {
	case previous > 0 && stock == 0:
		kind = events.StatusOutOfStock
	case previous == 0 && stock > 0:
		kind = events.StatusRestocked
	default:
		return nil
	}

	s.publish(ctx, events.StatusUpdate{
		SellerID:  sellerID,
		Status:    events.StatusChange{Type: kind, ProductID: productID, Stock: &stock},
		Timestamp: s.now().UTC(),
	})
	return nil
}

// SetActive toggles the seller. Only an actual change emits an event.
func (s *Service) SetActive(ctx context.Context, sellerID string, active bool) error {
	previous, err := s.repo.SetActive(ctx, sellerID, active)
	if err != nil {
		return err
	}
	if previous == active {
		return nil
	}

	kind := events.StatusSellerDeactivated
	if active {
		kind = events.StatusSellerActivated
	}
	s.publish(ctx, events.StatusUpdate{
		SellerID:  sellerID,
		Status:    events.StatusChange{Type: kind},
		Timestamp: s.now().UTC(),
	})
	return nil
}

func (s *Service) SetDeviceToken(ctx context.Context, sellerID, token string) error {
	if token == "" {
		return apperr.Invalid("deviceToken is required")
	}
	if err := s.repo.SetDeviceToken(ctx, sellerID, token); err != nil {
		return err
	}
	if s.tokens != nil {
		if err := s.tokens.Invalidate(ctx, sellerID); err != nil {
			// The cache entry expires on its own; the stale token only costs
			// failed pushes until then.
			s.logger.Warn("device token cache not invalidated", zap.String("seller_id", sellerID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, update events.StatusUpdate) {
	if err := s.publisher.PublishStatusUpdate(ctx, update); err != nil {
		s.logger.Error("status update not published",
			zap.String("seller_id", update.SellerID),
			zap.String("status", update.Status.Type),
			zap.Error(err))
	}
}

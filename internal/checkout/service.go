package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/outbox"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Policy decides what happens when a line asks for more than the live stock.
type Policy int

const (
	// PolicyStrict fails the checkout with InsufficientStockError.
	PolicyStrict Policy = iota
	// PolicyClamp sells what is asked and floors the stock at zero.
	PolicyClamp
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "strict":
		return PolicyStrict, nil
	case "clamp":
		return PolicyClamp, nil
	default:
		return PolicyStrict, fmt.Errorf("unknown stock policy %q", s)
	}
}

func (p Policy) String() string {
	if p == PolicyClamp {
		return "clamp"
	}
	return "strict"
}

// Cart is the session cart being checked out. Settle removes the committed
// quantities and keeps whatever was added while the checkout ran.
type Cart interface {
	Lines() []domain.CartLine
	Settle(committed []domain.CartLine)
	Flush(ctx context.Context) error
}

// ReceiptSink receives every committed order.
type ReceiptSink interface {
	Emit(ctx context.Context, order domain.Order) error
}

type Result struct {
	Order domain.Order
	// Duplicate is set when the idempotency key matched an order committed earlier.
	Duplicate bool
	// ReceiptErr is the receipt failure, if any. The order stays committed.
	ReceiptErr error
}

type Service struct {
	store    docstore.Store
	policy   Policy
	receipts ReceiptSink
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithReceiptSink(r ReceiptSink) Option {
	return func(s *Service) { s.receipts = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store docstore.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		policy: PolicyStrict,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout turns the cart into an order in one atomic batch: stock and sales of
// every product, the order itself, the principal's loyalty points and the
// order.completed outbox event. The batch is rejected if any product or the
// principal changed since it was read.
func (s *Service) Checkout(ctx context.Context, principal *domain.Principal, cart Cart, idempotencyKey string) (Result, error) {
	if principal == nil || principal.ID == "" {
		return Result{}, ErrNotAuthenticated
	}

	if err := cart.Flush(ctx); err != nil {
		// stock is re-read below, a stale mirror does not matter here
		s.logger.Warn("cart mirror not flushed before checkout",
			zap.String("principal_id", principal.ID),
			zap.Error(err),
		)
	}

	// a retried request finds its order even after the first attempt emptied the cart
	if idempotencyKey != "" {
		existing, err := docstore.GetAs[domain.Order](ctx, s.store, domain.OrdersCollection, idempotencyKey)
		switch {
		case err == nil:
			if existing.PrincipalID != principal.ID {
				return Result{}, ErrIdempotencyConflict
			}
			s.logger.Info("duplicate checkout request",
				zap.String("idempotency_key", idempotencyKey),
				zap.String("order_id", existing.ID),
			)
			// a reused key must not wipe a cart filled after the original order
			if lines := cart.Lines(); domain.SameQuantities(lines, existing.Items) {
				cart.Settle(lines)
			}
			return Result{Order: existing, Duplicate: true}, nil
		case !errors.Is(err, docstore.ErrNotFound):
			return Result{}, fmt.Errorf("%w: check idempotency key: %w", domain.ErrReadFailure, err)
		}
	}

	lines := cart.Lines()
	if len(lines) == 0 {
		return Result{}, ErrEmptyCart
	}

	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	batch := s.store.Batch()

	items, err := s.stageProducts(ctx, batch, lines)
	if err != nil {
		return Result{}, err
	}

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}

	order := domain.Order{
		ID:             idempotencyKey,
		IdempotencyKey: idempotencyKey,
		PrincipalID:    principal.ID,
		PrincipalLabel: principal.Label(),
		Items:          items,
		Total:          total,
		PointsEarned:   domain.PointsFor(total),
		CreatedAt:      s.now().UTC().Truncate(time.Millisecond),
	}
	batch.Create(domain.OrdersCollection, order.ID, order)

	if err := s.stagePoints(ctx, batch, principal.ID, order.PointsEarned); err != nil {
		return Result{}, err
	}

	event, err := outbox.NewOrderCompleted(order)
	if err != nil {
		return Result{}, err
	}
	batch.Create(outbox.Collection, event.ID, event)

	if err := batch.Commit(ctx); err != nil {
		s.logger.Error("checkout commit failed",
			zap.String("principal_id", principal.ID),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return Result{}, &CommitError{Err: err}
	}

	s.logger.Info("checkout committed",
		zap.String("principal_id", principal.ID),
		zap.String("order_id", order.ID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("points_earned", order.PointsEarned),
	)

	cart.Settle(lines)

	result := Result{Order: order}
	if s.receipts != nil {
		if err := s.receipts.Emit(ctx, order); err != nil {
			s.logger.Error("failed to emit receipt", zap.String("order_id", order.ID), zap.Error(err))
			result.ReceiptErr = err
		}
	}
	return result, nil
}

func (s *Service) stageProducts(ctx context.Context, batch docstore.Batch, lines []domain.CartLine) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	var shortages []Shortage

	for _, line := range lines {
		product, err := docstore.GetAs[domain.Product](ctx, s.store, domain.ProductsCollection, line.ProductID)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read product %s: %w", domain.ErrReadFailure, line.ProductID, err)
		}

		if product.AvailableQuantity < line.Quantity {
			if s.policy == PolicyStrict {
				shortages = append(shortages, Shortage{
					ProductID: product.ID,
					Name:      product.Name,
					Requested: line.Quantity,
					Available: product.AvailableQuantity,
				})
				continue
			}
			s.logger.Warn("clamping stock at zero",
				zap.String("product_id", product.ID),
				zap.Int("requested", line.Quantity),
				zap.Int("available", product.AvailableQuantity),
			)
		}

		batch.Update(domain.ProductsCollection, product.ID, docstore.Fields{
			"available_quantity": max(product.AvailableQuantity-line.Quantity, 0),
			"sales_count":        product.SalesCount + line.Quantity,
		}, docstore.MatchVersion(product.Version))

		// name and price as captured in the cart
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	if len(shortages) > 0 {
		return nil, &InsufficientStockError{Shortages: shortages}
	}
	return items, nil
}

func (s *Service) stagePoints(ctx context.Context, batch docstore.Batch, principalID string, earned int) error {
	doc, err := docstore.GetAs[domain.Principal](ctx, s.store, domain.UsersCollection, principalID)
	if errors.Is(err, docstore.ErrNotFound) {
		s.logger.Warn("principal has no user document, skipping loyalty points",
			zap.String("principal_id", principalID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read principal %s: %w", domain.ErrReadFailure, principalID, err)
	}

	batch.Update(domain.UsersCollection, principalID, docstore.Fields{
		"loyalty_points": doc.LoyaltyPoints + earned,
	}, docstore.MatchVersion(doc.Version))
	return nil
}

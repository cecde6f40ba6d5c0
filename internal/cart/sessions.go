package cart

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sessions holds the live cart of every signed-in principal.
type Sessions struct {
	products ProductReader
	mirror   Mirror
	logger   *zap.Logger

	mu    sync.Mutex
	carts map[string]*Cart
}

func NewSessions(products ProductReader, mirror Mirror, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		products: products,
		mirror:   mirror,
		logger:   logger,
		carts:    make(map[string]*Cart),
	}
}

// Get returns the principal's cart, hydrating it from the mirror on first use.
func (s *Sessions) Get(ctx context.Context, principalID string) (*Cart, error) {
	s.mu.Lock()
	c, ok := s.carts[principalID]
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	lines, err := s.mirror.Load(ctx, principalID)
	if err != nil {
		s.logger.Error("failed to load cart", zap.String("principal_id", principalID), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[principalID]; ok {
		return c, nil
	}
	c = New(principalID, s.products, s.mirror, s.logger)
	c.restore(lines)
	s.carts[principalID] = c
	return c, nil
}

// End flushes and forgets the principal's cart.
func (s *Sessions) End(ctx context.Context, principalID string) error {
	s.mu.Lock()
	c, ok := s.carts[principalID]
	delete(s.carts, principalID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Flush(ctx)
}

// FlushAll waits for pending writes of every live cart.
func (s *Sessions) FlushAll(ctx context.Context) {
	s.mu.Lock()
	carts := make([]*Cart, 0, len(s.carts))
	for _, c := range s.carts {
		carts = append(carts, c)
	}
	s.mu.Unlock()

	for _, c := range carts {
		if err := c.Flush(ctx); err != nil {
			s.logger.Warn("cart flush failed", zap.String("principal_id", c.principalID), zap.Error(err))
		}
	}
}

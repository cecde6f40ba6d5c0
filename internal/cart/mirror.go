package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Mirror is the durable copy of a principal's cart.
type Mirror interface {
	Load(ctx context.Context, principalID string) ([]domain.CartLine, error)
	Save(ctx context.Context, principalID string, lines []domain.CartLine) error
}

// StoreMirror keeps cart mirrors in the document store, fronted by a cart cache.
type StoreMirror struct {
	store  docstore.Store
	cache  cache.CartCache
	logger *zap.Logger
	now    func() time.Time
	sfg    singleflight.Group // collapses concurrent cache misses per principal
}

func NewStoreMirror(store docstore.Store, c cache.CartCache, logger *zap.Logger) *StoreMirror {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreMirror{
		store:  store,
		cache:  c,
		logger: logger,
		now:    time.Now,
	}
}

func (m *StoreMirror) Load(ctx context.Context, principalID string) ([]domain.CartLine, error) {
	v, err, _ := m.sfg.Do(principalID, func() (interface{}, error) {
		cached, err := m.cache.Get(ctx, principalID)
		if err == nil {
			return cached.Items, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			m.logger.Warn("cart cache get failed", zap.String("principal_id", principalID), zap.Error(err))
		}

		mirror, err := docstore.GetAs[domain.CartMirror](ctx, m.store, domain.CartsCollection, principalID)
		if errors.Is(err, docstore.ErrNotFound) {
			return []domain.CartLine(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load cart %s: %w", domain.ErrReadFailure, principalID, err)
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := m.cache.Set(ctx, principalID, &mirror); err != nil {
				m.logger.Warn("cart cache set failed", zap.String("principal_id", principalID), zap.Error(err))
			}
		}()

		return mirror.Items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.CartLine), nil
}

func (m *StoreMirror) Save(ctx context.Context, principalID string, lines []domain.CartLine) error {
	mirror := domain.CartMirror{
		PrincipalID: principalID,
		Items:       lines,
		Total:       domain.LinesTotal(lines),
		UpdatedAt:   m.now().UTC(),
	}
	if err := m.store.Set(ctx, domain.CartsCollection, principalID, mirror); err != nil {
		return fmt.Errorf("%w: save cart %s: %w", domain.ErrWriteFailure, principalID, err)
	}
	m.invalidate(principalID)
	return nil
}

func (m *StoreMirror) invalidate(principalID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.cache.Delete(ctx, principalID); err != nil {
		m.logger.Warn("cart cache invalidate failed", zap.String("principal_id", principalID), zap.Error(err))
	}
}

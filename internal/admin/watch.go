package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
)

// Watchable collections of the admin screens.
var watchable = map[string]bool{
	domain.ProductsCollection: true,
	domain.UsersCollection:    true,
	domain.OrdersCollection:   true,
}

var ErrNotWatchable = errors.New("collection cannot be watched")

// Watch streams the full, sorted contents of an admin collection on every change.
// Each value is ready to be encoded as JSON.
func (s *Service) Watch(ctx context.Context, collection string) (<-chan any, error) {
	if !watchable[collection] {
		return nil, fmt.Errorf("%w: %s", ErrNotWatchable, collection)
	}
	onErr := func(err error) {
		s.logger.Warn("failed to decode snapshot", zap.String("collection", collection), zap.Error(err))
	}
	w := docstore.Watch{Collection: collection}

	switch collection {
	case domain.ProductsCollection:
		ch, err := docstore.WatchAs[domain.Product](ctx, s.store, w, onErr)
		return relay(ctx, ch, err, nil)
	case domain.UsersCollection:
		ch, err := docstore.WatchAs[domain.Principal](ctx, s.store, w, onErr)
		return relay(ctx, ch, err, nil)
	default:
		ch, err := docstore.WatchAs[domain.Order](ctx, s.store, w, onErr)
		return relay(ctx, ch, err, sortOrders)
	}
}

func relay[T any](ctx context.Context, in <-chan []T, err error, sortFn func([]T)) (<-chan any, error) {
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrReadFailure, err)
	}
	out := make(chan any, 1)
	go func() {
		defer close(out)
		for items := range in {
			if sortFn != nil {
				sortFn(items)
			}
			select {
			case out <- items:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

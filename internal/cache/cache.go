package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, principalID string) (*domain.CartMirror, error)
	Set(ctx context.Context, principalID string, cart *domain.CartMirror) error
	Delete(ctx context.Context, principalID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Noop never hits; used when no Redis address is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.CartMirror, error) { return nil, ErrCacheMiss }

func (Noop) Set(context.Context, string, *domain.CartMirror) error { return nil }

func (Noop) Delete(context.Context, string) error { return nil }

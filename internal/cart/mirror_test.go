package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLines() []domain.CartLine {
	return []domain.CartLine{
		{ProductID: "p1", Name: "Mouse", UnitPrice: decimal.RequireFromString("10"), Quantity: 2},
		{ProductID: "p2", Name: "Cable", UnitPrice: decimal.RequireFromString("5"), Quantity: 3},
	}
}

func TestStoreMirror_RoundTrip(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := NewStoreMirror(store, nil, nil)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, "user-1", sampleLines()))

	lines, err := m.Load(ctx, "user-1")
	require.NoError(t, err)
	assertSameLines(t, sampleLines(), lines)

	doc, err := docstore.GetAs[domain.CartMirror](ctx, store, domain.CartsCollection, "user-1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("35").Equal(doc.Total))
}

func TestStoreMirror_MissingIsEmpty(t *testing.T) {
	m := NewStoreMirror(docstore.NewMemoryStore(), nil, nil)

	lines, err := m.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestStoreMirror_ReadFailure(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.InjectFault(func(kind, _, _ string) error {
		if kind == "get" {
			return errors.New("timeout")
		}
		return nil
	})
	m := NewStoreMirror(store, nil, nil)

	_, err := m.Load(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrReadFailure)
}

func TestStoreMirror_CacheFillAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := docstore.NewMemoryStore()
	m := NewStoreMirror(store, cache.NewRedisCache(client, time.Minute), nil)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, "user-1", sampleLines()))
	_, err := m.Load(ctx, "user-1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return mr.Exists("cart:user-1")
	}, time.Second, 10*time.Millisecond)

	// a cache hit does not touch the store
	store.InjectFault(func(kind, _, _ string) error {
		if kind == "get" {
			return errors.New("store down")
		}
		return nil
	})
	lines, err := m.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	store.InjectFault(nil)
	require.NoError(t, m.Save(ctx, "user-1", sampleLines()[:1]))
	assert.False(t, mr.Exists("cart:user-1"))
}

func TestSessions_HydrateOnce(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := NewStoreMirror(store, nil, nil)
	ctx := context.Background()
	require.NoError(t, m.Save(ctx, "user-1", sampleLines()))

	s := NewSessions(newFakeProducts(), m, nil)
	c1, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, c1.ItemCount())

	c2, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	c1.Clear()
	require.NoError(t, s.End(ctx, "user-1"))

	c3, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
	assert.Empty(t, c3.Lines())
}

func TestSessions_LoadFailureNotCached(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := NewStoreMirror(store, nil, nil)
	ctx := context.Background()
	require.NoError(t, m.Save(ctx, "user-1", sampleLines()))

	store.InjectFault(func(kind, _, _ string) error {
		if kind == "get" {
			return errors.New("timeout")
		}
		return nil
	})
	s := NewSessions(newFakeProducts(), m, nil)

	_, err := s.Get(ctx, "user-1")
	require.ErrorIs(t, err, domain.ErrReadFailure)

	store.InjectFault(nil)
	c, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, c.ItemCount())
}

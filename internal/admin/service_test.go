package admin

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/ledger"
	"github.com/fjod/storefront/internal/receipt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLedger struct {
	summary ledger.Summary
	top     []ledger.ProductSales
	err     error
}

func (s stubLedger) Summary(context.Context) (ledger.Summary, error) { return s.summary, s.err }

func (s stubLedger) TopProducts(context.Context, int) ([]ledger.ProductSales, error) {
	return s.top, s.err
}

func setupService(t *testing.T, sales SalesLedger) (*Service, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	return NewService(store, catalog.New(store), sales, receipt.DefaultMerchant(), nil), store
}

func seedOrder(t *testing.T, store docstore.Store, id, principalID, total string, at time.Time) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), domain.OrdersCollection, id, domain.Order{
		ID:             id,
		PrincipalID:    principalID,
		PrincipalLabel: principalID,
		Items: []domain.OrderItem{
			{ProductID: "p1", Name: "Mouse", Quantity: 2, UnitPrice: decimal.RequireFromString(total).Div(decimal.NewFromInt(2))},
		},
		Total:     decimal.RequireFromString(total),
		CreatedAt: at,
	}))
}

var adminUser = &domain.Principal{ID: "admin", Role: domain.RoleAdministrator}

func TestProducts(t *testing.T) {
	svc, _ := setupService(t, nil)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, domain.Product{Name: "Mouse", UnitPrice: decimal.RequireFromString("10"), AvailableQuantity: 3})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = svc.CreateProduct(ctx, domain.Product{Name: "", UnitPrice: decimal.RequireFromString("1")})
	assert.ErrorIs(t, err, catalog.ErrInvalidProduct)

	qty := 7
	updated, err := svc.UpdateProduct(ctx, created.ID, catalog.ProductPatch{AvailableQuantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, 7, updated.AvailableQuantity)

	negative := -1
	_, err = svc.UpdateProduct(ctx, created.ID, catalog.ProductPatch{AvailableQuantity: &negative})
	assert.ErrorIs(t, err, catalog.ErrInvalidProduct)

	list, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 7, list[0].AvailableQuantity)

	assert.ErrorIs(t, svc.DeleteProduct(ctx, created.ID, false), domain.ErrConfirmationDeclined)
	list, err = svc.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.DeleteProduct(ctx, created.ID, true))
	assert.ErrorIs(t, svc.DeleteProduct(ctx, created.ID, true), catalog.ErrProductNotFound)
}

func TestUsers(t *testing.T) {
	svc, store := setupService(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, domain.UsersCollection, "u1", domain.Principal{ID: "u1", DisplayName: "Bob", Role: domain.RoleOrdinary}))
	require.NoError(t, store.Set(ctx, domain.UsersCollection, "admin", domain.Principal{ID: "admin", DisplayName: "Ana", Role: domain.RoleAdministrator}))

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Ana", users[0].DisplayName)

	require.NoError(t, svc.SetRole(ctx, adminUser, "u1", domain.RoleAdministrator))
	u, err := docstore.GetAs[domain.Principal](ctx, store, domain.UsersCollection, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdministrator, u.Role)

	assert.ErrorIs(t, svc.SetRole(ctx, adminUser, "u1", domain.Role("root")), ErrInvalidRole)
	assert.ErrorIs(t, svc.SetRole(ctx, adminUser, "admin", domain.RoleOrdinary), ErrSelfModification)
	assert.ErrorIs(t, svc.SetRole(ctx, adminUser, "ghost", domain.RoleOrdinary), ErrUserNotFound)

	assert.ErrorIs(t, svc.DeleteUser(ctx, adminUser, "u1", false), domain.ErrConfirmationDeclined)
	assert.ErrorIs(t, svc.DeleteUser(ctx, adminUser, "admin", true), ErrSelfModification)
	require.NoError(t, svc.DeleteUser(ctx, adminUser, "u1", true))
	assert.ErrorIs(t, svc.DeleteUser(ctx, adminUser, "u1", true), ErrUserNotFound)
}

func TestSales(t *testing.T) {
	svc, store := setupService(t, nil)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedOrder(t, store, "o1", "u1", "20", base)
	seedOrder(t, store, "o2", "u2", "15.50", base.Add(time.Hour))

	sales, err := svc.ListSales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "o2", sales[0].ID)

	sum, err := svc.SalesSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Orders)
	assert.Equal(t, 4, sum.Units)
	assert.True(t, decimal.RequireFromString("35.50").Equal(sum.Revenue))

	var buf bytes.Buffer
	require.NoError(t, svc.ExportSales(ctx, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestSalesSummary_FromLedger(t *testing.T) {
	svc, _ := setupService(t, stubLedger{
		summary: ledger.Summary{Orders: 3, Units: 9, Revenue: decimal.RequireFromString("99")},
		top:     []ledger.ProductSales{{ProductID: "p1", Units: 9}},
	})

	sum, err := svc.SalesSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Orders)
	require.Len(t, sum.TopProducts, 1)

	svc, _ = setupService(t, stubLedger{err: errors.New("db down")})
	_, err = svc.SalesSummary(context.Background())
	assert.ErrorIs(t, err, domain.ErrReadFailure)
}

func TestReceipt(t *testing.T) {
	svc, store := setupService(t, nil)
	ctx := context.Background()
	seedOrder(t, store, "o1", "u1", "20", time.Now())

	var buf bytes.Buffer
	require.NoError(t, svc.Receipt(ctx, &domain.Principal{ID: "u1", Role: domain.RoleOrdinary}, "o1", &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))

	buf.Reset()
	require.NoError(t, svc.Receipt(ctx, adminUser, "o1", &buf))

	err := svc.Receipt(ctx, &domain.Principal{ID: "u2", Role: domain.RoleOrdinary}, "o1", &buf)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.ErrorIs(t, svc.Receipt(ctx, adminUser, "missing", &buf), ErrOrderNotFound)
}

func TestWatch(t *testing.T) {
	svc, store := setupService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedOrder(t, store, "o1", "u1", "20", base)

	ch, err := svc.Watch(ctx, domain.OrdersCollection)
	require.NoError(t, err)

	first := (<-ch).([]domain.Order)
	require.Len(t, first, 1)

	seedOrder(t, store, "o2", "u1", "10", base.Add(time.Hour))
	select {
	case v := <-ch:
		orders := v.([]domain.Order)
		require.Len(t, orders, 2)
		assert.Equal(t, "o2", orders[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after new order")
	}

	_, err = svc.Watch(ctx, "carts")
	assert.ErrorIs(t, err, ErrNotWatchable)
}

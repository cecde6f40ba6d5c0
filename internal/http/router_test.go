package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/admin"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/fjod/storefront/internal/receipt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	store    *docstore.MemoryStore
	verifier *identity.Verifier
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := docstore.NewMemoryStore()

	verifier, err := identity.NewVerifier([]byte("0123456789abcdef0123456789abcdef"), "storefront", time.Hour)
	require.NoError(t, err)
	directory := identity.NewDirectory(store, logger)

	cat := catalog.New(store)
	sessions := cart.NewSessions(cat, cart.NewStoreMirror(store, nil, logger), logger)

	handler := NewRouter(Deps{
		Catalog:            cat,
		Sessions:           sessions,
		Checkout:           checkout.NewService(store, checkout.WithLogger(logger)),
		Admin:              admin.NewService(store, cat, nil, receipt.DefaultMerchant(), logger),
		Directory:          directory,
		Authenticator:      identity.NewAuthenticator(verifier, directory, logger),
		RequestTimeout:     5 * time.Second,
		MaxRequestBodySize: 1 << 16,
		Logger:             logger,
	})
	return &testServer{store: store, verifier: verifier, handler: handler}
}

func (s *testServer) seedProduct(t *testing.T, id, price string, stock int) {
	t.Helper()
	require.NoError(t, s.store.Set(context.Background(), domain.ProductsCollection, id, domain.Product{
		ID:                id,
		Name:              "Product " + id,
		UnitPrice:         decimal.RequireFromString(price),
		AvailableQuantity: stock,
	}))
}

func (s *testServer) seedUser(t *testing.T, id string, role domain.Role) string {
	t.Helper()
	require.NoError(t, s.store.Set(context.Background(), domain.UsersCollection, id, domain.Principal{
		ID: id, DisplayName: "User " + id, Role: role,
	}))
	token, err := s.verifier.Issue(id, role)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProducts_Public(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, "p2", "5", 1)
	s.seedProduct(t, "p1", "10", 1)

	w := s.do(t, http.MethodGet, "/api/v1/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	products := decodeBody[[]domain.Product](t, w)
	require.Len(t, products, 2)
	assert.Equal(t, "p1", products[0].ID)

	w = s.do(t, http.MethodGet, "/api/v1/products/p2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Product p2", decodeBody[domain.Product](t, w).Name)

	w = s.do(t, http.MethodGet, "/api/v1/products/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCart_RequiresAuthentication(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/cart/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cart/", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCartAndCheckout(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, "p1", "60", 5)
	s.seedProduct(t, "p2", "20", 1)
	token := s.seedUser(t, "u1", domain.RoleOrdinary)

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", token, AddItemRequestDTO{ProductID: "p1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cart/items/p1/increment", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cart/items", token, AddItemRequestDTO{ProductID: "p2"})
	require.Equal(t, http.StatusCreated, w.Code)

	// stock of p2 is exhausted
	w = s.do(t, http.MethodPost, "/api/v1/cart/items/p2/increment", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cart/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decodeBody[CartResponseDTO](t, w)
	assert.Equal(t, 3, view.ItemCount)
	assert.True(t, decimal.RequireFromString("140").Equal(view.Total))

	w = s.do(t, http.MethodPost, "/api/v1/checkout", token, CheckoutRequestDTO{IdempotencyKey: "k1"})
	require.Equal(t, http.StatusCreated, w.Code)
	res := decodeBody[CheckoutResponseDTO](t, w)
	assert.Equal(t, "k1", res.Order.ID)
	assert.Equal(t, 1, res.Order.PointsEarned)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "/api/v1/orders/k1/receipt", res.ReceiptURL)

	w = s.do(t, http.MethodGet, "/api/v1/cart/", token, nil)
	assert.Equal(t, 0, decodeBody[CartResponseDTO](t, w).ItemCount)

	// retrying the same key returns the committed order
	w = s.do(t, http.MethodPost, "/api/v1/checkout", token, CheckoutRequestDTO{IdempotencyKey: "k1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[CheckoutResponseDTO](t, w).Duplicate)

	w = s.do(t, http.MethodGet, "/api/v1/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[domain.Principal](t, w).LoyaltyPoints)

	w = s.do(t, http.MethodGet, "/api/v1/orders/k1/receipt", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF-"))

	other := s.seedUser(t, "u2", domain.RoleOrdinary)
	w = s.do(t, http.MethodGet, "/api/v1/orders/k1/receipt", other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCart_ItemOperations(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, "p1", "10", 5)
	s.seedProduct(t, "p2", "10", 0)
	token := s.seedUser(t, "u1", domain.RoleOrdinary)

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", token, AddItemRequestDTO{ProductID: "p2"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "out_of_stock", decodeBody[ErrorResponse](t, w).Code)

	w = s.do(t, http.MethodPost, "/api/v1/cart/items", token, AddItemRequestDTO{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cart/items", token, map[string]string{"product": "p1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cart/items/p1/decrement", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.do(t, http.MethodPost, "/api/v1/cart/items", token, AddItemRequestDTO{ProductID: "p1"})
	s.do(t, http.MethodPost, "/api/v1/cart/items/p1/increment", token, nil)
	w = s.do(t, http.MethodPost, "/api/v1/cart/items/p1/decrement", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[CartResponseDTO](t, w).ItemCount)

	w = s.do(t, http.MethodDelete, "/api/v1/cart/items/p1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[CartResponseDTO](t, w).Items)

	s.do(t, http.MethodPost, "/api/v1/cart/items", token, AddItemRequestDTO{ProductID: "p1"})
	w = s.do(t, http.MethodDelete, "/api/v1/cart/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decodeBody[CartResponseDTO](t, w).ItemCount)

	w = s.do(t, http.MethodDelete, "/api/v1/session", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCheckout_Errors(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, "p1", "10", 2)
	token := s.seedUser(t, "u1", domain.RoleOrdinary)

	w := s.do(t, http.MethodPost, "/api/v1/checkout", token, CheckoutRequestDTO{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	s.do(t, http.MethodPost, "/api/v1/cart/items", token, AddItemRequestDTO{ProductID: "p1"})
	s.do(t, http.MethodPost, "/api/v1/cart/items/p1/increment", token, nil)
	require.NoError(t, s.store.Update(context.Background(), domain.ProductsCollection, "p1", docstore.Fields{"available_quantity": 1}))

	w = s.do(t, http.MethodPost, "/api/v1/checkout", token, CheckoutRequestDTO{IdempotencyKey: "k1"})
	require.Equal(t, http.StatusConflict, w.Code)
	resp := decodeBody[struct {
		Code    string              `json:"code"`
		Details []checkout.Shortage `json:"details"`
	}](t, w)
	assert.Equal(t, "insufficient_stock", resp.Code)
	require.Len(t, resp.Details, 1)
	assert.Equal(t, checkout.Shortage{ProductID: "p1", Name: "Product p1", Requested: 2, Available: 1}, resp.Details[0])
}

func TestAdmin_RequiresAdministrator(t *testing.T) {
	s := newTestServer(t)
	token := s.seedUser(t, "u1", domain.RoleOrdinary)

	w := s.do(t, http.MethodGet, "/api/v1/admin/products", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// a stale administrator token does not outrank the stored role
	stale, err := s.verifier.Issue("u1", domain.RoleAdministrator)
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/v1/admin/products", stale, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_Products(t *testing.T) {
	s := newTestServer(t)
	token := s.seedUser(t, "root", domain.RoleAdministrator)

	w := s.do(t, http.MethodPost, "/api/v1/admin/products", token, CreateProductRequestDTO{
		Name: "Keyboard", UnitPrice: decimal.RequireFromString("45.50"), AvailableQuantity: 3,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody[domain.Product](t, w)
	require.NotEmpty(t, created.ID)

	w = s.do(t, http.MethodPost, "/api/v1/admin/products", token, CreateProductRequestDTO{Name: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPatch, "/api/v1/admin/products/"+created.ID, token, map[string]any{"available_quantity": 9})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 9, decodeBody[domain.Product](t, w).AvailableQuantity)

	w = s.do(t, http.MethodDelete, "/api/v1/admin/products/"+created.ID, token, nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/admin/products/"+created.ID+"?confirm=true", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/admin/products", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[[]domain.Product](t, w))
}

func TestAdmin_Users(t *testing.T) {
	s := newTestServer(t)
	token := s.seedUser(t, "root", domain.RoleAdministrator)
	s.seedUser(t, "u1", domain.RoleOrdinary)

	w := s.do(t, http.MethodGet, "/api/v1/admin/users", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]domain.Principal](t, w), 2)

	w = s.do(t, http.MethodPut, "/api/v1/admin/users/u1/role", token, SetRoleRequestDTO{Role: "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/admin/users/u1/role", token, SetRoleRequestDTO{Role: domain.RoleAdministrator})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/admin/users/root/role", token, SetRoleRequestDTO{Role: domain.RoleOrdinary})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/admin/users/u1?confirm=true", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/admin/users/u1?confirm=true", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_Sales(t *testing.T) {
	s := newTestServer(t)
	s.seedProduct(t, "p1", "10", 5)
	adminToken := s.seedUser(t, "root", domain.RoleAdministrator)
	token := s.seedUser(t, "u1", domain.RoleOrdinary)

	s.do(t, http.MethodPost, "/api/v1/cart/items", token, AddItemRequestDTO{ProductID: "p1"})
	w := s.do(t, http.MethodPost, "/api/v1/checkout", token, CheckoutRequestDTO{IdempotencyKey: "k1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/admin/sales", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	orders := decodeBody[[]domain.Order](t, w)
	require.Len(t, orders, 1)
	assert.Equal(t, "User u1", orders[0].PrincipalLabel)

	w = s.do(t, http.MethodGet, "/api/v1/admin/sales/summary", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decodeBody[admin.SalesSummary](t, w)
	assert.Equal(t, 1, summary.Orders)
	assert.True(t, decimal.RequireFromString("10").Equal(summary.Revenue))

	w = s.do(t, http.MethodGet, "/api/v1/admin/sales/export", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF-"))

	// administrators may fetch any receipt
	w = s.do(t, http.MethodGet, "/api/v1/orders/k1/receipt", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_WatchUnknownCollection(t *testing.T) {
	s := newTestServer(t)
	token := s.seedUser(t, "root", domain.RoleAdministrator)

	w := s.do(t, http.MethodGet, "/api/v1/admin/watch/carts", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWatchMe_StreamsPrincipal(t *testing.T) {
	s := newTestServer(t)
	token := s.seedUser(t, "u1", domain.RoleOrdinary)

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/me/watch?access_token="+token, nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 4096)
	var got strings.Builder
	for !strings.Contains(got.String(), "\n\n") {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		require.NoError(t, err)
	}
	assert.Contains(t, got.String(), "event: principal")
	assert.Contains(t, got.String(), `"id":"u1"`)
}

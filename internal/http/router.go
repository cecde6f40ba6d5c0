package http

import (
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/admin"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	Catalog       *catalog.Catalog
	Sessions      *cart.Sessions
	Checkout      *checkout.Service
	Admin         *admin.Service
	Directory     *identity.Directory
	Authenticator *identity.Authenticator

	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	Logger             *zap.Logger
}

// NewRouter builds the storefront HTTP API. Event streams are mounted outside
// the request timeout.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	if d.MaxRequestBodySize <= 0 {
		d.MaxRequestBodySize = 1 << 20
	}

	catalogHandler := NewCatalogHandler(d.Catalog, d.RequestTimeout, d.Logger)
	cartHandler := NewCartHandler(d.Sessions, d.Catalog, d.RequestTimeout, d.MaxRequestBodySize, d.Logger)
	checkoutHandler := NewCheckoutHandler(d.Sessions, d.Checkout, d.Admin, d.RequestTimeout, d.MaxRequestBodySize, d.Logger)
	accountHandler := NewAccountHandler(d.Directory, d.Logger)
	adminHandler := NewAdminHandler(d.Admin, d.RequestTimeout, d.MaxRequestBodySize, d.Logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(d.RequestTimeout))
			r.Use(middleware.Compress(5))

			r.Get("/products", catalogHandler.ListProducts)
			r.Get("/products/{id}", catalogHandler.GetProduct)
		})

		r.Group(func(r chi.Router) {
			r.Use(d.Authenticator.Middleware)

			r.Get("/me/watch", accountHandler.WatchMe)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(d.RequestTimeout))
				r.Use(middleware.Compress(5))

				r.Get("/me", accountHandler.Me)

				r.Route("/cart", func(r chi.Router) {
					r.Get("/", cartHandler.GetCart)
					r.Delete("/", cartHandler.ClearCart)
					r.Post("/items", cartHandler.AddItem)
					r.Post("/items/{product_id}/increment", cartHandler.Increment)
					r.Post("/items/{product_id}/decrement", cartHandler.Decrement)
					r.Delete("/items/{product_id}", cartHandler.RemoveItem)
				})
				r.Delete("/session", cartHandler.EndSession)

				r.Post("/checkout", checkoutHandler.Checkout)
				r.Get("/orders/{id}/receipt", checkoutHandler.Receipt)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(identity.RequireRole(domain.RoleAdministrator))

				r.Get("/watch/{collection}", adminHandler.Watch)

				r.Group(func(r chi.Router) {
					r.Use(middleware.Timeout(d.RequestTimeout))

					r.Get("/products", adminHandler.ListProducts)
					r.Post("/products", adminHandler.CreateProduct)
					r.Patch("/products/{id}", adminHandler.UpdateProduct)
					r.Delete("/products/{id}", adminHandler.DeleteProduct)

					r.Get("/users", adminHandler.ListUsers)
					r.Delete("/users/{id}", adminHandler.DeleteUser)
					r.Put("/users/{id}/role", adminHandler.SetRole)

					r.Get("/sales", adminHandler.ListSales)
					r.Get("/sales/export", adminHandler.ExportSales)
					r.Get("/sales/summary", adminHandler.SalesSummary)
				})
			})
		})
	})

	return r
}

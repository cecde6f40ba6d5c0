package http

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/admin"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AdminHandler struct {
	admin       *admin.Service
	timeout     time.Duration
	maxBodySize int64
	logger      *zap.Logger
}

func NewAdminHandler(a *admin.Service, timeout time.Duration, maxBodySize int64, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{admin: a, timeout: timeout, maxBodySize: maxBodySize, logger: logger}
}

type CreateProductRequestDTO struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	ImageURL          string          `json:"image_url"`
	AvailableQuantity int             `json:"available_quantity"`
}

type SetRoleRequestDTO struct {
	Role domain.Role `json:"role"`
}

// confirmed reads the ?confirm= flag destructive operations require.
func confirmed(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	return ok
}

func (h *AdminHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.admin.ListProducts(ctx)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *AdminHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateProductRequestDTO
	if !decodeJSON(w, r, h.maxBodySize, &req) {
		return
	}
	product, err := h.admin.CreateProduct(ctx, domain.Product{
		Name:              req.Name,
		Description:       req.Description,
		UnitPrice:         req.UnitPrice,
		ImageURL:          req.ImageURL,
		AvailableQuantity: req.AvailableQuantity,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (h *AdminHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var patch catalog.ProductPatch
	if !decodeJSON(w, r, h.maxBodySize, &patch) {
		return
	}
	product, err := h.admin.UpdateProduct(ctx, chi.URLParam(r, "id"), patch)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (h *AdminHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.admin.DeleteProduct(ctx, chi.URLParam(r, "id"), confirmed(r)); err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	users, err := h.admin.ListUsers(ctx)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, _ := identity.FromContext(r.Context())
	if err := h.admin.DeleteUser(ctx, actor, chi.URLParam(r, "id"), confirmed(r)); err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SetRoleRequestDTO
	if !decodeJSON(w, r, h.maxBodySize, &req) {
		return
	}
	actor, _ := identity.FromContext(r.Context())
	if err := h.admin.SetRole(ctx, actor, chi.URLParam(r, "id"), req.Role); err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.admin.ListSales(ctx)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *AdminHandler) ExportSales(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var buf bytes.Buffer
	if err := h.admin.ExportSales(ctx, &buf); err != nil {
		handleError(w, h.logger, err)
		return
	}
	writePDF(w, h.logger, "sales-"+time.Now().UTC().Format("20060102")+".pdf", &buf)
}

func (h *AdminHandler) SalesSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	summary, err := h.admin.SalesSummary(ctx)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Watch streams a collection snapshot to the admin screens on every change.
func (h *AdminHandler) Watch(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	ch, err := h.admin.Watch(r.Context(), collection)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	streamEvents(w, r, h.logger, collection, ch)
}

package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CartHandler struct {
	sessions    *cart.Sessions
	catalog     *catalog.Catalog
	timeout     time.Duration
	maxBodySize int64
	logger      *zap.Logger
}

func NewCartHandler(s *cart.Sessions, c *catalog.Catalog, timeout time.Duration, maxBodySize int64, logger *zap.Logger) *CartHandler {
	return &CartHandler{sessions: s, catalog: c, timeout: timeout, maxBodySize: maxBodySize, logger: logger}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
}

type CartResponseDTO struct {
	Items     []domain.CartLine `json:"items"`
	Total     decimal.Decimal   `json:"total"`
	ItemCount int               `json:"item_count"`
}

func cartResponse(c *cart.Cart) CartResponseDTO {
	lines := c.Lines()
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return CartResponseDTO{
		Items:     lines,
		Total:     domain.LinesTotal(lines),
		ItemCount: domain.LinesCount(lines),
	}
}

// session returns the caller's cart, writing the error response itself on failure.
func (h *CartHandler) session(w http.ResponseWriter, r *http.Request) (*cart.Cart, bool) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing user authentication")
		return nil, false
	}
	c, err := h.sessions.Get(r.Context(), p.ID)
	if err != nil {
		handleError(w, h.logger, err)
		return nil, false
	}
	return c, true
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(c))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !decodeJSON(w, r, h.maxBodySize, &req) {
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	c, ok := h.session(w, r)
	if !ok {
		return
	}
	product, err := h.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if err := c.AddItem(ctx, product); err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, cartResponse(c))
}

func (h *CartHandler) Increment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := c.IncrementLive(ctx, chi.URLParam(r, "product_id")); err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(c))
}

func (h *CartHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := c.Decrement(chi.URLParam(r, "product_id")); err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(c))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	c.RemoveItem(chi.URLParam(r, "product_id"))
	respondJSON(w, http.StatusOK, cartResponse(c))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	c.Clear()
	respondJSON(w, http.StatusOK, cartResponse(c))
}

// EndSession flushes the caller's cart and drops it from memory.
func (h *CartHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing user authentication")
		return
	}
	if err := h.sessions.End(ctx, p.ID); err != nil {
		// the mirror keeps the last written state
		h.logger.Warn("cart not flushed at session end", zap.String("principal_id", p.ID), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

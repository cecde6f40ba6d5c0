package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/admin"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CheckoutHandler struct {
	sessions    *cart.Sessions
	checkout    *checkout.Service
	receipts    *admin.Service
	timeout     time.Duration
	maxBodySize int64
	logger      *zap.Logger
}

func NewCheckoutHandler(s *cart.Sessions, c *checkout.Service, receipts *admin.Service, timeout time.Duration, maxBodySize int64, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{sessions: s, checkout: c, receipts: receipts, timeout: timeout, maxBodySize: maxBodySize, logger: logger}
}

type CheckoutRequestDTO struct {
	IdempotencyKey string `json:"idempotency_key"`
}

type CheckoutResponseDTO struct {
	Order      domain.Order `json:"order"`
	Duplicate  bool         `json:"duplicate"`
	ReceiptURL string       `json:"receipt_url"`
	// ReceiptError is set when the order committed but its receipt could not be produced.
	ReceiptError string `json:"receipt_error,omitempty"`
}

func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CheckoutRequestDTO
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, h.maxBodySize, &req) {
			return
		}
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	p, ok := identity.FromContext(r.Context())
	if !ok {
		handleError(w, h.logger, domain.ErrNotAuthenticated)
		return
	}
	c, err := h.sessions.Get(ctx, p.ID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	res, err := h.checkout.Checkout(ctx, p, c, req.IdempotencyKey)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	resp := CheckoutResponseDTO{
		Order:      res.Order,
		Duplicate:  res.Duplicate,
		ReceiptURL: "/api/v1/orders/" + res.Order.ID + "/receipt",
	}
	if res.ReceiptErr != nil {
		resp.ReceiptError = res.ReceiptErr.Error()
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, resp)
}

func (h *CheckoutHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := identity.FromContext(r.Context())
	if !ok {
		handleError(w, h.logger, domain.ErrNotAuthenticated)
		return
	}

	orderID := chi.URLParam(r, "id")
	var buf bytes.Buffer
	if err := h.receipts.Receipt(ctx, p, orderID, &buf); err != nil {
		handleError(w, h.logger, err)
		return
	}
	writePDF(w, h.logger, "receipt-"+orderID+".pdf", &buf)
}

func writePDF(w http.ResponseWriter, logger *zap.Logger, filename string, body io.Reader) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("failed to write pdf", zap.String("file", filename), zap.Error(err))
	}
}

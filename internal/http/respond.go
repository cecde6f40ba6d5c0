package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/storefront/internal/admin"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// statusFor maps a service error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	var stockErr *checkout.InsufficientStockError
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, admin.ErrSelfModification):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, checkout.ErrProductNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, admin.ErrUserNotFound),
		errors.Is(err, admin.ErrOrderNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &stockErr):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, cart.ErrOutOfStock):
		return http.StatusConflict, "out_of_stock"
	case errors.Is(err, docstore.ErrConflict), errors.Is(err, checkout.ErrIdempotencyConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrConfirmationDeclined):
		return http.StatusPreconditionFailed, "confirmation_required"
	case errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, catalog.ErrInvalidProduct),
		errors.Is(err, admin.ErrInvalidRole),
		errors.Is(err, admin.ErrNotWatchable):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, domain.ErrReadFailure):
		return http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, domain.ErrWriteFailure):
		return http.StatusServiceUnavailable, "write_failed"
	case errors.Is(err, domain.ErrCommitFailure):
		return http.StatusInternalServerError, "commit_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func handleError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", code), zap.Error(err))
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		resp.Error = "internal server error"
	}
	var stockErr *checkout.InsufficientStockError
	if errors.As(err, &stockErr) {
		resp.Details = stockErr.Shortages
	}
	respondJSON(w, status, resp)
}

// decodeJSON reads a JSON body of at most limit bytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

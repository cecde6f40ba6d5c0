package http

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/fjod/storefront/internal/admin"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthenticated", domain.ErrNotAuthenticated, http.StatusUnauthorized, "unauthenticated"},
		{"self modification", admin.ErrSelfModification, http.StatusForbidden, "permission_denied"},
		{"product", fmt.Errorf("wrap: %w", catalog.ErrProductNotFound), http.StatusNotFound, "not_found"},
		{"line", cart.ErrLineNotFound, http.StatusNotFound, "not_found"},
		{"stock", &checkout.InsufficientStockError{}, http.StatusConflict, "insufficient_stock"},
		{"out of stock", cart.ErrOutOfStock, http.StatusConflict, "out_of_stock"},
		{"conflict", &checkout.CommitError{Err: docstore.ErrConflict}, http.StatusConflict, "conflict"},
		{"confirmation", domain.ErrConfirmationDeclined, http.StatusPreconditionFailed, "confirmation_required"},
		{"empty cart", checkout.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
		{"invalid role", admin.ErrInvalidRole, http.StatusBadRequest, "invalid_argument"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"read", domain.ErrReadFailure, http.StatusServiceUnavailable, "service_unavailable"},
		{"commit", &checkout.CommitError{Err: fmt.Errorf("disk full")}, http.StatusInternalServerError, "commit_failed"},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

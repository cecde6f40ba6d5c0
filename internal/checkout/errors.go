package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/storefront/internal/domain"
)

var (
	ErrNotAuthenticated    = domain.ErrNotAuthenticated
	ErrEmptyCart           = errors.New("cart is empty, nothing to checkout")
	ErrProductNotFound     = errors.New("product in cart no longer exists")
	ErrIdempotencyConflict = errors.New("idempotency key belongs to another principal")
)

type Shortage struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError lists every line whose live stock is below the requested quantity.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ProductID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

// CommitError is returned when the checkout batch was rejected. Nothing was applied.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return "checkout commit failed: " + e.Err.Error()
}

func (e *CommitError) Unwrap() []error {
	return []error{domain.ErrCommitFailure, e.Err}
}

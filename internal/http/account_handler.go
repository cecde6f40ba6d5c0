package http

import (
	"net/http"

	"github.com/fjod/storefront/internal/identity"
	"go.uber.org/zap"
)

type AccountHandler struct {
	directory *identity.Directory
	logger    *zap.Logger
}

func NewAccountHandler(d *identity.Directory, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{directory: d, logger: logger}
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing user authentication")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// WatchMe streams the caller's principal on every change of points or role.
func (h *AccountHandler) WatchMe(w http.ResponseWriter, r *http.Request) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing user authentication")
		return
	}
	ch, err := h.directory.Watch(r.Context(), p.ID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	streamEvents(w, r, h.logger, "principal", ch)
}

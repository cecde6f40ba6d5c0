package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
)

type Authenticator struct {
	verifier  *Verifier
	directory *Directory
	logger    *zap.Logger
}

func NewAuthenticator(v *Verifier, d *Directory, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{verifier: v, directory: d, logger: logger}
}

// bearerToken reads the Authorization header. Event streams cannot set headers,
// so GET requests may pass the token as access_token instead.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// Middleware puts the verified principal into the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := a.verifier.Verify(raw)
		if err != nil {
			a.logger.Debug("token rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		principal, err := a.directory.Resolve(r.Context(), claims)
		if err != nil {
			a.logger.Error("failed to resolve principal", zap.String("subject", claims.Subject), zap.Error(err))
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrReadFailure) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, "failed to resolve principal")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireRole rejects principals without role with 403.
func RequireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if p.Role != role {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const roleClaim = "role"

var ErrInvalidToken = errors.New("invalid token")

// Claims is what a verified token says about its bearer.
type Claims struct {
	Subject string
	Role    domain.Role
}

// Verifier issues and validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewVerifier(secret []byte, issuer string, ttl time.Duration) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Verifier{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

func (v *Verifier) Issue(principalID string, role domain.Role) (string, error) {
	if principalID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	now := v.now()
	tok, err := jwt.NewBuilder().
		Issuer(v.issuer).
		Subject(principalID).
		IssuedAt(now).
		Expiration(now.Add(v.ttl)).
		Claim(roleClaim, string(role)).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

func (v *Verifier) Verify(raw string) (Claims, error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w: %v", domain.ErrNotAuthenticated, ErrInvalidToken, err)
	}
	if tok.Subject() == "" {
		return Claims{}, fmt.Errorf("%w: %w: missing subject", domain.ErrNotAuthenticated, ErrInvalidToken)
	}

	claims := Claims{Subject: tok.Subject(), Role: domain.RoleOrdinary}
	if v, ok := tok.Get(roleClaim); ok {
		if s, ok := v.(string); ok && domain.Role(s).Valid() {
			claims.Role = domain.Role(s)
		}
	}
	return claims, nil
}

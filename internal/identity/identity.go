// Package identity resolves the authenticated user the ledger is keyed by.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/voxline-ai/voxline/internal/config"
)

// ErrNoIdentity means the config supplies no way to resolve a user.
var ErrNoIdentity = errors.New("no identity configured")

// Resolve returns the user ID for ledger operations. A pre-resolved user ID
// wins; otherwise the ID token is verified against the issuer's JWKS and
// the subject claim is used.
func Resolve(ctx context.Context, cfg config.IdentityConfig) (string, error) {
	if cfg.UserID != "" {
		return cfg.UserID, nil
	}
	if cfg.Token == "" {
		return "", ErrNoIdentity
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		return "", fmt.Errorf("fetch jwks: %w", err)
	}

	tok, err := jwt.Parse(cfg.Token, kf.Keyfunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}

	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject claim")
	}
	return sub, nil
}

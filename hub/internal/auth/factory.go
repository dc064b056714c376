package auth

import (
	"fmt"

	"github.com/syncroom/syncroom/hub/internal/config"
)

// NewVerifier creates a Verifier based on configuration.
func NewVerifier(cfg config.AuthConfig) (Verifier, error) {
	switch cfg.Provider {
	case "jwks":
		return NewJWKSVerifier(cfg.JWKSURL, cfg.JWTIssuer)
	case "hs256", "":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("hs256 verifier requires a secret")
		}
		return NewService(cfg), nil
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}

package auth

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSVerifier validates asymmetrically signed tokens against a remote key set.
type JWKSVerifier struct {
	issuer string
	jwks   keyfunc.Keyfunc
	cancel context.CancelFunc
}

// NewJWKSVerifier fetches the key set at jwksURL and keeps it refreshed in
// the background until Close is called. An empty issuer disables the
// issuer check.
func NewJWKSVerifier(jwksURL, issuer string) (*JWKSVerifier, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSVerifier{
		issuer: issuer,
		jwks:   jwks,
		cancel: cancel,
	}, nil
}

// Verify parses a JWT and returns an Identity.
func (v *JWKSVerifier) Verify(ctx context.Context, tokenStr string) (*Identity, error) {
	if tokenStr == "" {
		return nil, ErrUnauthorized
	}
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.Parse(tokenStr, v.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	id := claimStr(claims, "_id")
	if id == "" {
		id = claimStr(claims, "sub")
	}
	if id == "" {
		return nil, ErrUnauthorized
	}
	return &Identity{UserID: id, Email: claimStr(claims, "email")}, nil
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

// Name returns the verifier name.
func (v *JWKSVerifier) Name() string { return "jwks" }

// Close stops the background key refresh.
func (v *JWKSVerifier) Close() error {
	v.cancel()
	return nil
}

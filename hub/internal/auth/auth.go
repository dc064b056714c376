// Package auth verifies the bearer credentials presented by connecting clients.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/syncroom/syncroom/hub/internal/config"
)

// Claims is the token payload issued by the account service. The user id
// travels as "_id"; tokens that only carry "sub" are accepted too.
type Claims struct {
	UserID string `json:"_id,omitempty"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Service verifies HS256 tokens signed with a shared secret.
type Service struct {
	jwtSecret []byte
	jwtExpiry time.Duration
}

// NewService creates a shared-secret verifier.
func NewService(cfg config.AuthConfig) *Service {
	return &Service{
		jwtSecret: []byte(cfg.JWTSecret),
		jwtExpiry: cfg.JWTExpiry.Duration,
	}
}

// Name returns the verifier name.
func (s *Service) Name() string { return "hs256" }

// Close is a no-op.
func (s *Service) Close() error { return nil }

// Verify validates a bearer token and returns an Identity.
func (s *Service) Verify(ctx context.Context, tokenStr string) (*Identity, error) {
	if tokenStr == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.validateJWT(tokenStr)
	if err != nil {
		return nil, err
	}
	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return nil, ErrUnauthorized
	}
	return &Identity{UserID: id, Email: claims.Email}, nil
}

// validateJWT validates a JWT token and returns the claims.
func (s *Service) validateJWT(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// IssueToken mints a token for the given user. The hub never issues tokens
// to clients; this exists for the token command and for tests.
func (s *Service) IssueToken(userID, email string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

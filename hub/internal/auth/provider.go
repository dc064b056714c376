package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned for any credential that cannot be verified.
// Callers never learn which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the verified principal behind a credential.
type Identity struct {
	UserID string
	Email  string
}

// Verifier validates bearer credentials and returns identities.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
	Name() string
	Close() error
}

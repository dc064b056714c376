package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/syncroom/syncroom/hub/internal/auth"
	"github.com/syncroom/syncroom/hub/internal/store"
	"github.com/syncroom/syncroom/pkg/protocol"
)

// Admission rejections. None of them ever reaches the room registry.
var (
	ErrInvalidProjectReference = errors.New("invalid project reference")
	ErrProjectNotFound         = errors.New("project not found")
	ErrUnauthenticated         = errors.New("unauthenticated")
)

// Admission is the outcome of a successful admission check.
type Admission struct {
	Project  *store.Project
	Identity *auth.Identity
}

// Gate decides whether a pending connection may join its project room.
type Gate struct {
	dir      store.Directory
	verifier auth.Verifier
}

// NewGate creates a Gate.
func NewGate(dir store.Directory, verifier auth.Verifier) *Gate {
	return &Gate{dir: dir, verifier: verifier}
}

// Admit runs the checks in order: project reference shape, project lookup,
// credential presence, credential verification. It has no side effects.
func (g *Gate) Admit(ctx context.Context, r *http.Request) (*Admission, error) {
	ref := r.URL.Query().Get("projectId")
	if _, err := primitive.ObjectIDFromHex(ref); err != nil {
		return nil, ErrInvalidProjectReference
	}

	project, err := g.dir.FindProject(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("find project: %w", err)
	}
	if project == nil {
		return nil, ErrProjectNotFound
	}

	cred := auth.ExtractCredential(r)
	if cred == "" {
		return nil, ErrUnauthenticated
	}
	identity, err := g.verifier.Verify(ctx, cred)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	return &Admission{Project: project, Identity: identity}, nil
}

// rejection maps an admission error to its HTTP status and wire code.
func rejection(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidProjectReference):
		return http.StatusBadRequest, protocol.RejectInvalidProjectReference
	case errors.Is(err, ErrProjectNotFound):
		return http.StatusNotFound, protocol.RejectProjectNotFound
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, protocol.RejectUnauthenticated
	default:
		return http.StatusInternalServerError, protocol.RejectInternal
	}
}

func writeRejection(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

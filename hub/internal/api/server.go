// Package api provides the HTTP surface of the hub: the document sync
// routes, health probes, metrics and the WebSocket entry point.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/syncroom/syncroom/hub/internal/auth"
	"github.com/syncroom/syncroom/hub/internal/config"
	"github.com/syncroom/syncroom/hub/internal/metrics"
	"github.com/syncroom/syncroom/hub/internal/router"
	"github.com/syncroom/syncroom/hub/internal/store"
)

// ErrDocumentPersist is reported to the caller when a file-tree write fails.
// Nothing is rolled back; the previous document stays as it was.
var ErrDocumentPersist = errors.New("DocumentPersistError")

// Server is the HTTP API server.
type Server struct {
	dir          store.Directory
	verifier     auth.Verifier
	router       *router.Router
	metrics      metrics.Recorder
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	maxBodyBytes int64
	rl           *rateLimiter
}

// NewServer creates a new API server. gatherer may be nil, in which case
// /metrics is not mounted.
func NewServer(dir store.Directory, v auth.Verifier, rt *router.Router, rec metrics.Recorder, gatherer prometheus.Gatherer, cfg *config.Config, logger *slog.Logger) *Server {
	if rec == nil {
		rec = metrics.Nop{}
	}
	srv := &Server{
		dir:          dir,
		verifier:     v,
		router:       rt,
		metrics:      rec,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		rl:           newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}
	if srv.maxBodyBytes == 0 {
		srv.maxBodyBytes = 4 * 1024 * 1024
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	if gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(gatherer))
	}

	// Admission authenticates the handshake itself.
	mux.Get("/ws", rt.HandleWS)

	mux.Route("/api/projects/{projectID}", func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))
		r.Use(projectIDMiddleware)

		r.Get("/file-tree", srv.handleGetFileTree)
		r.Put("/file-tree", srv.handlePutFileTree)
		r.Get("/participants", srv.handleParticipants)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks evicts idle rate limiter buckets until ctx ends.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

// --- Document sync handlers ---

type fileTreeBody struct {
	FileTree store.FileTree `json:"fileTree"`
}

func (s *Server) handleGetFileTree(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	tree, err := s.dir.GetFileTree(r.Context(), projectID)
	if errors.Is(err, store.ErrProjectNotFound) {
		writeError(w, http.StatusNotFound, "ProjectNotFound")
		return
	}
	if err != nil {
		s.logger.Error("read file tree", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read file tree")
		return
	}
	writeJSON(w, http.StatusOK, fileTreeBody{FileTree: tree})
}

func (s *Server) handlePutFileTree(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	identity := getIdentityFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var body fileTreeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file tree too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.FileTree == nil {
		writeError(w, http.StatusBadRequest, "fileTree is required")
		return
	}

	err := s.dir.PutFileTree(r.Context(), projectID, body.FileTree)
	if errors.Is(err, store.ErrProjectNotFound) {
		writeError(w, http.StatusNotFound, "ProjectNotFound")
		return
	}
	s.metrics.RecordDocumentWrite(err == nil)
	if err != nil {
		s.logger.Error("persist file tree", "project_id", projectID, "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, ErrDocumentPersist.Error())
		return
	}

	s.logger.Debug("file tree saved", "project_id", projectID, "user_id", identity.UserID, "entries", len(body.FileTree))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	writeJSON(w, http.StatusOK, s.router.Participants(projectID))
}

// --- Health ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
		"rooms":  s.router.Rooms().RoomCount(),
		"peers":  s.router.Rooms().PeerCount(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.dir.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// projectIDMiddleware rejects project routes whose id is not an ObjectID.
func projectIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := primitive.ObjectIDFromHex(chi.URLParam(r, "projectID")); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidProjectReference")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

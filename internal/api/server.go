// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/coffre/coffre/internal/auth"
	"github.com/coffre/coffre/internal/events"
	"github.com/coffre/coffre/internal/logging"
	"github.com/coffre/coffre/internal/metrics"
	"github.com/coffre/coffre/internal/protocol"
	"github.com/coffre/coffre/internal/quota"
	"github.com/coffre/coffre/internal/vfs"
)

// Server is the HTTP server.
type Server struct {
	auth          *auth.Provider
	resolver      *vfs.Resolver
	limiter       *quota.RateLimiter
	broadcaster   *events.Broadcaster
	maxUploadSize int64
	rpm           int
}

// NewServer creates a new server.
func NewServer(authProvider *auth.Provider, resolver *vfs.Resolver, maxUploadSize int64, rpm int) *Server {
	return &Server{
		auth:          authProvider,
		resolver:      resolver,
		limiter:       quota.NewRateLimiter(),
		broadcaster:   events.NewBroadcaster(),
		maxUploadSize: maxUploadSize,
		rpm:           rpm,
	}
}

// Limiter exposes the rate limiter for periodic bucket cleanup.
func (s *Server) Limiter() *quota.RateLimiter { return s.limiter }

// Handler builds the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)

	// Protected endpoints
	protected := http.NewServeMux()
	protected.HandleFunc("POST /create-subfolder/{id}", s.handleCreateSubfolder)
	protected.HandleFunc("POST /create-subfolder/{id}/{path...}", s.handleCreateSubfolder)
	protected.HandleFunc("POST /add/{id}", s.handleAdd)
	protected.HandleFunc("POST /add/{id}/{path...}", s.handleAdd)
	protected.HandleFunc("POST /upload/{id}", s.handleUpload)
	protected.HandleFunc("GET /list/{id}", s.handleList)
	protected.HandleFunc("GET /list/{id}/{path...}", s.handleList)
	protected.HandleFunc("GET /download/{id}/{path...}", s.handleDownload)
	protected.HandleFunc("DELETE /delete-folder/{id}/{path...}", s.handleDeleteFolder)
	protected.HandleFunc("DELETE /delete-file/{id}/{path...}", s.handleDeleteFile)
	protected.HandleFunc("GET /events/{id}", s.handleEvents)

	subject := func(r *http.Request) (string, bool) {
		id, ok := auth.GetIdentity(r.Context())
		return id.Subject, ok
	}
	rateLimited := quota.Middleware(s.limiter, s.rpm, subject)(protected)
	authed := s.auth.Middleware(rateLimited)

	for _, prefix := range []string{
		"/create-subfolder/", "/add/", "/upload/",
		"/list/", "/download/", "/delete-folder/", "/delete-file/",
		"/events/",
	} {
		mux.Handle(prefix, authed)
	}

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// identity returns the verified caller, or writes 401 and returns false.
// The auth middleware always runs first, so a miss here is a wiring bug.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (vfs.Identity, bool) {
	id, ok := auth.GetIdentity(r.Context())
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
	}
	return id, ok
}

// authorize runs the namespace policy and records the decision. It never
// touches the filesystem.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, id vfs.Identity, target string, op vfs.Operation, protectedTarget bool) bool {
	if err := vfs.Authorize(id, target, op, protectedTarget); err != nil {
		metrics.RecordPolicyDecision(false)
		logging.WithContext(r.Context()).Warn("namespace access denied",
			zap.String("subject", id.Subject),
			zap.String("target", target),
			zap.String("operation", op.String()))
		s.sendError(w, http.StatusForbidden, "unauthorized")
		return false
	}
	metrics.RecordPolicyDecision(true)
	return true
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendVFSError maps vfs sentinel errors to status codes. Internal errors
// are logged with full detail but reported to the client without paths.
func (s *Server) sendVFSError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, vfs.ErrUnauthorized):
		s.sendError(w, http.StatusForbidden, "unauthorized")
	case errors.Is(err, vfs.ErrInvalidPath):
		s.sendError(w, http.StatusBadRequest, "invalid path")
	case errors.Is(err, vfs.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, vfs.ErrAlreadyExists):
		s.sendError(w, http.StatusBadRequest, "already exists")
	case errors.Is(err, vfs.ErrCorruptData):
		logging.WithContext(r.Context()).Error("corrupt stored object", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "stored object is corrupt")
	default:
		logging.WithContext(r.Context()).Error("filesystem operation failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

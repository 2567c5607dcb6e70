package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/coffre/coffre/internal/auth"
	"github.com/coffre/coffre/internal/events"
	"github.com/coffre/coffre/internal/logging"
	"github.com/coffre/coffre/internal/metrics"
	"github.com/coffre/coffre/internal/protocol"
	"github.com/coffre/coffre/internal/vfs"
)

// ─── Registration & login ───────────────────────────────────────────────────

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Password == "" {
		s.sendError(w, http.StatusBadRequest, "userId and password are required")
		return
	}
	if _, err := s.resolver.UserRoot(req.UserID); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid userId")
		return
	}

	if err := s.auth.Register(r.Context(), req.UserID, req.Password); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			s.sendError(w, http.StatusInternalServerError, "user already exists")
			return
		}
		logging.WithContext(r.Context()).Error("registration failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	if err := vfs.ProvisionNamespace(s.resolver, req.UserID); err != nil {
		logging.WithContext(r.Context()).Error("namespace provisioning failed",
			zap.String("user_id", req.UserID), zap.Error(err))
		// Roll back the account so the name is not left claimed without a
		// namespace behind it.
		if rbErr := s.auth.Unregister(r.Context(), req.UserID); rbErr != nil {
			logging.WithContext(r.Context()).Error("registration rollback failed",
				zap.String("user_id", req.UserID), zap.Error(rbErr))
		}
		s.sendError(w, http.StatusInternalServerError, "namespace provisioning failed")
		return
	}

	s.sendJSON(w, protocol.MessageResponse{Message: "user registered and folders created"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Password == "" {
		s.sendError(w, http.StatusBadRequest, "userId and password are required")
		return
	}

	id, err := s.auth.Authenticate(r.Context(), req.UserID, req.Password)
	if err != nil {
		s.sendError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.auth.IssueToken(id)
	if err != nil {
		logging.WithContext(r.Context()).Error("token issuance failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.sendJSON(w, protocol.LoginResponse{Token: token})
}

// ─── Folders ────────────────────────────────────────────────────────────────

func (s *Server) handleCreateSubfolder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	target := r.PathValue("id")

	var req protocol.CreateSubfolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SubFolderName == "" {
		s.sendError(w, http.StatusBadRequest, "subFolderName is required")
		return
	}

	if !s.authorize(w, r, id, target, vfs.OpWrite, false) {
		return
	}

	parent, err := s.resolver.Resolve(target, r.PathValue("path"))
	if err != nil {
		s.sendVFSError(w, r, err)
		return
	}
	if err := vfs.CreateSubfolder(parent, req.SubFolderName); err != nil {
		s.sendVFSError(w, r, err)
		return
	}
	s.publishEvent(events.EventCreate, target, logicalPath(append(parent.Segments, req.SubFolderName)), 0)

	s.sendJSON(w, protocol.MessageResponse{
		Message: fmt.Sprintf("subfolder %s created", req.SubFolderName),
	})
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	target := r.PathValue("id")
	rawPath := r.PathValue("path")

	if !s.authorize(w, r, id, target, vfs.OpDelete, vfs.IsProtectedTarget(rawPath)) {
		return
	}

	res, err := s.resolver.Resolve(target, rawPath)
	if err != nil {
		s.sendVFSError(w, r, err)
		return
	}
	if err := vfs.DeleteFolder(res); err != nil {
		s.sendVFSError(w, r, err)
		return
	}
	s.publishEvent(events.EventDelete, target, logicalPath(res.Segments), 0)

	s.sendJSON(w, protocol.MessageResponse{Message: "folder deleted"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	target := r.PathValue("id")

	if !s.authorize(w, r, id, target, vfs.OpRead, false) {
		return
	}

	res, err := s.resolver.Resolve(target, r.PathValue("path"))
	if err != nil {
		s.sendVFSError(w, r, err)
		return
	}
	files, err := vfs.ListFolder(res)
	if err != nil {
		s.sendVFSError(w, r, err)
		return
	}
	if files == nil {
		files = []string{}
	}

	s.sendJSON(w, protocol.ListResponse{Files: files})
}

// ─── Uploads ────────────────────────────────────────────────────────────────

// handleAdd accepts either a multipart file (compressed upload into the
// target path, creating missing directories) or a folderName field, which
// creates a folder under the target path.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	target := r.PathValue("id")
	rawPath := r.PathValue("path")

	if !s.authorize(w, r, id, target, vfs.OpWrite, false) {
		return
	}

	dir, err := s.resolver.Resolve(target, rawPath)
	if err != nil {
		s.sendVFSError(w, r, err)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req struct {
			FolderName string `json:"folderName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FolderName == "" {
			s.sendError(w, http.StatusBadRequest, "file or folderName is required")
			return
		}
		s.createFolderUnder(w, r, target, rawPath, req.FolderName)
		return
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		s.sendError(w, http.StatusBadRequest, "multipart file upload expected")
		return
	}

	if s.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}

	// The file part streams straight into the compression pipeline; it is
	// never buffered whole.
	var folderName string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		switch {
		case part.FormName() == "file" && part.FileName() != "":
			s.streamUpload(w, r, dir, part, true)
			return
		case part.FormName() == "folderName":
			value, err := io.ReadAll(io.LimitReader(part, 1024))
			if err != nil {
				s.sendError(w, http.StatusBadRequest, "malformed multipart body")
				return
			}
			folderName = string(value)
		}
		part.Close()
	}

	if folderName != "" {
		s.createFolderUnder(w, r, target, rawPath, folderName)
		return
	}
	s.sendError(w, http.StatusBadRequest, "file is needed")
}

// handleUpload accepts a multipart file into the user's namespace root.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	target := r.PathValue("id")

	if !s.authorize(w, r, id, target, vfs.OpWrite, false) {
		return
	}

	dir, err := s.resolver.Resolve(target, "")
	if err != nil {
		s.sendVFSError(w, r, err)
		return
	}

	if s.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "multipart file upload expected")
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() == "file" && part.FileName() != "" {
			s.streamUpload(w, r, dir, part, false)
			return
		}
		part.Close()
	}
	s.sendError(w, http.StatusBadRequest, "file is needed")
}

// streamUpload drives the compression pipeline for one multipart file part.
// createDirs makes missing target directories first (the /add behavior).
func (s *Server) streamUpload(w http.ResponseWriter, r *http.Request, dir vfs.ResolvedPath, part *multipart.Part, createDirs bool) {
	defer part.Close()

	logicalName := part.FileName()
	if createDirs {
		if err := vfs.EnsureDir(dir); err != nil {
			s.sendVFSError(w, r, err)
			return
		}
	}

	counted := &countingReader{r: part}
	stored, err := vfs.Upload(r.Context(), dir, logicalName, counted)
	if err != nil {
		metrics.RecordUpload(counted.n, false)
		s.sendVFSError(w, r, err)
		return
	}
	metrics.RecordUpload(counted.n, true)
	s.publishEvent(events.EventCreate, dir.Owner, logicalPath(append(dir.Segments, logicalName)), counted.n)
	logging.WithContext(r.Context()).Info("file uploaded",
		zap.String("owner", dir.Owner),
		zap.String("stored_as", stored),
		zap.Int64("raw_bytes", counted.n))

	s.sendJSON(w, protocol.UploadResponse{
		Message:  fmt.Sprintf("file %s uploaded and compressed", logicalName),
		StoredAs: stored,
	})
}

func (s *Server) createFolderUnder(w http.ResponseWriter, r *http.Request, target, rawPath, folderName string) {
	res, err := s.resolver.Resolve(target, rawPath+"/"+folderName)
	if err != nil {
		s.sendVFSError(w, r, err)
		return
	}
	if err := vfs.CreateFolder(res); err != nil {
		s.sendVFSError(w, r, err)
		return
	}
	s.publishEvent(events.EventCreate, target, logicalPath(res.Segments), 0)
	s.sendJSON(w, protocol.MessageResponse{
		Message: fmt.Sprintf("folder %s created", folderName),
	})
}

// ─── Downloads ──────────────────────────────────────────────────────────────

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	target := r.PathValue("id")

	if !s.authorize(w, r, id, target, vfs.OpRead, false) {
		return
	}

	res, err := s.resolver.Resolve(target, r.PathValue("path"))
	if err != nil {
		s.sendVFSError(w, r, err)
		return
	}

	// Locate first so headers carry the logical name and media type before
	// any body byte goes out.
	_, info, err := vfs.Locate(res)
	if err != nil {
		metrics.RecordDownload(0, false)
		s.sendVFSError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.LogicalName))
	w.Header().Set("Content-Type", info.ContentType)

	counted := &countingWriter{w: w}
	if _, err := vfs.Download(r.Context(), res, counted); err != nil {
		metrics.RecordDownload(counted.n, false)
		if counted.n == 0 {
			// Headers are not committed yet; the error JSON must not go
			// out marked as a file attachment.
			w.Header().Del("Content-Disposition")
			s.sendVFSError(w, r, err)
			return
		}
		// Bytes are already on the wire; abort the connection so the
		// client sees a failed transfer instead of a clean EOF.
		logging.WithContext(r.Context()).Error("download aborted mid-stream", zap.Error(err))
		panic(http.ErrAbortHandler)
	}
	metrics.RecordDownload(counted.n, true)
}

// ─── Files ──────────────────────────────────────────────────────────────────

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	target := r.PathValue("id")

	if !s.authorize(w, r, id, target, vfs.OpDelete, false) {
		return
	}

	res, err := s.resolver.Resolve(target, r.PathValue("path"))
	if err != nil {
		s.sendVFSError(w, r, err)
		return
	}
	if err := vfs.DeleteFile(res); err != nil {
		s.sendVFSError(w, r, err)
		return
	}
	s.publishEvent(events.EventDelete, target, logicalPath(res.Segments), 0)

	s.sendJSON(w, protocol.MessageResponse{Message: "file deleted"})
}

// ─── Change feed ────────────────────────────────────────────────────────────

// handleEvents streams namespace change events to the client over SSE.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	target := r.PathValue("id")

	if !s.authorize(w, r, id, target, vfs.OpRead, false) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.broadcaster.Subscribe(target)
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes a change event if the broadcaster is configured.
func (s *Server) publishEvent(eventType, user, path string, size int64) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type: eventType,
		User: user,
		Path: path,
		Size: size,
	})
}

// logicalPath renders namespace-relative segments as a slash path.
func logicalPath(segments []string) string {
	return strings.Join(segments, "/")
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/cvpost/internal/extract"
	"github.com/hyperjump/cvpost/internal/models"
	"github.com/hyperjump/cvpost/internal/session"
	"github.com/hyperjump/cvpost/internal/storage"
	"go.uber.org/zap"
)

// multipartOverhead is allowed on top of the file limit for boundaries and part headers.
const multipartOverhead = 64 << 10

// formMemory is how much of a multipart form is buffered in memory before spilling to disk.
const formMemory = 4 << 20

func (s *Server) maxUploadBytes() int64 {
	if s.config != nil && s.config.Server.MaxUploadBytes > 0 {
		return s.config.Server.MaxUploadBytes
	}
	return extract.DefaultMaxBytes
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUploadBytes()
	if r.ContentLength > limit+multipartOverhead {
		s.respondError(w, http.StatusRequestEntityTooLarge, "file is too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		s.respondError(w, http.StatusBadRequest, "exactly one file is required")
		return
	}
	fh := files[0]
	if fh.Size > limit {
		s.respondError(w, http.StatusRequestEntityTooLarge, "file is too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.logger.Error("open uploaded file failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not read uploaded file")
		return
	}
	defer f.Close()

	s.logger.Debug("upload request", zap.String("file", fh.Filename), zap.Int64("size", fh.Size))
	snap, err := s.session.Select(r.Context(), session.File{Name: fh.Filename, Content: f})
	if errors.Is(err, session.ErrBusy) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("upload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if snap.Status == session.Failed {
		status = http.StatusUnprocessableEntity
	}
	s.respondJSON(w, status, snap)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Reset(); err != nil {
		if errors.Is(err, session.ErrBusy) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	q := &models.AttemptQuery{
		Status:      r.URL.Query().Get("status"),
		Fingerprint: r.URL.Query().Get("fingerprint"),
	}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}
	if err := q.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	attempts, err := s.storage.ListAttempts(r.Context(), q)
	if err != nil {
		s.logger.Error("list attempts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if attempts == nil {
		attempts = []*models.Attempt{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"attempts": attempts, "limit": q.Limit, "offset": q.Offset})
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	a, err := s.storage.GetAttempt(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "attempt not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	resp := map[string]interface{}{
		"session": snap.Status,
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"endpoint":         s.config.Submit.Endpoint,
			"timeout":          s.config.Submit.Timeout.String(),
			"max_upload_bytes": s.maxUploadBytes(),
			"database_path":    s.config.Storage.DatabasePath,
			"watch_enabled":    s.config.Watch.Enabled,
		}
	}
	if s.storage != nil {
		counts := map[string]int64{}
		for _, status := range []string{"", string(session.Succeeded), string(session.Failed)} {
			n, err := s.storage.CountAttempts(r.Context(), status)
			if err != nil {
				s.logger.Error("status: count attempts failed", zap.Error(err))
				s.respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			key := status
			if key == "" {
				key = "total"
			}
			counts[key] = n
		}
		resp["attempts"] = counts
		if s.config != nil {
			if size, err := storage.DatabaseSizeBytes(s.config.Storage.DatabasePath); err == nil {
				resp["disk_usage_bytes"] = size
			}
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

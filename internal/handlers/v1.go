package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/importer"
	"github.com/jonno85/warc-ingest/internal/progress"
	"github.com/jonno85/warc-ingest/internal/service"
)

type Uploader interface {
	IngestOne(ctx context.Context, r io.Reader, expectedSize int64, filename, user, forceColl string) (importer.Result, error)
	Status(ctx context.Context, user, uploadID string) (domain.UploadProgress, error)
}

type PathWatcher interface {
	AddAndWatchPath(ctx context.Context, path string) error
	DeleteWatchPath(ctx context.Context, path string) error
}

type ProcessRequest struct {
	Path string `json:"path"`
}

type errorResponse struct {
	ErrorMessage string `json:"error_message"`
}

type V1Handler struct {
	Uploader    Uploader
	PathWatcher PathWatcher
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{ErrorMessage: msg})
}

func uploadErrorStatus(err error) int {
	var mismatch *domain.SizeMismatchError
	switch {
	case errors.Is(err, domain.ErrCapacity):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrCollectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoArchiveData), errors.As(err, &mismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Upload accepts an archive body for ?user=&filename=[&force-coll=].
func (h *V1Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	user, filename := q.Get("user"), q.Get("filename")
	if user == "" || filename == "" {
		writeError(w, http.StatusBadRequest, "user and filename are required")
		return
	}
	if r.ContentLength <= 0 {
		writeError(w, http.StatusLengthRequired, "Content-Length is required")
		return
	}

	res, err := h.Uploader.IngestOne(r.Context(), r.Body, r.ContentLength, filename, user, q.Get("force-coll"))
	if err != nil {
		status := uploadErrorStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("Upload failed", "user", user, "filename", filename, "err", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UploadStatus reports progress for ?user=&upload_id=.
func (h *V1Handler) UploadStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	user, uploadID := q.Get("user"), q.Get("upload_id")
	if user == "" || uploadID == "" {
		writeError(w, http.StatusBadRequest, "user and upload_id are required")
		return
	}

	st, err := h.Uploader.Status(r.Context(), user, uploadID)
	if errors.Is(err, progress.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		slog.Error("Status lookup failed", "user", user, "uploadID", uploadID, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *V1Handler) AddPathToWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if request.Path == "" {
		http.Error(w, "Path is required", http.StatusBadRequest)
		return
	}

	err := h.PathWatcher.AddAndWatchPath(r.Context(), request.Path)
	if errors.Is(err, service.ErrPathAlreadyWatched) {
		http.Error(w, "Path is already added", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Path added to watchlist"))
}

func (h *V1Handler) RemovePathFromWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.PathWatcher.DeleteWatchPath(r.Context(), request.Path)
	if errors.Is(err, service.ErrPathNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

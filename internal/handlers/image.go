package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lostfound/apiserver/internal/storage"
)

// ImageHandler serves uploaded item photos back from the blob store.
type ImageHandler struct {
	storage *storage.Storage
}

// NewImageHandler constructs a handler over the configured blob store.
func NewImageHandler(store *storage.Storage) *ImageHandler {
	return &ImageHandler{storage: store}
}

// ImageRouter registers image routes on the given router.
func ImageRouter(r chi.Router, store *storage.Storage) {
	handler := NewImageHandler(store)

	r.Get("/{imageKey}", handler.GetImage)
}

// GetImage streams a stored photo. Keys contain no path separators, so a
// single URL segment addresses any object.
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "imageKey"))
	if key == "" || strings.ContainsAny(key, "/\\") {
		writeError(w, http.StatusBadRequest, "invalid image key")
		return
	}

	object, err := h.storage.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	defer object.Close()

	// Some backends only surface a missing object on the first read, so
	// peek before committing the response status.
	head := make([]byte, 512)
	n, err := object.Read(head)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}

	if contentType := mime.TypeByExtension(filepath.Ext(key)); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(head[:n]); err != nil {
		return
	}
	_, _ = io.Copy(w, object)
}

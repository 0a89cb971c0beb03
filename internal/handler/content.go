package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/dukerupert/pickletv/internal/apperr"
	"github.com/dukerupert/pickletv/internal/content"
	"github.com/dukerupert/pickletv/internal/model"
	"github.com/go-chi/chi/v5"
)

type ContentHandler struct {
	store  content.Store
	logger *slog.Logger
}

func NewContentHandler(store content.Store, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{store: store, logger: logger}
}

type assetList struct {
	Items []model.Asset `json:"items"`
}

func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	assets, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, h.classify(err))
		return
	}
	writeJSON(w, http.StatusOK, assetList{Items: assets})
}

func (h *ContentHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	obj, err := h.store.Open(r.Context(), name)
	if err != nil {
		writeError(w, r, h.logger, h.classify(err))
		return
	}
	defer obj.Body.Close()

	h.logger.InfoContext(r.Context(), "serving asset", "name", obj.Name)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": obj.Name}))

	if rs, ok := obj.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, obj.Name, obj.Modified, rs)
		return
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if !obj.Modified.IsZero() {
		w.Header().Set("Last-Modified", obj.Modified.UTC().Format(http.TimeFormat))
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.WarnContext(r.Context(), "stream asset", "name", obj.Name, "error", err)
	}
}

func (h *ContentHandler) classify(err error) error {
	switch {
	case errors.Is(err, content.ErrRootMissing):
		h.logger.Warn("assets root missing")
		return apperr.New(apperr.NotFound, "Assets directory not found")
	case errors.Is(err, content.ErrNotFound):
		return apperr.New(apperr.NotFound, "File not found")
	default:
		return apperr.Wrap(apperr.Internal, "Failed to read assets", err)
	}
}

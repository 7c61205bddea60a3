// Handles asset upload and serving.

package handlers

import (
	_ "embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/maruel/orgsite/internal/records"
	"github.com/maruel/orgsite/internal/server/dto"
)

//go:embed placeholder.svg
var placeholderSVG []byte

var startTime = time.Now()

// AssetHandler handles asset uploads and serves the asset root.
type AssetHandler struct {
	Svc *Services
}

// Upload stores the multipart "file" field under the category in the path.
// This is a raw http.HandlerFunc because it handles multipart forms.
func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeErrorResponse(w, r, dto.PayloadTooLarge(maxBytesErr.Limit))
			return
		}
		writeErrorResponse(w, r, dto.BadRequest("Invalid multipart form"))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.WarnContext(r.Context(), "Failed to remove multipart files", "err", err)
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorResponse(w, r, dto.MissingField("file"))
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.ErrorContext(r.Context(), "Failed to close uploaded file", "err", err)
		}
	}()

	ref, err := h.Svc.Registry.UploadAsset(r.Context(), category, file, header.Filename)
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(dto.UploadAssetResponse{Path: string(ref), Size: header.Size}); err != nil {
		slog.ErrorContext(r.Context(), "Failed to write asset response", "err", err)
	}
}

// Serve serves the file of the asset root matching the request path.
// The placeholder is served from memory when absent on disk.
func (h *AssetHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ref := records.AssetRef(r.URL.Path)
	if !ref.Valid() || strings.HasPrefix(path.Base(string(ref)), ".") {
		writeErrorResponse(w, r, dto.NotFound("asset"))
		return
	}
	f, err := h.Svc.Registry.Assets().Open(ref)
	if errors.Is(err, fs.ErrNotExist) && ref == records.Placeholder {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		http.ServeContent(w, r, path.Base(string(ref)), startTime, strings.NewReader(string(placeholderSVG)))
		return
	}
	if err != nil {
		writeErrorResponse(w, r, dto.NotFound("asset"))
		return
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil || !fi.Mode().IsRegular() {
		writeErrorResponse(w, r, dto.NotFound("asset"))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

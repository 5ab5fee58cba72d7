package handlers

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/batches"
	"github.com/tendant/cutimage-pipeline/internal/storage"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
)

// MaxUploadBytes bounds the multipart body of an upload
const MaxUploadBytes = 32 << 20

// BatchHandler serves uploads, batch status, results and processed images
type BatchHandler struct {
	service *batches.Service
}

func NewBatchHandler(service *batches.Service) *BatchHandler {
	return &BatchHandler{service: service}
}

// HandleUpload handles POST /v1/batches with a multipart "file" field
func (h *BatchHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "an .xlsx file is required in the \"file\" field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}

	resp, err := h.service.Upload(r.Context(), header.Filename, data, requestBaseURL(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStatus handles GET /v1/batches/{batchID}
func (h *BatchHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Status(r.Context(), strings.TrimSpace(chi.URLParam(r, "batchID")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline.StatusResponse{Batch: b})
}

// HandleResult handles GET /v1/batches/{batchID}/result
func (h *BatchHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	rc, name, err := h.service.OpenResult(r.Context(), strings.TrimSpace(chi.URLParam(r, "batchID")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.XLSXContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("result download interrupted")
	}
}

// HandleAsset handles GET /processed/{batchID}/{name}
func (h *BatchHandler) HandleAsset(w http.ResponseWriter, r *http.Request) {
	rc, contentType, err := h.service.OpenAsset(r.Context(), chi.URLParam(r, "batchID"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("asset download interrupted")
	}
}

// requestBaseURL derives the public origin of a request: the Origin header,
// then X-Forwarded-Proto/X-Forwarded-Host, then the Host header.
func requestBaseURL(r *http.Request) string {
	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" && origin != "null" {
		return origin
	}

	proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	if host := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); host != "" {
		return proto + "://" + host
	}
	if r.Host != "" {
		return proto + "://" + r.Host
	}
	return ""
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/batches"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
)

// AsyncHandler handles the endpoints that enqueue batch runs
type AsyncHandler struct {
	service *batches.Service
}

// NewAsyncHandler creates a new async handler
func NewAsyncHandler(service *batches.Service) *AsyncHandler {
	return &AsyncHandler{service: service}
}

// HandleProcessAsync handles POST /v1/process with a JSON ProcessRequest body.
// It enqueues the run and returns immediately.
func (h *AsyncHandler) HandleProcessAsync(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.BatchID == "" {
		writeMessage(w, http.StatusBadRequest, "batch_id is required")
		return
	}
	if req.Job != "" && req.Job != pipeline.JobCutImage {
		writeMessage(w, http.StatusBadRequest, "unsupported job: "+req.Job)
		return
	}
	h.process(w, r, req.BatchID)
}

// HandleProcess handles POST /v1/batches/{batchID}/process
func (h *AsyncHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, strings.TrimSpace(chi.URLParam(r, "batchID")))
}

func (h *AsyncHandler) process(w http.ResponseWriter, r *http.Request, batchID string) {
	logger := zerolog.Ctx(r.Context())
	logger.Info().Str("batch_id", batchID).Msg("enqueueing batch")

	resp, err := h.service.Process(r.Context(), batchID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info().Str("batch_id", batchID).Str("run_id", resp.RunID).Msg("batch enqueued")
	writeJSON(w, http.StatusAccepted, resp)
}

// HandleReprocess handles POST /v1/batches/{batchID}/reprocess
func (h *AsyncHandler) HandleReprocess(w http.ResponseWriter, r *http.Request) {
	batchID := strings.TrimSpace(chi.URLParam(r, "batchID"))

	resp, err := h.service.Reprocess(r.Context(), batchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// HandleStatus handles GET /v1/runs/{runID} and returns the run state
func (h *AsyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(chi.URLParam(r, "runID"))

	status, err := h.service.RunStatus(r.Context(), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

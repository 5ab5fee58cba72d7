package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/batches"
	"github.com/tendant/cutimage-pipeline/internal/sheet"
	"github.com/tendant/cutimage-pipeline/internal/workflows"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, pipeline.ErrorResponse{Error: msg})
}

// writeError maps service errors onto HTTP statuses
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeMessage(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, batches.ErrInvalidFile),
		errors.Is(err, sheet.ErrUnreadable),
		errors.Is(err, sheet.ErrEmptySheet),
		errors.Is(err, sheet.ErrNoColumns),
		errors.Is(err, sheet.ErrTooManyColumns),
		errors.Is(err, sheet.ErrNoDataRows),
		errors.Is(err, sheet.ErrNoURLColumns):
		return http.StatusBadRequest
	case errors.Is(err, batches.ErrNotFound),
		errors.Is(err, batches.ErrResultNotReady),
		errors.Is(err, batches.ErrAssetNotFound),
		errors.Is(err, workflows.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, batches.ErrBatchBusy),
		errors.Is(err, batches.ErrBatchNotFinal),
		errors.Is(err, workflows.ErrBatchFinalized):
		return http.StatusConflict
	case errors.Is(err, batches.ErrResultGone),
		errors.Is(err, batches.ErrUploadGone):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

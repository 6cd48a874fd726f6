package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/ryanbastic/go-diary/internal/codec"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/events"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// apiError maps domain errors onto huma status errors. Anything unrecognised
// is logged and reported as a generic 500.
func apiError(logger *slog.Logger, op string, err error) error {
	switch {
	case errors.Is(err, diary.ErrEmptyInput),
		errors.Is(err, diary.ErrInputTooLarge),
		errors.Is(err, diary.ErrChunkProofMismatch),
		errors.Is(err, diary.ErrNoChunks),
		errors.Is(err, diary.ErrInvalidOwner),
		errors.Is(err, codec.ErrByteLength):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, diary.ErrInvalidProof),
		errors.Is(err, diary.ErrUnauthorized):
		return huma.Error403Forbidden(err.Error())
	case errors.Is(err, diary.ErrEntryNotFound),
		errors.Is(err, diary.ErrChunkOutOfRange),
		errors.Is(err, diary.ErrHandleNotFound),
		errors.Is(err, events.ErrPluginNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, events.ErrDuplicateEndpoint):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, diary.ErrDecode):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	logger.Error(op+" failed", "error", err)
	return huma.Error500InternalServerError("internal error")
}

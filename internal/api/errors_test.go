package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/ryanbastic/go-diary/internal/codec"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/events"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"key": "value"})

	if w.Code != http.StatusCreated {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want %q", ct, "application/json")
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["key"] != "value" {
		t.Errorf("body: got %v", got)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "bad input")

	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusBadRequest || resp.Error != "bad input" {
		t.Errorf("got %d %q", w.Code, resp.Error)
	}
}

func TestAPIError_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{diary.ErrEmptyInput, http.StatusBadRequest},
		{fmt.Errorf("%w: 600 > 512", diary.ErrInputTooLarge), http.StatusBadRequest},
		{diary.ErrChunkProofMismatch, http.StatusBadRequest},
		{diary.ErrNoChunks, http.StatusBadRequest},
		{diary.ErrInvalidOwner, http.StatusBadRequest},
		{codec.ErrByteLength, http.StatusBadRequest},
		{fmt.Errorf("chunk 2: %w", diary.ErrInvalidProof), http.StatusForbidden},
		{diary.ErrUnauthorized, http.StatusForbidden},
		{diary.ErrEntryNotFound, http.StatusNotFound},
		{diary.ErrChunkOutOfRange, http.StatusNotFound},
		{diary.ErrHandleNotFound, http.StatusNotFound},
		{events.ErrPluginNotFound, http.StatusNotFound},
		{events.ErrDuplicateEndpoint, http.StatusConflict},
		{diary.ErrDecode, http.StatusUnprocessableEntity},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := apiError(testLogger(), "op", tt.err)
			var se huma.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("not a huma status error: %T", err)
			}
			if se.GetStatus() != tt.want {
				t.Errorf("status: got %d, want %d", se.GetStatus(), tt.want)
			}
		})
	}
}

func TestAPIError_HidesInternalDetail(t *testing.T) {
	err := apiError(testLogger(), "op", errors.New("dial tcp 10.0.0.5:5432: refused"))
	var se huma.StatusError
	errors.As(err, &se)
	if msg := se.Error(); msg != "internal error" {
		t.Errorf("message: got %q", msg)
	}
}

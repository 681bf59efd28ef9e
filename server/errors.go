package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/extraction"
	"github.com/poiesic/contractor/ingestion"
	"github.com/poiesic/contractor/storage"
)

// errBadRequest marks request bodies that do not decode.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrMalformedDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrInvalidDocument),
		errors.Is(err, core.ErrInvalidQuery),
		errors.Is(err, core.ErrEmptyContent),
		errors.Is(err, storage.ErrInvalidQuery),
		errors.Is(err, extraction.ErrTextTooShort):
		return http.StatusBadRequest
	case errors.Is(err, ingestion.ErrDocumentExists),
		errors.Is(err, ingestion.ErrIngestionInProgress),
		errors.Is(err, ingestion.ErrResetInProgress):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrEmbeddingProvider),
		errors.Is(err, core.ErrIndexUnavailable),
		errors.Is(err, storage.ErrStorageClosed),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log(r).Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		s.log(r).Warn("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

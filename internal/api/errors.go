// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/kvsedge/internal/agent"
	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/uploader"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind, detail string) {
	writeJSON(w, code, errorBody{
		Error:     kind,
		Detail:    detail,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// writeAgentError maps agent and uploader sentinels onto HTTP statuses.
func writeAgentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agent.ErrUnknownCamera):
		writeError(w, r, http.StatusNotFound, "unknown_camera", err.Error())
	case errors.Is(err, agent.ErrJournalDisabled):
		writeError(w, r, http.StatusNotFound, "journal_disabled", err.Error())
	case errors.Is(err, agent.ErrLiveNotConfigured):
		writeError(w, r, http.StatusConflict, "live_not_configured", err.Error())
	case errors.Is(err, uploader.ErrBusy):
		writeError(w, r, http.StatusConflict, "upload_in_progress", err.Error())
	case errors.Is(err, uploader.ErrInvalidRange):
		writeError(w, r, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusServiceUnavailable, "cancelled", err.Error())
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str(log.FieldEvent, "api.error").Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
	}
}

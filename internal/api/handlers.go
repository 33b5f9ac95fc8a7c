// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/kvsedge/internal/agent"
	"github.com/ManuGH/kvsedge/internal/log"
)

const maxBodyBytes = 4 << 10

func (s *Server) handleListCameras(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cameras": s.agent.Statuses()})
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, st := range s.agent.Statuses() {
		if st.Name == name {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeAgentError(w, r, fmt.Errorf("%w: %q", agent.ErrUnknownCamera, name))
}

type liveRequest struct {
	Enable *bool `json:"enable"`
}

func (s *Server) handleSetLive(w http.ResponseWriter, r *http.Request) {
	var req liveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Enable == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "enable is required")
		return
	}
	name := chi.URLParam(r, "name")
	changed, err := s.agent.SetLive(name, *req.Enable)
	if err != nil {
		writeAgentError(w, r, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldCamera, name).
		Bool("enable", *req.Enable).
		Bool("changed", changed).
		Str(log.FieldEvent, "api.live").
		Msg("live upload toggled")
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enable, "changed": changed})
}

type uploadRequest struct {
	Start timestamp `json:"start"`
	End   timestamp `json:"end"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Start.IsZero() || req.End.IsZero() {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "start and end are required")
		return
	}
	name := chi.URLParam(r, "name")
	res, err := s.agent.UploadHistorical(r.Context(), name, req.Start.Time, req.End.Time)
	if err != nil {
		writeAgentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.CancelUpload(chi.URLParam(r, "name")); err != nil {
		writeAgentError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.agent.Recordings(chi.URLParam(r, "name"))
	if err != nil {
		writeAgentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": recs})
}

const maxUploadsLimit = 500

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxUploadsLimit {
			writeError(w, r, http.StatusBadRequest, "invalid_limit",
				fmt.Sprintf("limit must be an integer in [1, %d]", maxUploadsLimit))
			return
		}
		limit = n
	}
	entries, err := s.agent.Uploads(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		writeAgentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": entries})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

// timestamp accepts RFC 3339 strings or epoch milliseconds.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = time.UnixMilli(ms)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: want RFC 3339 or epoch milliseconds", s)
		}
		t.Time = parsed
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("timestamp %s: want RFC 3339 or epoch milliseconds", b)
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

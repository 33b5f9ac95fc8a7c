// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/kvsedge/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{
		config.EnvLogLevel, config.EnvAWSRegion, config.EnvStreamRegion, config.EnvDataDir,
		config.EnvAPIListen, config.EnvAPIRateLimit, config.EnvMetricsListen,
		config.EnvFileRotation, config.EnvNoLiveUpload, config.EnvJournalPath,
		config.EnvTracingEnabled, config.EnvOTLPEndpoint,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kvsedge")
}

func TestConfigInitValidateDump(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "config", "init", "--config", path)
	require.ErrorIs(t, err, config.ErrConfigExists)

	cfg := config.Example()
	cfg.DataDir = dir
	cfg.Cameras[0].RecordPath = filepath.Join(dir, "rec")
	require.NoError(t, config.WriteFile(context.Background(), path, cfg, true))

	out, err = execute(t, "config", "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid (1 camera(s))")

	out, err = execute(t, "config", "dump", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "front-door")
	assert.Contains(t, out, "eu-west-1")
}

func TestConfigValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("region: eu-west-1\ncameras: []\n"), 0o600))
	_, err := execute(t, "config", "validate", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}

func TestUpload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/cameras/porch/upload", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"acks":4,"persisted":3,"errors":1,"uploaded":["video_1000.mkv","video_2000.mkv"]}`)
	}))
	defer srv.Close()

	out, err := execute(t, "upload", "--api", srv.URL, "--camera", "porch",
		"--start", "1735812000000", "--end", "2025-01-02T11:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "uploaded 2 file(s), 3 fragment(s) persisted, 1 error ack(s)")
	assert.Contains(t, out, "video_2000.mkv")

	start, err := time.Parse(time.RFC3339Nano, got["start"])
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)))
}

func TestUpload_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"upload_in_progress","detail":"upload session in flight"}`)
	}))
	defer srv.Close()

	_, err := execute(t, "upload", "--api", srv.URL, "--camera", "porch", "--start", "1", "--end", "2")
	require.ErrorContains(t, err, "upload_in_progress")

	_, err = execute(t, "upload", "--api", srv.URL, "--start", "1", "--end", "2")
	require.ErrorContains(t, err, "--camera")

	_, err = execute(t, "upload", "--api", srv.URL, "--camera", "porch", "--start", "yesterday", "--end", "2")
	require.ErrorContains(t, err, "--start")
}

func TestUpload_Cancel(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out, err := execute(t, "upload", "--api", srv.URL, "--camera", "porch", "--cancel")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, method)
	assert.Contains(t, out, "cancelled")
}

func TestLive(t *testing.T) {
	var got map[string]bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/cameras/porch/live", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"enabled":false,"changed":true}`)
	}))
	defer srv.Close()

	out, err := execute(t, "live", "off", "--api", srv.URL, "--camera", "porch")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"enable": false}, got)
	assert.Contains(t, out, "switched")

	_, err = execute(t, "live", "maybe", "--api", srv.URL, "--camera", "porch")
	require.Error(t, err)
}

func TestHealthcheck(t *testing.T) {
	var notReady atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" && notReady.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	_, err := execute(t, "healthcheck", "--api", srv.URL)
	require.NoError(t, err)

	notReady.Store(true)
	_, err = execute(t, "healthcheck", "--api", srv.URL)
	require.ErrorContains(t, err, "503")
	_, err = execute(t, "healthcheck", "--api", srv.URL, "--mode", "live")
	require.NoError(t, err)
}

func TestUploads(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/cameras/porch/uploads", r.URL.Path)
		query = r.URL.RawQuery
		if r.URL.Query().Get("limit") == "1" {
			fmt.Fprint(w, `{"uploads":[]}`)
			return
		}
		fmt.Fprint(w, `{"uploads":[{"id":"u1","camera":"porch","kind":"historical","result":"completed",`+
			`"startedAt":"2024-05-01T10:00:00Z","finishedAt":"2024-05-01T10:01:30Z","files":3,"persisted":12}]}`)
	}))
	defer srv.Close()

	out, err := execute(t, "uploads", "--api", srv.URL, "--camera", "porch")
	require.NoError(t, err)
	assert.Empty(t, query)
	assert.Contains(t, out, "RESULT")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "1m30s")

	out, err = execute(t, "uploads", "--api", srv.URL, "--camera", "porch", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, "limit=1", query)
	assert.Contains(t, out, "no uploads recorded")

	_, err = execute(t, "uploads", "--api", srv.URL)
	require.ErrorContains(t, err, "--camera")
}

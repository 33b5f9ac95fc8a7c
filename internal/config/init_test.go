// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "etc", "kvsedge.yaml")

	require.NoError(t, WriteFile(context.Background(), path, Example(), false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := NewLoader(path).Resolve()
	require.NoError(t, err)
	if diff := cmp.Diff(Example(), cfg); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteFile_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvsedge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("region: keep\n"), 0o600))

	err := WriteFile(context.Background(), path, Example(), false)
	require.ErrorIs(t, err, ErrConfigExists)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "region: keep\n", string(data))

	require.NoError(t, WriteFile(context.Background(), path, Example(), true))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "front-door")
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package preset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	m, err := Lookup(Matroska)
	require.NoError(t, err)
	assert.Equal(t, "matroskamux", m.Factory)
	assert.Equal(t, "mkv", m.Extension)

	_, err = Lookup(Container("mp4"))
	require.ErrorIs(t, err, ErrUnsupportedContainer)
}

func TestMuxer_Properties(t *testing.T) {
	m, err := Lookup(Matroska)
	require.NoError(t, err)

	file := m.Properties(true)
	assert.Equal(t, false, file["streamable"])
	assert.Equal(t, "kvsedge", file["writing-app"])
	assert.NotContains(t, file, "offset-to-zero")

	app := m.Properties(false)
	assert.Equal(t, true, app["streamable"])
	assert.Equal(t, true, app["offset-to-zero"])

	// presets are not mutated by merging
	assert.Equal(t, false, m.File["streamable"])
}

func TestParseContainer(t *testing.T) {
	tests := []struct {
		in      string
		want    Container
		wantErr bool
	}{
		{in: "", want: Matroska},
		{in: "MKV", want: Matroska},
		{in: " matroska ", want: Matroska},
		{in: "mp4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseContainer(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnsupportedContainer)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupCodec(t *testing.T) {
	tests := []struct {
		encoding string
		depay    string
		parse    string
	}{
		{"H264", "rtph264depay", "h264parse"},
		{"h265", "rtph265depay", "h265parse"},
		{"MPEG4-GENERIC", "rtpmp4gdepay", "aacparse"},
		{"MP4A-LATM", "rtpmp4adepay", "aacparse"},
		{"OPUS", "rtpopusdepay", "opusparse"},
		{"PCMA", "rtppcmadepay", "rawaudioparse"},
		{"PCMU", "rtppcmudepay", "rawaudioparse"},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			c, err := LookupCodec(tt.encoding)
			require.NoError(t, err)
			assert.Equal(t, tt.depay, c.Depay)
			assert.Equal(t, tt.parse, c.Parse)
		})
	}

	_, err := LookupCodec("MJPEG")
	require.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestFactories(t *testing.T) {
	got := Factories()
	assert.IsIncreasing(t, got)
	for _, want := range []string{"rtspsrc", "matroskamux", "rtph264depay", "h264parse", "aacparse"} {
		assert.Contains(t, got, want)
	}
}

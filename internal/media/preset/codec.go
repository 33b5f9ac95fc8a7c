// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package preset

import (
	"fmt"
	"slices"
	"strings"
)

var depayloaders = map[string]string{
	// video
	"H264": "rtph264depay",
	"H265": "rtph265depay",
	"VP8":  "rtpvp8depay",
	// audio
	"MPEG4-GENERIC": "rtpmp4gdepay",
	"MP4A-LATM":     "rtpmp4adepay",
	"OPUS":          "rtpopusdepay",
	"PCMA":          "rtppcmadepay",
	"PCMU":          "rtppcmudepay",
}

var parsers = map[string]string{
	// video
	"H264": "h264parse",
	"H265": "h265parse",
	"VP8":  "identity",
	// audio
	"MPEG4-GENERIC": "aacparse",
	"MP4A-LATM":     "aacparse",
	"OPUS":          "opusparse",
	"PCMA":          "rawaudioparse",
	"PCMU":          "rawaudioparse",
}

// Codec is the element pair needed to turn RTP packets of one encoding into
// a parsed elementary stream.
type Codec struct {
	Encoding string
	Depay    string
	Parse    string
}

// LookupCodec resolves the depayloader and parser for an RTP encoding name.
// Matching is case-insensitive.
func LookupCodec(encoding string) (Codec, error) {
	key := strings.ToUpper(strings.TrimSpace(encoding))
	depay, ok := depayloaders[key]
	if !ok {
		return Codec{}, fmt.Errorf("%w: no depayloader for %q", ErrUnsupportedCodec, encoding)
	}
	parse, ok := parsers[key]
	if !ok {
		return Codec{}, fmt.Errorf("%w: no parser for %q", ErrUnsupportedCodec, encoding)
	}
	return Codec{Encoding: key, Depay: depay, Parse: parse}, nil
}

// pipelineFactories are the fixed elements every recorder pipeline needs.
var pipelineFactories = []string{"rtspsrc", "tee", "queue", "splitmuxsink", "appsink"}

// Factories lists every element factory a recorder may instantiate, sorted
// and without duplicates.
func Factories() []string {
	out := slices.Clone(pipelineFactories)
	for _, m := range containers {
		out = append(out, m.Factory)
	}
	for _, f := range depayloaders {
		out = append(out, f)
	}
	for _, f := range parsers {
		out = append(out, f)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

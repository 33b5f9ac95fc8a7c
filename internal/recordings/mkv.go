// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recordings

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/at-wat/ebml-go"
)

// headerProbeSize covers the EBML header of any muxer output we write.
const headerProbeSize = 4096

// ErrNotMatroska is returned when a file does not start with a Matroska or
// WebM EBML header.
var ErrNotMatroska = errors.New("not a matroska file")

type ebmlHeader struct {
	EBMLVersion            uint64
	EBMLReadVersion        uint64
	EBMLMaxIDLength        uint64
	EBMLMaxSizeLength      uint64
	EBMLDocType            string
	EBMLDocTypeVersion     uint64
	EBMLDocTypeReadVersion uint64
}

type headerOnly struct {
	Header ebmlHeader `ebml:"EBML"`
}

// Header is the decoded EBML header of a segment.
type Header struct {
	DocType        string
	DocTypeVersion uint64
}

// ReadHeader decodes the EBML header at the start of r. Only the first
// headerProbeSize bytes are consumed.
func ReadHeader(r io.Reader) (Header, error) {
	var h headerOnly
	err := ebml.Unmarshal(io.LimitReader(r, headerProbeSize), &h, ebml.WithIgnoreUnknown(true))
	// The segment that follows the header is usually truncated by the
	// limit, so a decode error only matters when no header was read.
	switch h.Header.EBMLDocType {
	case "matroska", "webm":
		return Header{DocType: h.Header.EBMLDocType, DocTypeVersion: h.Header.EBMLDocTypeVersion}, nil
	case "":
		if err != nil {
			return Header{}, fmt.Errorf("%w: %w", ErrNotMatroska, err)
		}
		return Header{}, ErrNotMatroska
	default:
		return Header{}, fmt.Errorf("%w: doc type %q", ErrNotMatroska, h.Header.EBMLDocType)
	}
}

// ProbeFile reads the EBML header of the file at path.
func ProbeFile(path string) (Header, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the record directory scan
	if err != nil {
		return Header{}, err
	}
	defer func() { _ = f.Close() }()
	return ReadHeader(f)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package uploader

import (
	"context"
	"io"
	"time"
)

// TimecodeRelative marks fragment timecodes as relative to the producer
// start timestamp.
const TimecodeRelative = "RELATIVE"

// AckEventType is the type of a PutMedia acknowledgement.
type AckEventType string

const (
	AckBuffering AckEventType = "BUFFERING"
	AckReceived  AckEventType = "RECEIVED"
	AckPersisted AckEventType = "PERSISTED"
	AckError     AckEventType = "ERROR"
	AckIdle      AckEventType = "IDLE"
)

// AckEvent is one fragment acknowledgement. FragmentTimecode is relative to
// the session's producer start.
type AckEvent struct {
	Type             AckEventType
	FragmentNumber   string
	FragmentTimecode time.Duration
	ErrorID          int
}

// AckHandler receives the response of one PutMedia call. OnFailure or
// OnComplete ends the response; OnAck may run any number of times before.
type AckHandler interface {
	OnAck(ev AckEvent)
	OnFailure(err error)
	OnComplete()
}

// PutMediaRequest describes one media-put.
type PutMediaRequest struct {
	StreamName    string
	TimecodeType  string
	Payload       io.Reader
	ProducerStart time.Time
}

// FrontendClient resolves stream endpoints.
type FrontendClient interface {
	GetDataEndpoint(ctx context.Context, streamName string) (string, error)
}

// DataClient streams media to a data endpoint. PutMedia returns once the
// request is under way and reports the response through h. Cancelling ctx
// aborts the request.
type DataClient interface {
	PutMedia(ctx context.Context, req PutMediaRequest, h AckHandler) error
}

// DataClientFactory creates a data client bound to endpoint.
type DataClientFactory func(endpoint string) (DataClient, error)

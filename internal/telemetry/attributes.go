// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by every span the agent emits.
const (
	CameraKey        = "kvsedge.camera"
	StreamKey        = "kvs.stream"
	UploadKindKey    = "upload.kind"
	SessionIDKey     = "upload.session_id"
	ProducerStartKey = "upload.producer_start_ms"
	RangeStartKey    = "upload.range_start_ms"
	RangeEndKey      = "upload.range_end_ms"
	FilesKey         = "upload.files"
	ResultKey        = "upload.result"
	AckTypeKey       = "kvs.ack.type"
	FragmentKey      = "kvs.fragment_number"
	ErrorIDKey       = "kvs.error_id"
)

// UploadAttributes describes one upload session.
func UploadAttributes(stream, kind, sessionID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(StreamKey, stream),
		attribute.String(UploadKindKey, kind),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	return attrs
}

// RangeAttributes describes a historical upload window.
func RangeAttributes(start, end time.Time, files int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(RangeStartKey, start.UnixMilli()),
		attribute.Int64(RangeEndKey, end.UnixMilli()),
		attribute.Int(FilesKey, files),
	}
}

// AckAttributes describes one PutMedia acknowledgement.
func AckAttributes(ackType, fragment string, errorID int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AckTypeKey, ackType)}
	if fragment != "" {
		attrs = append(attrs, attribute.String(FragmentKey, fragment))
	}
	if errorID != 0 {
		attrs = append(attrs, attribute.Int(ErrorIDKey, errorID))
	}
	return attrs
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

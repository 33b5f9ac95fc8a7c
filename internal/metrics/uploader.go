// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UploadSessionsTotal counts finished upload sessions by kind and result.
	UploadSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvsedge_upload_sessions_total",
		Help: "Upload sessions by kind (live, historical) and result",
	}, []string{"stream", "kind", "result"})

	// UploadSessionDuration tracks how long a session stayed in flight.
	UploadSessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kvsedge_upload_session_duration_seconds",
		Help:    "Duration of upload sessions",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
	}, []string{"stream", "kind"})

	// AckEventsTotal counts PutMedia acknowledgement events by type.
	AckEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvsedge_ack_events_total",
		Help: "PutMedia acknowledgement events by event type",
	}, []string{"stream", "type"})

	// UploadedBytesTotal counts payload bytes sent to PutMedia.
	UploadedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvsedge_uploaded_bytes_total",
		Help: "Payload bytes streamed to PutMedia",
	}, []string{"stream"})

	// FilesMarkedUploadedTotal counts recordings renamed after upload.
	FilesMarkedUploadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvsedge_files_marked_uploaded_total",
		Help: "Recorded files renamed as uploaded",
	}, []string{"stream"})

	// SegmentsObservedTotal counts recording segments seen on disk.
	SegmentsObservedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvsedge_segments_observed_total",
		Help: "Recording segments observed by the directory watcher",
	}, []string{"camera"})
)

// ObserveUploadSession records a finished session.
func ObserveUploadSession(stream, kind, result string, d time.Duration) {
	UploadSessionsTotal.WithLabelValues(stream, kind, result).Inc()
	UploadSessionDuration.WithLabelValues(stream, kind).Observe(d.Seconds())
}

// IncAckEvent records an acknowledgement event.
func IncAckEvent(stream, eventType string) {
	AckEventsTotal.WithLabelValues(stream, eventType).Inc()
}

// AddUploadedBytes records streamed payload bytes.
func AddUploadedBytes(stream string, n int) {
	if n <= 0 {
		return
	}
	UploadedBytesTotal.WithLabelValues(stream).Add(float64(n))
}

// IncFileMarkedUploaded records a renamed recording.
func IncFileMarkedUploaded(stream string) {
	FilesMarkedUploadedTotal.WithLabelValues(stream).Inc()
}

// IncSegmentObserved records a new recording segment.
func IncSegmentObserved(camera string) {
	SegmentsObservedTotal.WithLabelValues(camera).Inc()
}

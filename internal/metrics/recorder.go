// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recorderStatuses = []string{"STOPPED", "STARTED", "STOPPING", "FAILED"}

var (
	// RecorderStatus is 1 for the current status of each camera recorder and 0 otherwise.
	RecorderStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kvsedge_recorder_status",
		Help: "Current recorder status per camera (1 = active status)",
	}, []string{"camera", "status"})

	// RecorderRestartsTotal counts restarts scheduled after a source failure.
	RecorderRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvsedge_recorder_restarts_total",
		Help: "Total recorder restarts after stream source failure",
	}, []string{"camera"})

	// BranchTogglesTotal counts effective app branch toggles.
	BranchTogglesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvsedge_branch_toggles_total",
		Help: "Total app branch toggles by branch and direction",
	}, []string{"camera", "branch", "enabled"})

	// AppSamplesTotal counts encoded buffers delivered to app branches.
	AppSamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvsedge_app_samples_total",
		Help: "Encoded buffers delivered to app branches",
	}, []string{"camera", "branch"})

	// AppBytesTotal counts bytes delivered to app branches.
	AppBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvsedge_app_bytes_total",
		Help: "Bytes delivered to app branches",
	}, []string{"camera", "branch"})

	// AppWriteErrorsTotal counts swallowed output-stream write errors.
	AppWriteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvsedge_app_write_errors_total",
		Help: "Output stream write errors swallowed by app branches",
	}, []string{"camera"})
)

// SetRecorderStatus flips the status gauge for camera to status.
func SetRecorderStatus(camera, status string) {
	for _, s := range recorderStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		RecorderStatus.WithLabelValues(camera, s).Set(v)
	}
}

// IncRecorderRestart records a scheduled restart.
func IncRecorderRestart(camera string) {
	RecorderRestartsTotal.WithLabelValues(camera).Inc()
}

// IncBranchToggle records an effective toggle.
func IncBranchToggle(camera, branch string, enabled bool) {
	v := "false"
	if enabled {
		v = "true"
	}
	BranchTogglesTotal.WithLabelValues(camera, branch, v).Inc()
}

// ObserveAppSample records one delivered buffer.
func ObserveAppSample(camera, branch string, size int) {
	AppSamplesTotal.WithLabelValues(camera, branch).Inc()
	AppBytesTotal.WithLabelValues(camera, branch).Add(float64(size))
}

// IncAppWriteError records a swallowed write error.
func IncAppWriteError(camera string) {
	AppWriteErrorsTotal.WithLabelValues(camera).Inc()
}

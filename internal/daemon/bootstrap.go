// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/kvsedge/internal/agent"
	"github.com/ManuGH/kvsedge/internal/api"
	"github.com/ManuGH/kvsedge/internal/config"
	"github.com/ManuGH/kvsedge/internal/health"
	"github.com/ManuGH/kvsedge/internal/journal"
	"github.com/ManuGH/kvsedge/internal/kvs"
	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/media/gstreamer"
	"github.com/ManuGH/kvsedge/internal/recorder"
	"github.com/ManuGH/kvsedge/internal/telemetry"
	"github.com/ManuGH/kvsedge/internal/uploader"
)

const serviceName = "kvsedge"

// Options tune how the daemon is assembled. Zero values select the
// production implementations.
type Options struct {
	Version string

	// Adapter drives the media framework; defaults to GStreamer.
	Adapter media.Adapter
	// LoadAWS resolves credentials for region; defaults to the SDK chain.
	LoadAWS func(ctx context.Context, region string) (aws.Config, error)
	// Frontend and NewDataClient replace the KVS clients built from LoadAWS.
	Frontend      uploader.FrontendClient
	NewDataClient uploader.DataClientFactory

	SkipStartupChecks bool
	AgentOptions      []agent.Option
}

// Run loads configuration from path, starts the daemon and blocks until
// SIGINT/SIGTERM or a fatal component error.
func Run(ctx context.Context, path string, opts Options) error {
	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Output:  os.Stdout,
		Service: serviceName,
		Version: opts.Version,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := Bootstrap(ctx, cfg, opts)
	if err != nil {
		return err
	}
	return mgr.Start(ctx)
}

// Bootstrap assembles the agent, health checks and HTTP surfaces for cfg.
// Resources opened here are released by the manager's shutdown hooks, or
// immediately when assembly fails.
func Bootstrap(ctx context.Context, cfg config.Config, opts Options) (mgr Manager, err error) {
	logger := log.WithComponent("daemon")

	var cleanups []func(context.Context) error
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			_ = cleanups[i](ctx)
		}
	}()

	adapter := opts.Adapter
	if adapter == nil {
		adapter = gstreamer.New()
	}

	if !opts.SkipStartupChecks {
		if err := health.PerformStartupChecks(ctx, cfg, adapter); err != nil {
			return nil, fmt.Errorf("startup checks: %w", err)
		}
	}

	frontend, newDataClient := opts.Frontend, opts.NewDataClient
	if frontend == nil || newDataClient == nil {
		loadAWS := opts.LoadAWS
		if loadAWS == nil {
			loadAWS = kvs.LoadAWSConfig
		}
		awsCfg, err := loadAWS(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		if frontend == nil {
			frontend = kvs.NewFrontend(awsCfg)
		}
		if newDataClient == nil {
			newDataClient = kvs.DataClientFactory(awsCfg)
		}
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: opts.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	cleanups = append(cleanups, tp.Shutdown)

	agentDeps := agent.Deps{
		Adapter:       adapter,
		Frontend:      frontend,
		NewDataClient: newDataClient,
		Region:        cfg.Region,
	}
	var jrnl *journal.Journal
	if !cfg.Journal.Disabled {
		if jrnl, err = openJournal(ctx, cfg); err != nil {
			return nil, err
		}
		cleanups = append(cleanups, func(context.Context) error { return jrnl.Close() })
		agentDeps.Journal = jrnl
	}

	ag, err := agent.New(cfg, agentDeps, opts.AgentOptions...)
	if err != nil {
		return nil, fmt.Errorf("build agent: %w", err)
	}

	hm := health.NewManager(opts.Version)
	registerChecks(hm, cfg, ag)
	if jrnl != nil {
		hm.RegisterChecker(health.NewFuncChecker("journal", func(ctx context.Context) health.CheckResult {
			if err := jrnl.Ping(ctx); err != nil {
				return health.CheckResult{Status: health.StatusDegraded, Error: err.Error()}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		}))
	}

	apiCfg := api.Config{
		RateLimit:    cfg.API.RateLimit,
		ServeMetrics: cfg.Metrics.ListenAddr == "",
	}
	if cfg.Telemetry.Enabled {
		apiCfg.TracingService = serviceName
	}
	deps := Deps{
		Logger:     logger,
		Agent:      ag,
		APIHandler: api.New(ag, hm, apiCfg).Handler(),
	}
	if cfg.Metrics.ListenAddr != "" {
		deps.MetricsHandler = promhttp.Handler()
	}

	mgr, err = NewManager(DefaultServerConfig(cfg.API.ListenAddr, cfg.Metrics.ListenAddr), deps)
	if err != nil {
		return nil, err
	}
	// Hooks run LIFO after the agent has stopped, so the journal closes
	// before the tracer flushes.
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	if jrnl != nil {
		mgr.RegisterShutdownHook("journal", func(context.Context) error { return jrnl.Close() })
	}

	logger.Info().
		Int("cameras", len(cfg.Cameras)).
		Str("region", cfg.Region).
		Bool("journal", jrnl != nil).
		Bool("tracing", cfg.Telemetry.Enabled).
		Str(log.FieldEvent, "daemon.bootstrap").
		Msg("daemon assembled")
	return mgr, nil
}

// openJournal opens the upload journal and drops entries past retention.
func openJournal(ctx context.Context, cfg config.Config) (*journal.Journal, error) {
	path := cfg.Journal.Path
	if path == "" {
		path = filepath.Join(cfg.DataDir, config.DefaultJournalFile)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	j, err := journal.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if cfg.Journal.Retention > 0 {
		if _, err := j.Prune(ctx, time.Now().Add(-cfg.Journal.Retention)); err != nil {
			_ = j.Close()
			return nil, err
		}
	}
	return j, nil
}

// registerChecks adds one readiness check per camera recorder and per
// directory the agent writes to.
func registerChecks(hm *health.Manager, cfg config.Config, ag *agent.Agent) {
	hm.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	for _, cam := range cfg.Cameras {
		name := cam.Name
		if cam.Record {
			hm.RegisterChecker(health.NewDirChecker("record_path."+name, cam.RecordPath))
		}
		hm.RegisterChecker(health.NewFuncChecker("camera."+name, func(context.Context) health.CheckResult {
			return cameraCheck(ag, name)
		}))
	}
}

func cameraCheck(ag *agent.Agent, name string) health.CheckResult {
	cam, err := ag.Camera(name)
	if err != nil {
		return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
	}
	st := cam.Status()
	switch {
	case st.Recorder != string(recorder.StatusStarted):
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "recorder " + st.Recorder, Error: st.LastError}
	case st.LastError != "":
		return health.CheckResult{Status: health.StatusDegraded, Message: "recorder running", Error: st.LastError}
	default:
		return health.CheckResult{Status: health.StatusHealthy, Message: "recorder running"}
	}
}

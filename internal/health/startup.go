// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/kvsedge/internal/config"
	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/media"
	"github.com/ManuGH/kvsedge/internal/media/preset"
)

var errNotDir = errors.New("not a directory")

// PerformStartupChecks validates the environment before the agent starts:
// writable directories and the GStreamer plugins the recorder builds from.
func PerformStartupChecks(ctx context.Context, cfg config.Config, adapter media.Adapter) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str(log.FieldEvent, "startup.check").Msg("running pre-flight startup checks")

	if err := checkWritableDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	logger.Info().Str(log.FieldPath, cfg.DataDir).Msg("data directory is writable")

	for _, cam := range cfg.Cameras {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !cam.Record {
			continue
		}
		if err := checkWritableDir(cam.RecordPath); err != nil {
			return fmt.Errorf("camera %s: record path check failed: %w", cam.Name, err)
		}
	}

	var missing []string
	for _, factory := range preset.Factories() {
		if _, err := adapter.NewElement(factory); err != nil {
			missing = append(missing, factory)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing GStreamer elements %v", media.ErrAdapter, missing)
	}
	logger.Info().Int("elements", len(preset.Factories())).Msg("GStreamer elements available")
	return nil
}

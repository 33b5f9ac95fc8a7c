// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command kvsedge records RTSP cameras to disk and uploads them to Kinesis
// Video Streams.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuGH/kvsedge/internal/config"
)

const defaultConfigPath = "/etc/kvsedge/config.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kvsedge",
		Short:         "Edge recorder and Kinesis Video Streams uploader",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", config.ParseString(config.EnvConfigPath, defaultConfigPath),
		"path to YAML configuration file")
	root.PersistentFlags().String("api", "http://127.0.0.1:8080", "base URL of a running daemon")

	root.AddCommand(
		newRunCmd(),
		newUploadCmd(),
		newUploadsCmd(),
		newLiveCmd(),
		newConfigCmd(),
		newHealthcheckCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newLiveCmd() *cobra.Command {
	var camera string
	cmd := &cobra.Command{
		Use:       "live on|off",
		Short:     "Switch live upload of a camera",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if camera == "" {
				return errors.New("--camera is required")
			}
			enable := args[0] == "on"
			var res struct {
				Enabled bool `json:"enabled"`
				Changed bool `json:"changed"`
			}
			path := "/api/v1/cameras/" + url.PathEscape(camera) + "/live"
			if err := callAPI(cmd.Context(), cmd, http.MethodPost, path, map[string]bool{"enable": enable}, &res); err != nil {
				return err
			}
			state := "unchanged"
			if res.Changed {
				state = "switched"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "live upload for %s %s (%s)\n", camera, args[0], state)
			return nil
		},
	}
	cmd.Flags().StringVar(&camera, "camera", "", "camera name")
	return cmd
}

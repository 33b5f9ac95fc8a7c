// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/kvsedge/internal/journal"
)

func newUploadsCmd() *cobra.Command {
	var (
		camera string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Show the upload journal of a camera",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if camera == "" {
				return errors.New("--camera is required")
			}
			path := "/api/v1/cameras/" + url.PathEscape(camera) + "/uploads"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			var body struct {
				Uploads []journal.Entry `json:"uploads"`
			}
			if err := callAPI(cmd.Context(), cmd, http.MethodGet, path, nil, &body); err != nil {
				return err
			}
			if len(body.Uploads) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no uploads recorded for %s\n", camera)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tKIND\tRESULT\tFILES\tPERSISTED\tERRORS\tDURATION")
			for _, e := range body.Uploads {
				dur := "-"
				if e.FinishedAt != nil {
					dur = e.FinishedAt.Sub(e.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					e.StartedAt.Local().Format(time.DateTime), e.Kind, e.Result, e.Files, e.Persisted, e.Errors, dur)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&camera, "camera", "", "camera name")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (daemon default when 0)")
	return cmd
}

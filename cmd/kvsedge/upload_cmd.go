// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/kvsedge/internal/agent"
)

func newUploadCmd() *cobra.Command {
	var (
		camera     string
		start, end string
		cancel     bool
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload recorded segments of a camera for a time range",
		Long: "Ask a running daemon to upload the recordings of one camera whose\n" +
			"start lies inside (start, end). Times are RFC 3339 or epoch milliseconds.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if camera == "" {
				return errors.New("--camera is required")
			}
			path := "/api/v1/cameras/" + url.PathEscape(camera) + "/upload"
			if cancel {
				if err := callAPI(cmd.Context(), cmd, http.MethodDelete, path, nil, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled upload for %s\n", camera)
				return nil
			}

			from, err := parseTime(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := parseTime(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			body := map[string]string{
				"start": from.Format(time.RFC3339Nano),
				"end":   to.Format(time.RFC3339Nano),
			}
			var res agent.UploadResult
			if err := callAPI(cmd.Context(), cmd, http.MethodPost, path, body, &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "uploaded %d file(s), %d fragment(s) persisted, %d error ack(s)\n",
				len(res.Uploaded), res.Persisted, res.Errors)
			for _, name := range res.Uploaded {
				fmt.Fprintf(out, "  %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&camera, "camera", "", "camera name")
	cmd.Flags().StringVar(&start, "start", "", "range start (exclusive)")
	cmd.Flags().StringVar(&end, "end", "", "range end (exclusive)")
	cmd.Flags().BoolVar(&cancel, "cancel", false, "cancel the running upload instead")
	return cmd
}

// parseTime accepts RFC 3339 or epoch milliseconds.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("required")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor epoch milliseconds", s)
	}
	return t, nil
}

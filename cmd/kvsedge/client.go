// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// apiError mirrors the daemon's error body.
type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// callAPI sends body as JSON to the daemon and decodes the reply into out.
// path may carry a query string.
func callAPI(ctx context.Context, cmd *cobra.Command, method, path string, body, out any) error {
	base, _ := cmd.Flags().GetString("api")
	path, rawQuery, _ := strings.Cut(path, "?")
	endpoint, err := url.JoinPath(strings.TrimRight(base, "/"), path)
	if err != nil {
		return fmt.Errorf("invalid --api %q: %w", base, err)
	}
	if rawQuery != "" {
		endpoint += "?" + rawQuery
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e apiError
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		return fmt.Errorf("%s: %s", e.Error, e.Detail)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

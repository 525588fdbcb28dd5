// ABOUTME: The health command: query a running instance's /health endpoint
// ABOUTME: Prints the reported status and uptime, failing on non-200

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type healthReport struct {
	Status     string  `json:"status"`
	InstanceID *string `json:"instance_id"`
	Uptime     int64   `json:"uptime"`
}

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running instance's health",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "host:port of the running instance")
	cmd.Flags().Duration("timeout", 5*time.Second, "request timeout")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		v, err := newViper(cmd)
		if err != nil {
			return err
		}
		return runHealth(cmd.Context(), cmd.OutOrStdout(), v.GetString("addr"), v.GetDuration("timeout"))
	}
	return cmd
}

func runHealth(ctx context.Context, out io.Writer, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}

	instance := "-"
	if report.InstanceID != nil {
		instance = *report.InstanceID
	}
	_, err = fmt.Fprintf(out, "%s (instance %s, up %s)\n", report.Status, instance, time.Duration(report.Uptime)*time.Second)
	return err
}

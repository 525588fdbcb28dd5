// ABOUTME: Entry point for the coven-runtime agent server
// ABOUTME: Wires cobra commands for run, health, and version

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        _ __ _   _ _ __ | |_(_)_ __ ___   ___
 / __/ _ \ \ / / _ \ '_ \ _____| '__| | | | '_ \| __| | '_ ' _ \ / _ \
| (_| (_) \ V /  __/ | | |_____| |  | |_| | | | | |_| | | | | | |  __/
 \___\___/ \_/ \___|_| |_|     |_|   \__,_|_| |_|\__|_|_| |_| |_|\___|
`

// envPrefix namespaces environment overrides, e.g. COVEN_RUNTIME_PORT.
const envPrefix = "COVEN_RUNTIME"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coven-runtime",
		Short:         "Serve an agent handler over HTTP with managed model and tool clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newHealthCmd(),
		newVersionCmd(),
	)
	return root
}

// newViper returns a viper instance reading COVEN_RUNTIME_* for every flag of cmd.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	return v, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

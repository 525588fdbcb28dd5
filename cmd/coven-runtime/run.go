// ABOUTME: The run command: initialize the runtime, serve it, and supervise it
// ABOUTME: Joins the gateway and the heartbeat loop, then tears down in order

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-runtime/internal/config"
	"github.com/2389/coven-runtime/internal/gateway"
	"github.com/2389/coven-runtime/internal/orchestrator"
	"github.com/2389/coven-runtime/internal/supervisor"
	"github.com/2389/coven-runtime/internal/tracing"
)

// shutdownTimeout bounds runtime and tracer teardown after the gateway stops.
const shutdownTimeout = 10 * time.Second

type runOptions struct {
	projectRoot string
	configPath  string
	port        int
	noPlatform  bool
	logLevel    string
	logFormat   string
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [project]",
		Short: "Run a project directory (default: .)",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.Flags().Int("port", 0, "HTTP port (default from config or 8080)")
	cmd.Flags().String("config", "agentapp.yaml", "config file, relative to the project directory")
	cmd.Flags().Bool("no-platform", false, "disable controller heartbeats")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn, error (default from config)")
	cmd.Flags().String("log-format", "", "log format: text or json (default from config)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v, err := newViper(cmd)
		if err != nil {
			return err
		}
		opts := runOptions{
			projectRoot: ".",
			configPath:  v.GetString("config"),
			port:        v.GetInt("port"),
			noPlatform:  v.GetBool("no-platform"),
			logLevel:    v.GetString("log-level"),
			logFormat:   v.GetString("log-format"),
		}
		if len(args) == 1 {
			opts.projectRoot = args[0]
		}
		return runServe(cmd.Context(), opts)
	}
	return cmd
}

// resolvePaths makes the project root absolute and anchors a relative config path to it.
func resolvePaths(projectRoot, configPath string) (string, string, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", "", fmt.Errorf("resolving project path: %w", err)
	}
	if configPath == "" {
		configPath = "agentapp.yaml"
	}
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(root, configPath)
	}
	return root, configPath, nil
}

// applyOverrides folds command-line settings into the loaded config.
func applyOverrides(cfg *config.Config, opts runOptions) {
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
}

func runServe(ctx context.Context, opts runOptions) error {
	projectRoot, configPath, err := resolvePaths(opts.projectRoot, opts.configPath)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyOverrides(cfg, opts)

	logger := setupLogger(cfg.Logging)
	printStartup(cfg, projectRoot, configPath, opts.noPlatform)

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}

	rt := orchestrator.New(orchestrator.Options{
		Logger:  logger,
		Version: version,
		LoadConfig: func(string) (*config.Config, error) {
			return cfg, nil
		},
	})
	if err := rt.Initialize(ctx, configPath, projectRoot); err != nil {
		shutdownWithTimeout(logger, "tracing", shutdownTracing)
		return err
	}

	// A controller restart exits the process on the spot; the orchestrator
	// expects no drain and in-flight streams are dropped.
	var (
		sup      *supervisor.Client
		recorder gateway.Recorder
	)
	if !opts.noPlatform && cfg.Platform.Enabled() {
		sup = supervisor.New(cfg.Platform, logger)
		recorder = sup
	}

	gw, err := gateway.New(cfg, rt, recorder, logger)
	if err != nil {
		shutdownWithTimeout(logger, "runtime", rt.Shutdown)
		shutdownWithTimeout(logger, "tracing", shutdownTracing)
		return fmt.Errorf("creating gateway: %w", err)
	}

	logger.Info("starting coven-runtime",
		"project", projectRoot,
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(gctx)
	})
	if sup != nil {
		g.Go(func() error {
			return sup.Run(gctx)
		})
	}
	runErr := g.Wait()

	if sup != nil {
		sup.Close()
	}
	shutdownWithTimeout(logger, "runtime", rt.Shutdown)
	shutdownWithTimeout(logger, "tracing", shutdownTracing)

	return runErr
}

func shutdownWithTimeout(logger *slog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown failed", "component", what, "error", err)
	}
}

func printStartup(cfg *config.Config, projectRoot, configPath string, noPlatform bool) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	green.Print("    ▶ ")
	fmt.Printf("Project:   %s\n", projectRoot)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr())
	if addr := cfg.Server.GRPCAddr(); addr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s (health)\n", addr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Models:    %s\n", strings.Join(cfg.Models.Names(), ", "))
	green.Print("    ▶ ")
	fmt.Printf("Tools:     %s\n", strings.Join(cfg.MCPServers.Names(), ", "))
	green.Print("    ▶ ")
	fmt.Printf("Sessions:  %s\n", cfg.Session.Backend)

	green.Print("    ▶ ")
	fmt.Printf("Platform:  ")
	switch {
	case noPlatform:
		gray.Print("disabled (--no-platform)")
	case cfg.Platform.Enabled():
		cyan.Print(cfg.Platform.Endpoint)
		gray.Printf(" (%s)", cfg.Platform.InstanceID)
	default:
		gray.Print("not configured")
	}
	fmt.Println()

	if cfg.Server.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Server.Tailscale.Hostname)
		if cfg.Server.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Server.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()
}

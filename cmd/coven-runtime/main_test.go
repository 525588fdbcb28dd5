// ABOUTME: Tests for CLI helpers: logger, path resolution, overrides, health, version
// ABOUTME: Runs commands in-process with captured output

package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-runtime/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "gateway").Info("ready", "port", 8080)
	logger.WithGroup("req").Warn("slow", "ms", 1200)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF ready component=gateway port=8080")
	assert.Contains(t, out, "WRN slow req.ms=1200")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestResolvePaths(t *testing.T) {
	root := t.TempDir()

	gotRoot, gotConfig, err := resolvePaths(root, "agentapp.yaml")
	require.NoError(t, err)
	assert.Equal(t, root, gotRoot)
	assert.Equal(t, filepath.Join(root, "agentapp.yaml"), gotConfig)

	abs := filepath.Join(t.TempDir(), "other.yaml")
	_, gotConfig, err = resolvePaths(root, abs)
	require.NoError(t, err)
	assert.Equal(t, abs, gotConfig)

	_, gotConfig, err = resolvePaths(root, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "agentapp.yaml"), gotConfig)
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	applyOverrides(cfg, runOptions{})
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)

	applyOverrides(cfg, runOptions{port: 9090, logLevel: "debug", logFormat: "json"})
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestRunHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","instance_id":"inst-1","uptime":65}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	addr := strings.TrimPrefix(srv.URL, "http://")
	require.NoError(t, runHealth(context.Background(), &out, addr, time.Second))
	assert.Equal(t, "healthy (instance inst-1, up 1m5s)\n", out.String())
}

func TestRunHealth_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := runHealth(context.Background(), &bytes.Buffer{}, strings.TrimPrefix(srv.URL, "http://"), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestRunCommand_MissingConfig(t *testing.T) {
	color.NoColor = true
	root := newRootCmd()
	root.SetArgs([]string{"run", t.TempDir()})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestViperEnvOverride(t *testing.T) {
	t.Setenv("COVEN_RUNTIME_NO_PLATFORM", "true")
	cmd := newRunCmd()
	v, err := newViper(cmd)
	require.NoError(t, err)
	assert.True(t, v.GetBool("no-platform"))
	assert.Equal(t, "agentapp.yaml", v.GetString("config"))
}

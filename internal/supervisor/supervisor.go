// ABOUTME: Supervisory client reporting liveness and metrics to a remote controller
// ABOUTME: Sends periodic heartbeats, polls for config changes, and exits on restart

package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-runtime/internal/config"
	"github.com/2389/coven-runtime/internal/recent"
)

// RequestTimeout bounds each heartbeat and config poll.
const RequestTimeout = 10 * time.Second

// Actions a controller may request.
const (
	ActionRestart = "restart"
	ActionReload  = "reload"
	ActionNone    = "none"
)

// Metrics is the snapshot sent with each heartbeat.
type Metrics struct {
	ActiveSessions int   `json:"active_sessions"`
	TotalRequests  int64 `json:"total_requests"`
	MemoryUsageMB  int   `json:"memory_usage_mb"`
}

// Heartbeat is the body POSTed to the controller.
type Heartbeat struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Metrics   Metrics `json:"metrics"`
}

// ConfigUpdate is the controller's answer to a config poll.
type ConfigUpdate struct {
	Updated bool   `json:"updated"`
	Action  string `json:"action"`
}

// Client talks to the supervisory controller. A client built from a config
// without both endpoint and instance id is disabled and every method is a no-op.
type Client struct {
	endpoint   string
	instanceID string
	interval   time.Duration
	enabled    bool

	requests atomic.Int64
	sessions *recent.Set

	httpClient *http.Client
	exit       func(code int)
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for controller calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithExitFunc replaces os.Exit for the restart action.
func WithExitFunc(fn func(code int)) Option {
	return func(c *Client) { c.exit = fn }
}

// New builds a Client from the platform section.
func New(cfg config.PlatformConfig, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.ActiveSessionTTL.Std()
	if ttl <= 0 {
		ttl = time.Hour
	}
	interval := cfg.HeartbeatInterval.Std()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c := &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		instanceID: cfg.InstanceID,
		interval:   interval,
		enabled:    cfg.Enabled(),
		sessions:   recent.New(ttl, cfg.ActiveSessionMax),
		httpClient: &http.Client{Timeout: RequestTimeout},
		exit:       os.Exit,
		logger:     logger.With("component", "supervisor"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the client talks to a controller.
func (c *Client) Enabled() bool {
	return c.enabled
}

// InstanceID returns the configured instance id, or "" when unset.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// RecordRequest counts one request for sessionID. Safe for concurrent use.
func (c *Client) RecordRequest(sessionID string) {
	if !c.enabled {
		return
	}
	c.requests.Add(1)
	c.sessions.Mark(sessionID)
}

// Snapshot returns the current metrics.
func (c *Client) Snapshot() Metrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Metrics{
		ActiveSessions: c.sessions.Len(),
		TotalRequests:  c.requests.Load(),
		MemoryUsageMB:  int(mem.Sys >> 20),
	}
}

// Run heartbeats and polls until ctx is cancelled. The first tick happens
// immediately. Controller failures are logged and never end the loop.
func (c *Client) Run(ctx context.Context) error {
	if !c.enabled {
		c.logger.Debug("supervisor disabled (platform endpoint or instance_id not set)")
		return nil
	}

	c.logger.Info("supervisor started",
		"endpoint", c.endpoint,
		"instance_id", c.instanceID,
		"interval", c.interval,
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.tick(ctx)
		select {
		case <-ctx.Done():
			c.logger.Info("supervisor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Client) tick(ctx context.Context) {
	if err := c.SendHeartbeat(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("heartbeat failed", "error", err)
	}
	if ctx.Err() != nil {
		return
	}
	update, err := c.PollConfig(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("config poll failed", "error", err)
		}
		return
	}
	c.apply(update)
}

func (c *Client) apply(update *ConfigUpdate) {
	if update == nil || !update.Updated {
		return
	}
	switch update.Action {
	case ActionRestart:
		c.logger.Warn("=== RESTART REQUESTED BY CONTROLLER ===", "instance_id", c.instanceID)
		c.exit(0)
	default:
		c.logger.Info("config update ignored", "action", update.Action)
	}
}

// Start runs the loop in a goroutine. Stop cancels it and waits for it to end.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
}

// Stop ends a loop started with Start and releases the session tracker.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Close releases background resources.
func (c *Client) Close() {
	c.Stop()
	c.sessions.Close()
}

func (c *Client) instanceURL(suffix string) string {
	return c.endpoint + "/instances/" + url.PathEscape(c.instanceID) + "/" + suffix
}

// SendHeartbeat POSTs one heartbeat. A non-200 response is reported as an error.
func (c *Client) SendHeartbeat(ctx context.Context) error {
	body, err := json.Marshal(Heartbeat{
		Status:    "running",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metrics:   c.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("encoding heartbeat: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.instanceURL("heartbeat"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending heartbeat: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat returned status %d", resp.StatusCode)
	}
	return nil
}

// PollConfig GETs the controller's pending config change.
func (c *Client) PollConfig(ctx context.Context) (*ConfigUpdate, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.instanceURL("config"), nil)
	if err != nil {
		return nil, fmt.Errorf("creating config request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("config poll returned status %d", resp.StatusCode)
	}

	var update ConfigUpdate
	if err := json.NewDecoder(resp.Body).Decode(&update); err != nil {
		return nil, fmt.Errorf("decoding config update: %w", err)
	}
	return &update, nil
}

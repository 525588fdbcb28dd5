// ABOUTME: Runtime lifecycle: builds clients, session store, and handler from config
// ABOUTME: Releases everything in reverse acquisition order on shutdown or failed init

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-runtime/internal/config"
	"github.com/2389/coven-runtime/internal/handler"
	"github.com/2389/coven-runtime/internal/mcp"
	"github.com/2389/coven-runtime/internal/model"
	"github.com/2389/coven-runtime/internal/registry"
	"github.com/2389/coven-runtime/internal/store"
	"github.com/2389/coven-runtime/internal/toolkit"
)

// ErrAlreadyInitialized is returned by Initialize on a running runtime.
var ErrAlreadyInitialized = errors.New("runtime is already initialized; call Shutdown first")

// ErrNotInitialized is returned by accessors used outside the initialized state.
var ErrNotInitialized = errors.New("runtime is not initialized")

// State is the lifecycle position of a Runtime.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// InitError reports which initialization stage failed.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initializing runtime: %s: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ToolClient is a tool provider the runtime connects and later closes.
type ToolClient interface {
	toolkit.Provider
	Connect(ctx context.Context, version string) error
	Close() error
}

// Factories used during initialization; tests substitute fakes.
type (
	ModelFactory func(slot string, cfg config.ModelConfig, logger *slog.Logger) (model.ChatModel, error)
	MCPFactory   func(slot string, cfg config.MCPServerConfig, logger *slog.Logger) (ToolClient, error)
	StoreFactory func(cfg config.SessionConfig, logger *slog.Logger) (store.Store, error)
)

// Options configure a Runtime. Zero values select the production defaults.
type Options struct {
	Logger     *slog.Logger
	Version    string
	Loader     handler.Loader
	LoadConfig func(path string) (*config.Config, error)
	NewModel   ModelFactory
	NewMCP     MCPFactory
	NewStore   StoreFactory
}

// acquired is one entry on the release stack.
type acquired struct {
	kind  string
	name  string
	close func() error
}

// Runtime owns every upstream client, the session store, and the handler.
type Runtime struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex // serialises Initialize and Shutdown
	state atomic.Int32

	cfg       *config.Config
	models    *registry.Registry[model.ChatModel]
	mcps      *registry.Registry[ToolClient]
	tools     *toolkit.Toolkit
	sessions  store.Store
	app       handler.App
	stack     []acquired
	startedAt time.Time
}

// New creates an uninitialized Runtime.
func New(opts Options) *Runtime {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Loader == nil {
		opts.Loader = handler.PluginLoader{}
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	if opts.NewModel == nil {
		opts.NewModel = model.New
	}
	if opts.NewMCP == nil {
		opts.NewMCP = func(slot string, cfg config.MCPServerConfig, logger *slog.Logger) (ToolClient, error) {
			return mcp.New(slot, cfg, logger)
		}
	}
	if opts.NewStore == nil {
		opts.NewStore = func(cfg config.SessionConfig, logger *slog.Logger) (store.Store, error) {
			return store.New(cfg, logger)
		}
	}

	logger := opts.Logger.With("component", "runtime")
	r := &Runtime{opts: opts, logger: logger}
	r.reset()
	return r
}

func (r *Runtime) reset() {
	r.cfg = nil
	r.models = registry.New[model.ChatModel]("model", r.logger)
	r.mcps = registry.New[ToolClient]("tool provider", r.logger)
	r.tools = toolkit.New(r.logger)
	r.sessions = nil
	r.app = nil
	r.stack = nil
	r.startedAt = time.Time{}
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// Initialized reports whether requests may be served.
func (r *Runtime) Initialized() bool {
	return r.State() == StateInitialized
}

// Initialize loads configPath (relative paths resolve against projectRoot),
// acquires every configured client in declaration order, opens the session
// store, loads the handler, and runs its startup hook. On any failure the
// clients acquired so far are released and the runtime stays uninitialized.
func (r *Runtime) Initialize(ctx context.Context, configPath, projectRoot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch st := r.State(); st {
	case StateUninitialized:
	case StateInitialized:
		return ErrAlreadyInitialized
	default:
		return fmt.Errorf("cannot initialize while %s", st)
	}
	r.state.Store(int32(StateInitializing))

	if err := r.initialize(ctx, configPath, projectRoot); err != nil {
		r.logger.Error("initialization failed, releasing acquired clients", "error", err)
		r.releaseAll()
		if r.sessions != nil {
			if cerr := r.sessions.Close(); cerr != nil {
				r.logger.Warn("closing session store", "error", cerr)
			}
		}
		r.reset()
		r.state.Store(int32(StateUninitialized))
		return err
	}

	r.startedAt = time.Now()
	r.state.Store(int32(StateInitialized))
	r.logger.Info("=== RUNTIME INITIALIZED ===",
		"models", r.models.Len(),
		"tool_providers", r.mcps.Len(),
		"tools", r.tools.Len(),
		"session_backend", r.cfg.Session.Backend,
	)
	return nil
}

func (r *Runtime) initialize(ctx context.Context, configPath, projectRoot string) error {
	if projectRoot == "" {
		projectRoot = "."
	}
	if configPath == "" {
		configPath = "agentapp.yaml"
	}
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(projectRoot, configPath)
	}

	cfg, err := r.opts.LoadConfig(configPath)
	if err != nil {
		return &InitError{Stage: "config", Err: err}
	}
	r.cfg = cfg

	for _, slot := range cfg.Models {
		m, err := r.opts.NewModel(slot.Name, slot.Value, r.opts.Logger)
		if err != nil {
			return &InitError{Stage: "model " + slot.Name, Err: err}
		}
		r.models.Register(slot.Name, m)
		r.stack = append(r.stack, acquired{kind: "model", name: slot.Name, close: m.Close})
		r.logger.Info("model ready", "slot", slot.Name, "provider", slot.Value.Provider, "model", slot.Value.Model)
	}

	for _, slot := range cfg.MCPServers {
		c, err := r.opts.NewMCP(slot.Name, slot.Value, r.opts.Logger)
		if err != nil {
			return &InitError{Stage: "tool provider " + slot.Name, Err: err}
		}
		if err := c.Connect(ctx, r.opts.Version); err != nil {
			c.Close()
			return &InitError{Stage: "tool provider " + slot.Name, Err: err}
		}
		r.mcps.Register(slot.Name, c)
		r.stack = append(r.stack, acquired{kind: "tool provider", name: slot.Name, close: c.Close})

		if _, err := r.tools.AddProvider(c); err != nil {
			return &InitError{Stage: "tool provider " + slot.Name, Err: err}
		}
	}

	if cfg.Session.SaveDir != "" && !filepath.IsAbs(cfg.Session.SaveDir) {
		cfg.Session.SaveDir = filepath.Join(projectRoot, cfg.Session.SaveDir)
	}
	sessions, err := r.opts.NewStore(cfg.Session, r.opts.Logger)
	if err != nil {
		return &InitError{Stage: "session store", Err: err}
	}
	r.sessions = sessions

	app, err := r.opts.Loader.Load(projectRoot)
	if err != nil {
		return &InitError{Stage: "handler", Err: err}
	}
	r.app = app

	if starter, ok := app.(handler.Starter); ok {
		if err := starter.OnStartup(ctx, r); err != nil {
			return &InitError{Stage: "handler startup", Err: err}
		}
	}
	return nil
}

// Shutdown runs the handler's shutdown hook, releases clients in reverse
// acquisition order, closes the session store, and returns the runtime to
// uninitialized. Individual failures are logged and do not stop teardown.
// Calling Shutdown on an uninitialized runtime does nothing.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State() != StateInitialized {
		return nil
	}
	r.state.Store(int32(StateShuttingDown))
	r.logger.Info("runtime shutting down")

	if stopper, ok := r.app.(handler.Stopper); ok {
		if err := stopper.OnShutdown(ctx); err != nil {
			r.logger.Warn("handler shutdown hook failed", "error", err)
		}
	}

	r.releaseAll()

	if r.sessions != nil {
		if err := r.sessions.Close(); err != nil {
			r.logger.Warn("closing session store", "error", err)
		}
	}

	r.reset()
	r.state.Store(int32(StateUninitialized))
	r.logger.Info("=== RUNTIME STOPPED ===")
	return nil
}

// releaseAll pops the release stack. Must be called with mu held.
func (r *Runtime) releaseAll() {
	for i := len(r.stack) - 1; i >= 0; i-- {
		a := r.stack[i]
		if err := a.close(); err != nil {
			r.logger.Warn("releasing client failed", "kind", a.kind, "slot", a.name, "error", err)
			continue
		}
		r.logger.Debug("released client", "kind", a.kind, "slot", a.name)
	}
	r.stack = nil
	r.models.Clear()
	r.mcps.Clear()
	r.tools.Clear()
}

// Model returns the chat model registered under slot.
func (r *Runtime) Model(slot string) (model.ChatModel, error) {
	return r.models.Get(slot)
}

// MCP returns the tool provider registered under slot.
func (r *Runtime) MCP(slot string) (toolkit.Provider, error) {
	return r.mcps.Get(slot)
}

// Models exposes the model registry for read-only inspection.
func (r *Runtime) Models() *registry.Registry[model.ChatModel] {
	return r.models
}

// MCPs exposes the tool-provider registry for read-only inspection.
func (r *Runtime) MCPs() *registry.Registry[ToolClient] {
	return r.mcps
}

// Tools returns the shared toolkit.
func (r *Runtime) Tools() *toolkit.Toolkit {
	return r.tools
}

// Config returns the loaded configuration, or nil before Initialize.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Sessions returns the session store, or nil before Initialize.
func (r *Runtime) Sessions() store.Store {
	return r.sessions
}

// App returns the loaded handler, or nil before Initialize.
func (r *Runtime) App() handler.App {
	return r.app
}

// StartedAt returns when initialization completed.
func (r *Runtime) StartedAt() time.Time {
	return r.startedAt
}

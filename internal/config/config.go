// ABOUTME: Configuration loading and parsing for coven-runtime
// ABOUTME: Supports YAML files with ordered slot maps, ${VAR} expansion, and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when a required field is missing or a value is out of range.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrUnresolvedEnv is returned when a ${VAR} placeholder names an unset environment variable.
	ErrUnresolvedEnv = errors.New("unresolved environment variable")
)

// Transports supported by tool-provider slots.
const (
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable_http"
)

// Session backend kinds.
const (
	BackendJSON     = "json"
	BackendFile     = "file"
	BackendDatabase = "database"
	BackendRedis    = "redis"
)

// Config represents the complete coven-runtime configuration
type Config struct {
	Models     Slots[ModelConfig]     `yaml:"models"`
	MCPServers Slots[MCPServerConfig] `yaml:"mcp_servers"`
	Session    SessionConfig          `yaml:"session"`
	Platform   PlatformConfig         `yaml:"platform"`
	Tracing    TracingConfig          `yaml:"tracing"`
	Server     ServerConfig           `yaml:"server"`
	Logging    LoggingConfig          `yaml:"logging"`
}

// ModelConfig describes one chat-model slot
type ModelConfig struct {
	Provider       string            `yaml:"provider"`
	Model          string            `yaml:"model"`
	APIKey         string            `yaml:"api_key"`
	BaseURL        string            `yaml:"base_url"`
	Stream         *bool             `yaml:"stream"`
	GenerateKwargs map[string]any    `yaml:"generate_kwargs"`
	ClientKwargs   map[string]any    `yaml:"client_kwargs"`
	Headers        map[string]string `yaml:"headers"`
}

// Streaming reports whether the model should stream; unset means true.
func (m ModelConfig) Streaming() bool {
	return m.Stream == nil || *m.Stream
}

// MCPServerConfig describes one tool-provider slot
type MCPServerConfig struct {
	URL            string            `yaml:"url"`
	Transport      string            `yaml:"transport"`
	Headers        map[string]string `yaml:"headers"`
	Timeout        Duration          `yaml:"timeout"`
	SSEReadTimeout Duration          `yaml:"sse_read_timeout"`
}

// SessionConfig selects and configures the session persistence backend
type SessionConfig struct {
	Backend string   `yaml:"backend"`
	SaveDir string   `yaml:"save_dir"`
	URL     string   `yaml:"url"`
	Driver  string   `yaml:"driver"`
	Table   string   `yaml:"table"`
	Prefix  string   `yaml:"prefix"`
	TTL     Duration `yaml:"ttl"`
}

// PlatformConfig holds the supervisory controller settings
type PlatformConfig struct {
	Endpoint          string   `yaml:"endpoint"`
	InstanceID        string   `yaml:"instance_id"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	ActiveSessionTTL  Duration `yaml:"active_session_ttl"`
	ActiveSessionMax  int      `yaml:"active_session_max"`
}

// Enabled reports whether both endpoint and instance id are configured.
func (p PlatformConfig) Enabled() bool {
	return p.Endpoint != "" && p.InstanceID != ""
}

// TracingConfig holds the OTLP trace exporter endpoint
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	GRPCPort  int             `yaml:"grpc_port"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
}

// HTTPAddr returns host:port for the HTTP listener.
func (s ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr returns host:port for the gRPC health listener, or "" when disabled.
func (s ServerConfig) GRPCAddr() string {
	if s.GRPCPort <= 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"` // public Funnel, implies HTTPS
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded in every scalar value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a Config, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := expandEnvVars(&doc); err != nil {
		return nil, err
	}

	cfg := Default()
	if len(doc.Content) > 0 {
		if err := doc.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with the runtime defaults.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			Backend: BackendJSON,
			SaveDir: "./sessions",
			Table:   "runtime_sessions",
			Prefix:  "coven:session:",
		},
		Platform: PlatformConfig{
			HeartbeatInterval: Seconds(30),
			ActiveSessionTTL:  Seconds(3600),
			ActiveSessionMax:  10000,
		},
		Tracing: TracingConfig{ServiceName: "coven-runtime"},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in scalar values with the corresponding
// environment variable. Mapping keys are left alone. An unset variable is an error.
func expandEnvVars(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if !strings.Contains(node.Value, "${") {
			return nil
		}
		var missing []string
		expanded := envPattern.ReplaceAllStringFunc(node.Value, func(match string) string {
			name := envPattern.FindStringSubmatch(match)[1]
			val, ok := os.LookupEnv(name)
			if !ok {
				missing = append(missing, name)
			}
			return val
		})
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s (line %d)", ErrUnresolvedEnv, strings.Join(missing, ", "), node.Line)
		}
		node.Value = expanded
		// Plain scalars are re-resolved so "${PORT}" can decode into an int.
		if node.Style == 0 {
			node.Tag = ""
		}
		return nil
	case yaml.MappingNode:
		for i := 1; i < len(node.Content); i += 2 {
			if err := expandEnvVars(node.Content[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		for _, child := range node.Content {
			if err := expandEnvVars(child); err != nil {
				return err
			}
		}
		return nil
	}
}

// applyDefaults fills per-slot defaults that cannot be expressed in Default().
func applyDefaults(cfg *Config) {
	for i := range cfg.MCPServers {
		srv := &cfg.MCPServers[i].Value
		if srv.Timeout == 0 {
			srv.Timeout = Seconds(30)
		}
		if srv.SSEReadTimeout == 0 {
			srv.SSEReadTimeout = Seconds(300)
		}
	}
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = BackendJSON
	}
	if cfg.Platform.HeartbeatInterval <= 0 {
		cfg.Platform.HeartbeatInterval = Seconds(30)
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	for _, slot := range c.Models {
		if slot.Value.Provider == "" {
			return fmt.Errorf("%w: models.%s.provider is required", ErrInvalidConfig, slot.Name)
		}
		if slot.Value.Model == "" {
			return fmt.Errorf("%w: models.%s.model is required", ErrInvalidConfig, slot.Name)
		}
	}

	for _, slot := range c.MCPServers {
		if slot.Value.URL == "" {
			return fmt.Errorf("%w: mcp_servers.%s.url is required", ErrInvalidConfig, slot.Name)
		}
		switch slot.Value.Transport {
		case TransportSSE, TransportStreamableHTTP:
		case "":
			return fmt.Errorf("%w: mcp_servers.%s.transport is required", ErrInvalidConfig, slot.Name)
		default:
			return fmt.Errorf("%w: mcp_servers.%s.transport %q must be %q or %q",
				ErrInvalidConfig, slot.Name, slot.Value.Transport, TransportSSE, TransportStreamableHTTP)
		}
	}

	switch c.Session.Backend {
	case BackendJSON, BackendFile:
		if c.Session.SaveDir == "" {
			return fmt.Errorf("%w: session.save_dir is required for the %s backend", ErrInvalidConfig, c.Session.Backend)
		}
	case BackendDatabase, BackendRedis:
		if c.Session.URL == "" {
			return fmt.Errorf("%w: session.url is required for the %s backend", ErrInvalidConfig, c.Session.Backend)
		}
	default:
		return fmt.Errorf("%w: session.backend %q is not one of json, file, database, redis", ErrInvalidConfig, c.Session.Backend)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.Tailscale.Enabled && c.Server.Tailscale.Hostname == "" {
		return fmt.Errorf("%w: server.tailscale.hostname is required when tailscale is enabled", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level %q is not one of debug, info, warn, error", ErrInvalidConfig, c.Logging.Level)
	}

	return nil
}

// ABOUTME: Session store interface and the component contract for per-session state
// ABOUTME: Sessions wraps a byte-level Backend with JSON encoding of component state

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/coven-runtime/internal/config"
)

// ErrSessionNotFound is returned when a session has no saved record.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidSessionID is returned when a session id cannot be used as a key.
var ErrInvalidSessionID = errors.New("invalid session id")

// ErrUnknownBackend is returned by New for an unrecognised backend kind.
var ErrUnknownBackend = errors.New("unknown session backend")

// Component is a piece of handler state that takes part in session persistence.
type Component interface {
	// StateDict returns a JSON-serializable snapshot of the component.
	StateDict() (any, error)
	// LoadStateDict replaces the component's state with a saved snapshot.
	LoadStateDict(state json.RawMessage) error
}

// Store persists named component state keyed by session id.
type Store interface {
	Save(ctx context.Context, sessionID string, components map[string]Component) error
	Load(ctx context.Context, sessionID string, allowMissing bool, components map[string]Component) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Backend stores opaque session records. Get returns ErrSessionNotFound when
// no record exists.
type Backend interface {
	Put(ctx context.Context, sessionID string, data []byte) error
	Get(ctx context.Context, sessionID string) ([]byte, error)
	Exists(ctx context.Context, sessionID string) (bool, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Sessions implements Store over any Backend. A record is a JSON object
// mapping component name to that component's state.
type Sessions struct {
	backend Backend
	logger  *slog.Logger
}

// NewSessions wraps backend.
func NewSessions(backend Backend, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		backend: backend,
		logger:  logger.With("component", "session-store"),
	}
}

// New builds the session store selected by cfg.Backend.
func New(cfg config.SessionConfig, logger *slog.Logger) (*Sessions, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case config.BackendJSON, config.BackendFile, "":
		backend = NewFileBackend(cfg.SaveDir)
	case config.BackendDatabase:
		backend, err = NewSQLBackend(cfg.URL, cfg.Driver, cfg.Table, logger)
	case config.BackendRedis:
		backend, err = NewRedisBackend(cfg.URL, cfg.Prefix, cfg.TTL.Std())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s session backend: %w", cfg.Backend, err)
	}

	logger.Info("session store ready", "backend", cfg.Backend)
	return NewSessions(backend, logger), nil
}

// Save snapshots every component and overwrites the session record.
func (s *Sessions) Save(ctx context.Context, sessionID string, components map[string]Component) error {
	if err := validateID(sessionID); err != nil {
		return err
	}

	record := make(map[string]any, len(components))
	for name, c := range components {
		state, err := c.StateDict()
		if err != nil {
			return fmt.Errorf("snapshotting component %q: %w", name, err)
		}
		record[name] = state
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sessionID, err)
	}

	if err := s.backend.Put(ctx, sessionID, data); err != nil {
		return fmt.Errorf("saving session %s: %w", sessionID, err)
	}

	s.logger.Debug("saved session", "session_id", sessionID, "components", len(components), "size", len(data))
	return nil
}

// Load restores components from the session record. Saved components with no
// live counterpart are ignored; live components absent from the record are
// left untouched. A missing record is a no-op when allowMissing is set.
func (s *Sessions) Load(ctx context.Context, sessionID string, allowMissing bool, components map[string]Component) error {
	if err := validateID(sessionID); err != nil {
		return err
	}

	data, err := s.backend.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		if allowMissing {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	var record map[string]json.RawMessage
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("decoding session %s: %w", sessionID, err)
	}

	for name, c := range components {
		state, ok := record[name]
		if !ok {
			continue
		}
		if err := c.LoadStateDict(state); err != nil {
			return fmt.Errorf("restoring component %q: %w", name, err)
		}
	}

	s.logger.Debug("loaded session", "session_id", sessionID, "components", len(record))
	return nil
}

// Exists reports whether a record is stored for sessionID.
func (s *Sessions) Exists(ctx context.Context, sessionID string) (bool, error) {
	if err := validateID(sessionID); err != nil {
		return false, err
	}
	return s.backend.Exists(ctx, sessionID)
}

// Delete removes the record for sessionID. Deleting a missing session is not an error.
func (s *Sessions) Delete(ctx context.Context, sessionID string) error {
	if err := validateID(sessionID); err != nil {
		return err
	}
	return s.backend.Delete(ctx, sessionID)
}

// Close releases the backend.
func (s *Sessions) Close() error {
	s.logger.Info("closing session store")
	return s.backend.Close()
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: contains NUL", ErrInvalidSessionID)
	}
	return nil
}

// ABOUTME: Named-slot registry holding live upstream clients for the runtime.
// ABOUTME: Lookups fail with an error that lists every registered slot name.

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// ErrSlotNotFound indicates the requested slot has no registered client.
var ErrSlotNotFound = errors.New("slot not found")

// SlotNotFoundError carries the missing slot and what was available instead.
type SlotNotFoundError struct {
	Kind      string
	Slot      string
	Available []string
}

func (e *SlotNotFoundError) Error() string {
	avail := "none"
	if len(e.Available) > 0 {
		avail = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("%s %q not found (available: %s)", e.Kind, e.Slot, avail)
}

// Is makes errors.Is(err, ErrSlotNotFound) hold.
func (e *SlotNotFoundError) Is(target error) bool {
	return target == ErrSlotNotFound
}

// Registry maps slot names to clients. Writes happen while the runtime
// initializes; afterwards it is read concurrently by request goroutines.
type Registry[T any] struct {
	kind    string
	mu      sync.RWMutex
	entries map[string]T
	order   []string
	logger  *slog.Logger
}

// New creates an empty registry. kind names the client type in errors and logs.
func New[T any](kind string, logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[T]{
		kind:    kind,
		entries: make(map[string]T),
		logger:  logger.With("component", "registry", "kind", kind),
	}
}

// Register stores client under name. A second registration replaces the first
// but keeps its original position in Names.
func (r *Registry[T]) Register(name string, client T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		r.logger.Warn("replacing registered slot", "slot", name)
	} else {
		r.order = append(r.order, name)
	}
	r.entries[name] = client
	r.logger.Debug("slot registered", "slot", name, "total", len(r.entries))
}

// Get returns the client for name or a *SlotNotFoundError.
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.entries[name]
	if !ok {
		avail := slices.Clone(r.order)
		slices.Sort(avail)
		var zero T
		return zero, &SlotNotFoundError{Kind: r.kind, Slot: name, Available: avail}
	}
	return client, nil
}

// Lookup is the tagged-result form of Get.
func (r *Registry[T]) Lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.entries[name]
	return client, ok
}

// Contains reports whether name is registered.
func (r *Registry[T]) Contains(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Len returns the number of registered slots.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns slot names in registration order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Clear empties the registry. Releasing the clients is the owner's job.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]T)
	r.order = nil
}

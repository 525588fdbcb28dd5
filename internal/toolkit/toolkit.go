// ABOUTME: Shared tool collection merged from every connected tool provider.
// ABOUTME: Renames colliding tool names deterministically and routes calls to the owner.

package toolkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/2389/coven-runtime/internal/mcp"
)

// ErrToolNotFound indicates no tool is registered under the requested name.
var ErrToolNotFound = errors.New("tool not found")

// ErrProviderAlreadyAdded indicates a provider with the same name was already merged.
var ErrProviderAlreadyAdded = errors.New("tool provider already added")

// Provider is a source of tools, normally an *mcp.Client.
type Provider interface {
	Name() string
	Tools() []mcp.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.Result, error)
}

// Func is an in-process tool implementation.
type Func func(ctx context.Context, args map[string]any) (*mcp.Result, error)

// Tool is an entry in the toolkit. Name is what callers use; Original is the
// name the owning provider advertised.
type Tool struct {
	Name        string
	Original    string
	Provider    string
	Description string
	InputSchema map[string]any

	fn Func
}

// Toolkit holds tools from all providers under unique names.
type Toolkit struct {
	mu        sync.RWMutex
	tools     map[string]*Tool
	order     []string
	providers map[string]Provider
	logger    *slog.Logger
}

// New creates an empty Toolkit.
func New(logger *slog.Logger) *Toolkit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolkit{
		tools:     make(map[string]*Tool),
		providers: make(map[string]Provider),
		logger:    logger.With("component", "toolkit"),
	}
}

// AddProvider merges every tool p advertises. A tool whose name is taken is
// exposed as name_provider, then name_provider_2, name_provider_3, and so on.
// Returns the exposed names in advertised order.
func (t *Toolkit) AddProvider(p Provider) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.providers[p.Name()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderAlreadyAdded, p.Name())
	}
	t.providers[p.Name()] = p

	var exposed []string
	for _, def := range p.Tools() {
		name := t.uniqueNameLocked(def.Name, p.Name())
		if name != def.Name {
			t.logger.Warn("tool name collision, renamed",
				"tool", def.Name,
				"provider", p.Name(),
				"exposed_as", name,
			)
		}
		t.tools[name] = &Tool{
			Name:        name,
			Original:    def.Name,
			Provider:    p.Name(),
			Description: def.Description,
			InputSchema: def.InputSchema,
		}
		t.order = append(t.order, name)
		exposed = append(exposed, name)
	}

	t.logger.Info("=== TOOL PROVIDER ADDED ===",
		"provider", p.Name(),
		"tool_count", len(exposed),
		"total_tools", len(t.tools),
	)
	return exposed, nil
}

// AddFunc registers an in-process tool, renaming on collision like AddProvider.
func (t *Toolkit) AddFunc(name, description string, schema map[string]any, fn Func) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	exposed := t.uniqueNameLocked(name, "local")
	t.tools[exposed] = &Tool{
		Name:        exposed,
		Original:    name,
		Description: description,
		InputSchema: schema,
		fn:          fn,
	}
	t.order = append(t.order, exposed)
	return exposed
}

func (t *Toolkit) uniqueNameLocked(name, provider string) string {
	if _, taken := t.tools[name]; !taken {
		return name
	}
	candidate := name + "_" + provider
	if _, taken := t.tools[candidate]; !taken {
		return candidate
	}
	for i := 2; ; i++ {
		next := fmt.Sprintf("%s_%d", candidate, i)
		if _, taken := t.tools[next]; !taken {
			return next
		}
	}
}

// RemoveProvider drops a provider and all tools it contributed.
func (t *Toolkit) RemoveProvider(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.providers[name]; !exists {
		return
	}
	delete(t.providers, name)

	t.order = slices.DeleteFunc(t.order, func(toolName string) bool {
		if t.tools[toolName].Provider == name {
			delete(t.tools, toolName)
			return true
		}
		return false
	})
}

// Get returns the tool exposed under name.
func (t *Toolkit) Get(name string) (Tool, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tool, ok := t.tools[name]
	if !ok {
		return Tool{}, false
	}
	return *tool, true
}

// Tools returns every tool in registration order.
func (t *Toolkit) Tools() []Tool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Tool, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.tools[name])
	}
	return out
}

// Len returns the number of tools.
func (t *Toolkit) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tools)
}

// Call invokes the tool exposed under name, translating back to the name its
// provider knows it by.
func (t *Toolkit) Call(ctx context.Context, name string, args map[string]any) (*mcp.Result, error) {
	t.mu.RLock()
	tool, ok := t.tools[name]
	var provider Provider
	if ok && tool.fn == nil {
		provider = t.providers[tool.Provider]
	}
	t.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if tool.fn != nil {
		return tool.fn(ctx, args)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: provider %s for %s is gone", ErrToolNotFound, tool.Provider, name)
	}
	return provider.CallTool(ctx, tool.Original, args)
}

// Clear removes all tools and providers.
func (t *Toolkit) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools = make(map[string]*Tool)
	t.providers = make(map[string]Provider)
	t.order = nil
}

// ABOUTME: Locates and instantiates the user handler for a project directory
// ABOUTME: PluginLoader opens a Go plugin; StaticLoader serves an in-process App

package handler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
)

var (
	// ErrHandlerNotFound indicates the project has no handler artifact.
	ErrHandlerNotFound = errors.New("handler not found")
	// ErrInvalidHandler indicates the artifact exists but does not provide an App.
	ErrInvalidHandler = errors.New("invalid handler")
)

// Loader produces the App for a project root.
type Loader interface {
	Load(projectRoot string) (App, error)
}

// Defaults for PluginLoader.
const (
	DefaultPluginFile = "app.so"
	DefaultSymbol     = "App"
)

// PluginLoader opens {projectRoot}/{File}, built with -buildmode=plugin, and
// looks up Symbol. The symbol may be an App value, a variable of type App, or
// a constructor func() App / func() (App, error).
type PluginLoader struct {
	File   string
	Symbol string
}

// Load implements Loader.
func (l PluginLoader) Load(projectRoot string) (App, error) {
	file, symbol := l.File, l.Symbol
	if file == "" {
		file = DefaultPluginFile
	}
	if symbol == "" {
		symbol = DefaultSymbol
	}

	path := filepath.Join(projectRoot, file)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, path)
		}
		return nil, fmt.Errorf("checking %s: %w", path, err)
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrInvalidHandler, path, err)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no symbol %s", ErrInvalidHandler, path, symbol)
	}
	return resolveSymbol(sym)
}

func resolveSymbol(sym any) (App, error) {
	switch v := sym.(type) {
	case App:
		return v, nil
	case *App:
		if v == nil || *v == nil {
			return nil, fmt.Errorf("%w: App variable is nil", ErrInvalidHandler)
		}
		return *v, nil
	case func() App:
		app := v()
		if app == nil {
			return nil, fmt.Errorf("%w: constructor returned nil", ErrInvalidHandler)
		}
		return app, nil
	case func() (App, error):
		app, err := v()
		if err != nil {
			return nil, fmt.Errorf("%w: constructor failed: %v", ErrInvalidHandler, err)
		}
		if app == nil {
			return nil, fmt.Errorf("%w: constructor returned nil", ErrInvalidHandler)
		}
		return app, nil
	default:
		return nil, fmt.Errorf("%w: symbol of type %T does not implement App", ErrInvalidHandler, sym)
	}
}

// StaticLoader returns a fixed App regardless of project root.
type StaticLoader struct {
	App App
}

// Load implements Loader.
func (s StaticLoader) Load(string) (App, error) {
	if s.App == nil {
		return nil, ErrHandlerNotFound
	}
	return s.App, nil
}

// ABOUTME: Contract between the runtime and the user-supplied request handler
// ABOUTME: Defines App, optional lifecycle hooks, session context, and session components

package handler

import (
	"context"
	"iter"

	"github.com/2389/coven-runtime/internal/config"
	"github.com/2389/coven-runtime/internal/message"
	"github.com/2389/coven-runtime/internal/model"
	"github.com/2389/coven-runtime/internal/store"
	"github.com/2389/coven-runtime/internal/toolkit"
)

// SessionContext identifies the conversation a request belongs to.
type SessionContext struct {
	SessionID string
	RequestID string
	Metadata  map[string]any

	// Components holds what SessionComponents returned for this request,
	// already restored from the session store. Nil for stateless apps.
	Components map[string]store.Component
}

// Resources is what a handler may borrow from the runtime. Clients belong to
// the runtime; handlers must not close them.
type Resources interface {
	Model(slot string) (model.ChatModel, error)
	MCP(slot string) (toolkit.Provider, error)
	Tools() *toolkit.Toolkit
	Config() *config.Config
}

// App handles one inbound message and yields reply units in order. Iteration
// stops early if the caller goes away; a non-nil error ends the stream.
type App interface {
	Handle(ctx context.Context, msg *message.Msg, sc *SessionContext) iter.Seq2[*message.Msg, error]
}

// Func adapts a function to App.
type Func func(ctx context.Context, msg *message.Msg, sc *SessionContext) iter.Seq2[*message.Msg, error]

// Handle calls f.
func (f Func) Handle(ctx context.Context, msg *message.Msg, sc *SessionContext) iter.Seq2[*message.Msg, error] {
	return f(ctx, msg, sc)
}

// Starter is implemented by apps that need setup once the runtime's clients
// are live. An error aborts initialization.
type Starter interface {
	OnStartup(ctx context.Context, res Resources) error
}

// Stopper is implemented by apps that need teardown before clients are released.
type Stopper interface {
	OnShutdown(ctx context.Context) error
}

// Stateful is implemented by apps whose per-session state should persist.
// SessionComponents is called once per request and must return components
// owned by that request; they are loaded before Handle, reach Handle through
// SessionContext.Components, and are saved after the stream completes.
type Stateful interface {
	SessionComponents(sc *SessionContext) map[string]store.Component
}

// Reply builds a single assistant unit.
func Reply(name string, content any) *message.Msg {
	return message.New(name, message.RoleAssistant, content)
}

// Once yields the given units and stops.
func Once(units ...*message.Msg) iter.Seq2[*message.Msg, error] {
	return func(yield func(*message.Msg, error) bool) {
		for _, u := range units {
			if !yield(u, nil) {
				return
			}
		}
	}
}

// Fail yields a single error.
func Fail(err error) iter.Seq2[*message.Msg, error] {
	return func(yield func(*message.Msg, error) bool) {
		yield(nil, err)
	}
}

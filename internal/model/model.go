// ABOUTME: Chat-model client contract and the provider table used to build clients
// ABOUTME: Unknown providers fail with an error listing what is supported

package model

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/2389/coven-runtime/internal/config"
	"github.com/2389/coven-runtime/internal/message"
)

// ErrUnknownProvider is returned for a provider name with no constructor.
var ErrUnknownProvider = errors.New("unknown model provider")

// Info describes a configured model client.
type Info struct {
	Slot     string
	Provider string
	Model    string
	Stream   bool
}

// ChatModel is a live connection to a chat-completion endpoint.
type ChatModel interface {
	Info() Info
	// Generate returns the complete reply.
	Generate(ctx context.Context, msgs []*message.Msg) (*message.Msg, error)
	// Stream yields text deltas as they arrive.
	Stream(ctx context.Context, msgs []*message.Msg) iter.Seq2[string, error]
	Close() error
}

// Constructor builds a client for one slot.
type Constructor func(slot string, cfg config.ModelConfig, logger *slog.Logger) (ChatModel, error)

// Compatible endpoints served through the OpenAI client.
const (
	DashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/"
	GeminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai/"
	OllamaBaseURL    = "http://localhost:11434/v1/"
)

var providers = map[string]Constructor{
	"openai":    newOpenAIProvider(""),
	"dashscope": newOpenAIProvider(DashScopeBaseURL),
	"gemini":    newOpenAIProvider(GeminiBaseURL),
	"ollama":    newOpenAIProvider(OllamaBaseURL),
	"anthropic": NewAnthropic,
}

// Providers returns the supported provider names, sorted.
func Providers() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New builds the client for a model slot.
func New(slot string, cfg config.ModelConfig, logger *slog.Logger) (ChatModel, error) {
	ctor, ok := providers[strings.ToLower(cfg.Provider)]
	if !ok {
		return nil, fmt.Errorf("%w %q for model %q (supported: %s)",
			ErrUnknownProvider, cfg.Provider, slot, strings.Join(Providers(), ", "))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return ctor(slot, cfg, logger.With("component", "model", "slot", slot, "provider", cfg.Provider))
}

// Respond streams when the model is configured to, otherwise yields the full
// reply as a single chunk.
func Respond(ctx context.Context, m ChatModel, msgs []*message.Msg) iter.Seq2[string, error] {
	if m.Info().Stream {
		return m.Stream(ctx, msgs)
	}
	return func(yield func(string, error) bool) {
		reply, err := m.Generate(ctx, msgs)
		if err != nil {
			yield("", err)
			return
		}
		yield(reply.Text(), nil)
	}
}

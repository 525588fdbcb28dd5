// ABOUTME: Anthropic Messages API client
// ABOUTME: System messages are lifted into the request's system blocks

package model

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/2389/coven-runtime/internal/config"
	"github.com/2389/coven-runtime/internal/message"
)

const defaultMaxTokens = 4096

// Anthropic is a ChatModel backed by github.com/anthropics/anthropic-sdk-go.
type Anthropic struct {
	client    anthropic.Client
	info      Info
	maxTokens int64
	reqOpts   []option.RequestOption
	logger    *slog.Logger
}

// NewAnthropic builds an Anthropic client from a model slot.
func NewAnthropic(slot string, cfg config.ModelConfig, logger *slog.Logger) (ChatModel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	settings := parseClientKwargs(cfg.ClientKwargs, cfg.Headers)
	if settings.hasRetries {
		opts = append(opts, option.WithMaxRetries(settings.maxRetries))
	}
	if settings.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(settings.timeout))
	}
	for k, v := range settings.headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	maxTokens := int64(defaultMaxTokens)
	var reqOpts []option.RequestOption
	for _, k := range sortedKwargs(cfg.GenerateKwargs) {
		v := cfg.GenerateKwargs[k]
		if k == "max_tokens" {
			if n, ok := toFloat(v); ok {
				maxTokens = int64(n)
				continue
			}
		}
		reqOpts = append(reqOpts, option.WithJSONSet(k, v))
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		info:      Info{Slot: slot, Provider: cfg.Provider, Model: cfg.Model, Stream: cfg.Streaming()},
		maxTokens: maxTokens,
		reqOpts:   reqOpts,
		logger:    logger,
	}, nil
}

// Info describes the client.
func (a *Anthropic) Info() Info {
	return a.info
}

func (a *Anthropic) params(msgs []*message.Msg) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.info.Model),
		MaxTokens: a.maxTokens,
	}
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Text()})
		case message.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text())))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text())))
		}
	}
	return params
}

// Generate sends one non-streaming Messages request.
func (a *Anthropic) Generate(ctx context.Context, msgs []*message.Msg) (*message.Msg, error) {
	resp, err := a.client.Messages.New(ctx, a.params(msgs), a.reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return message.New(a.info.Slot, message.RoleAssistant, text.String()), nil
}

// Stream yields text deltas from a streaming Messages request.
func (a *Anthropic) Stream(ctx context.Context, msgs []*message.Msg) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := a.client.Messages.NewStreaming(ctx, a.params(msgs), a.reqOpts...)
		defer stream.Close()

		for stream.Next() {
			ev, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			if !yield(delta.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("anthropic streaming: %w", err))
		}
	}
}

// Close is a no-op.
func (a *Anthropic) Close() error {
	return nil
}

// ABOUTME: OpenAI Chat Completions client, also used for OpenAI-compatible providers
// ABOUTME: Covers openai, dashscope, gemini, and ollama via per-provider base URLs

package model

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/2389/coven-runtime/internal/config"
	"github.com/2389/coven-runtime/internal/message"
)

// OpenAI is a ChatModel backed by github.com/openai/openai-go.
type OpenAI struct {
	client  openai.Client
	info    Info
	reqOpts []option.RequestOption
	logger  *slog.Logger
}

func newOpenAIProvider(defaultBaseURL string) Constructor {
	return func(slot string, cfg config.ModelConfig, logger *slog.Logger) (ChatModel, error) {
		if cfg.BaseURL == "" && defaultBaseURL != "" {
			cfg.BaseURL = defaultBaseURL
		}
		if cfg.APIKey == "" && defaultBaseURL == OllamaBaseURL {
			cfg.APIKey = "ollama"
		}
		return NewOpenAI(slot, cfg, logger)
	}
}

// NewOpenAI builds an OpenAI client from a model slot.
func NewOpenAI(slot string, cfg config.ModelConfig, logger *slog.Logger) (*OpenAI, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(withTrailingSlash(cfg.BaseURL)))
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

	var reqOpts []option.RequestOption
	for _, k := range sortedKwargs(cfg.GenerateKwargs) {
		reqOpts = append(reqOpts, option.WithJSONSet(k, cfg.GenerateKwargs[k]))
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		info:    Info{Slot: slot, Provider: cfg.Provider, Model: cfg.Model, Stream: cfg.Streaming()},
		reqOpts: reqOpts,
		logger:  logger,
	}, nil
}

// Info describes the client.
func (o *OpenAI) Info() Info {
	return o.info
}

func (o *OpenAI) params(msgs []*message.Msg) openai.ChatCompletionNewParams {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case message.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text()))
		default:
			out = append(out, openai.UserMessage(m.Text()))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:    o.info.Model,
		Messages: out,
	}
}

// Generate sends one non-streaming completion request.
func (o *OpenAI) Generate(ctx context.Context, msgs []*message.Msg) (*message.Msg, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(msgs), o.reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", o.info.Provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New(o.info.Provider + " completion returned no choices")
	}
	return message.New(o.info.Slot, message.RoleAssistant, resp.Choices[0].Message.Content), nil
}

// Stream yields content deltas from a streaming completion.
func (o *OpenAI) Stream(ctx context.Context, msgs []*message.Msg) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(msgs), o.reqOpts...)
		defer stream.Close()

		for stream.Next() {
			for _, ch := range stream.Current().Choices {
				if ch.Delta.Content == "" {
					continue
				}
				if !yield(ch.Delta.Content, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("%s streaming: %w", o.info.Provider, err))
		}
	}
}

// Close is a no-op; the SDK holds no long-lived connections of its own.
func (o *OpenAI) Close() error {
	return nil
}

func withTrailingSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// Package model builds chat-model clients from configuration slots.
//
// Supported providers:
//
//   - openai: github.com/openai/openai-go
//   - anthropic: github.com/anthropics/anthropic-sdk-go
//   - dashscope, gemini, ollama: the OpenAI client pointed at each
//     provider's OpenAI-compatible endpoint
//
// generate_kwargs are merged into every request body; client_kwargs accept
// max_retries, timeout (seconds), and default_headers.
package model

// ABOUTME: Converts free-form generate_kwargs and client_kwargs into SDK request options
// ABOUTME: Shared by the OpenAI-compatible and Anthropic clients

package model

import (
	"sort"
	"time"
)

// clientSettings are the client_kwargs both SDKs understand.
type clientSettings struct {
	maxRetries int
	hasRetries bool
	timeout    time.Duration
	headers    map[string]string
}

func parseClientKwargs(kwargs map[string]any, headers map[string]string) clientSettings {
	s := clientSettings{headers: make(map[string]string, len(headers))}
	for k, v := range headers {
		s.headers[k] = v
	}
	if n, ok := toFloat(kwargs["max_retries"]); ok {
		s.maxRetries, s.hasRetries = int(n), true
	}
	if n, ok := toFloat(kwargs["timeout"]); ok && n > 0 {
		s.timeout = time.Duration(n * float64(time.Second))
	}
	if h, ok := kwargs["default_headers"].(map[string]any); ok {
		for k, v := range h {
			if str, ok := v.(string); ok {
				s.headers[k] = str
			}
		}
	}
	return s
}

// sortedKwargs returns generate_kwargs keys in a stable order.
func sortedKwargs(kwargs map[string]any) []string {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

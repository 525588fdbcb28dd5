// ABOUTME: Ready-made session components for handlers
// ABOUTME: Values is a key/value bag and Memory is an ordered message history

package store

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/2389/coven-runtime/internal/message"
)

// Values is a concurrency-safe key/value component.
type Values struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewValues creates an empty Values.
func NewValues() *Values {
	return &Values{data: make(map[string]any)}
}

// Set stores v under k.
func (v *Values) Set(k string, val any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data[k] = val
}

// Get returns the value stored under k.
func (v *Values) Get(k string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.data[k]
	return val, ok
}

// StateDict returns a copy of the stored values.
func (v *Values) StateDict() (any, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.data))
	for k, val := range v.data {
		out[k] = val
	}
	return out, nil
}

// LoadStateDict replaces the stored values.
func (v *Values) LoadStateDict(state json.RawMessage) error {
	data := make(map[string]any)
	if err := json.Unmarshal(state, &data); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data = data
	return nil
}

// Memory is an append-only conversation history.
type Memory struct {
	mu   sync.RWMutex
	msgs []*message.Msg
}

// NewMemory creates an empty Memory.
func NewMemory() *Memory {
	return &Memory{}
}

// Add appends messages.
func (m *Memory) Add(msgs ...*message.Msg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msgs...)
}

// Messages returns a copy of the history.
func (m *Memory) Messages() []*message.Msg {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.msgs)
}

// Len returns the number of messages held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.msgs)
}

// StateDict returns the history as {"content": [...]}.
func (m *Memory) StateDict() (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.msgs
	if msgs == nil {
		msgs = []*message.Msg{}
	}
	return map[string]any{"content": slices.Clone(msgs)}, nil
}

// LoadStateDict replaces the history.
func (m *Memory) LoadStateDict(state json.RawMessage) error {
	var saved struct {
		Content []*message.Msg `json:"content"`
	}
	if err := json.Unmarshal(state, &saved); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = saved.Content
	return nil
}

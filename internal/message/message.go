// ABOUTME: Msg is the unit exchanged between callers, handlers, and the stream
// ABOUTME: Parses and validates inbound message objects and serializes outbound units

package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Roles a message may carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ErrInvalidMessage is returned when an inbound message object fails validation.
var ErrInvalidMessage = errors.New("invalid message")

// Msg is a single conversational message. Content is either a string or a
// list of content blocks and is passed through untouched.
type Msg struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Role      string         `json:"role"`
	Content   any            `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// New builds a message with a fresh id and timestamp.
func New(name, role string, content any) *Msg {
	return &Msg{
		ID:        uuid.NewString(),
		Name:      name,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Text returns Content when it is a plain string, or the concatenated text
// blocks when it is a block list.
func (m *Msg) Text() string {
	switch c := m.Content.(type) {
	case string:
		return c
	case []any:
		var buf bytes.Buffer
		for _, block := range c {
			b, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := b["text"].(string); ok {
				buf.WriteString(t)
			}
		}
		return buf.String()
	default:
		return ""
	}
}

// Parse decodes a message object from raw JSON. The object must carry a
// string name, a valid role, and a content field.
func Parse(raw json.RawMessage) (*Msg, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: message must be an object", ErrInvalidMessage)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var m Msg
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if _, ok := fields["name"]; !ok || m.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidMessage)
	}
	if _, ok := fields["content"]; !ok {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidMessage)
	}
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	case "":
		return nil, fmt.Errorf("%w: role is required", ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: role %q must be one of user, assistant, system", ErrInvalidMessage, m.Role)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == "" {
		m.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return &m, nil
}

// ABOUTME: Ordered slot maps decoded from YAML mappings
// ABOUTME: Preserves declaration order and rejects duplicate slot names

package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Slot is one named entry of a slot map.
type Slot[T any] struct {
	Name  string
	Value T
}

// Slots is a YAML mapping of slot name to descriptor that keeps the order the
// entries were declared in. Acquisition and release order depend on it.
type Slots[T any] []Slot[T]

// UnmarshalYAML decodes a mapping node entry by entry.
func (s *Slots[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*s = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of slot names", node.Line)
	}

	seen := make(map[string]bool, len(node.Content)/2)
	out := make(Slots[T], 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("line %d: %w: duplicate slot %q", key.Line, ErrInvalidConfig, key.Value)
		}
		seen[key.Value] = true

		var v T
		if err := val.Decode(&v); err != nil {
			return fmt.Errorf("slot %q: %w", key.Value, err)
		}
		out = append(out, Slot[T]{Name: key.Value, Value: v})
	}
	*s = out
	return nil
}

// Get returns the descriptor for name.
func (s Slots[T]) Get(name string) (T, bool) {
	for _, slot := range s {
		if slot.Name == name {
			return slot.Value, true
		}
	}
	var zero T
	return zero, false
}

// Names returns slot names in declaration order.
func (s Slots[T]) Names() []string {
	names := make([]string, len(s))
	for i, slot := range s {
		names[i] = slot.Name
	}
	return names
}

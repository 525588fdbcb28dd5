// ABOUTME: Duration type accepting either seconds or Go duration strings
// ABOUTME: Lets timeouts be written as 30, 2.5, or "90s" in YAML

package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration decoded from a number of seconds or a duration string.
type Duration time.Duration

// Seconds builds a Duration from whole seconds.
func Seconds(n int) Duration {
	return Duration(time.Duration(n) * time.Second)
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML parses numeric seconds first, then time.ParseDuration syntax.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a duration", node.Line)
	}
	if node.Value == "" || node.Tag == "!!null" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(node.Value, 64); err == nil {
		if secs < 0 {
			return fmt.Errorf("line %d: duration %q must not be negative", node.Line, node.Value)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: parsing duration %q: %w", node.Line, node.Value, err)
	}
	if parsed < 0 {
		return fmt.Errorf("line %d: duration %q must not be negative", node.Line, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// String renders the duration in Go syntax.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Package outfmt selects the rendering mode for command output. The mode
// rides the context so commands deep in a call chain can render without
// threading a flag through every signature.
package outfmt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode is an output rendering mode.
type Mode string

const (
	ModeText Mode = "text"
	ModeJSON Mode = "json"
	ModeYAML Mode = "yaml"
)

// Parse converts a --output flag value into a Mode. Empty selects text.
func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return ModeText, nil
	case "json":
		return ModeJSON, nil
	case "yaml":
		return ModeYAML, nil
	default:
		return "", fmt.Errorf("invalid --output %q (expected text, json, or yaml)", s)
	}
}

type ctxKey struct{}

// WithMode returns a context carrying the output mode.
func WithMode(ctx context.Context, m Mode) context.Context {
	return context.WithValue(ctx, ctxKey{}, m)
}

// FromContext returns the carried mode, defaulting to text.
func FromContext(ctx context.Context) Mode {
	if m, ok := ctx.Value(ctxKey{}).(Mode); ok {
		return m
	}
	return ModeText
}

// IsJSON reports whether the context selects JSON output.
func IsJSON(ctx context.Context) bool {
	return FromContext(ctx) == ModeJSON
}

// IsStructured reports whether the mode marshals values rather than
// rendering text. Interactive prompts must not run in a structured mode.
func IsStructured(ctx context.Context) bool {
	m := FromContext(ctx)
	return m == ModeJSON || m == ModeYAML
}

// WriteJSON writes v as indented JSON without HTML escaping.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteYAML writes v as YAML.
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Write renders v according to the mode in ctx. Structured modes marshal
// v; text mode calls the text function instead.
func Write(ctx context.Context, w io.Writer, v any, text func(io.Writer) error) error {
	switch FromContext(ctx) {
	case ModeJSON:
		return WriteJSON(w, v)
	case ModeYAML:
		return WriteYAML(w, v)
	default:
		return text(w)
	}
}

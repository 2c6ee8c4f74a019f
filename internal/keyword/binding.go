// Package keyword holds the capability binding registry and the command
// keyword matcher. The registry is read-mostly: handlers see an
// immutable snapshot, and configuration reload replaces the snapshot
// wholesale rather than mutating bindings in place.
package keyword

import (
	"fmt"
	"strings"
	"time"

	"github.com/moxley/arbiter/internal/capability"
	"github.com/moxley/arbiter/internal/config"
)

// ParameterMode controls where a binding's parameter comes from.
type ParameterMode int

const (
	// ModeExplicit uses the text the user (or directive) supplied as-is.
	ModeExplicit ParameterMode = iota
	// ModeImplicit derives the parameter from the original message and
	// conversation context via the parameter inferencer.
	ModeImplicit
	// ModeMixed prefers inference but falls back to supplied text.
	ModeMixed
)

// ParseParameterMode converts the configuration string form. Empty
// means explicit.
func ParseParameterMode(s string) (ParameterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "explicit":
		return ModeExplicit, nil
	case "implicit":
		return ModeImplicit, nil
	case "mixed":
		return ModeMixed, nil
	default:
		return ModeExplicit, fmt.Errorf("unknown parameter mode %q (valid: explicit, implicit, mixed)", s)
	}
}

func (m ParameterMode) String() string {
	switch m {
	case ModeImplicit:
		return "implicit"
	case ModeMixed:
		return "mixed"
	default:
		return "explicit"
	}
}

// PrefersInference reports whether the mode favors deriving the
// parameter from context over trusting supplied text.
func (m ParameterMode) PrefersInference() bool {
	return m == ModeImplicit || m == ModeMixed
}

// ContextFilter narrows how much collected context a binding receives.
type ContextFilter struct {
	MinDepth int
	MaxDepth int
}

// Binding maps a command keyword to a capability and its behavior.
type Binding struct {
	Keyword     string
	Capability  capability.ID
	Timeout     time.Duration
	Description string
	Enabled     bool

	AllowEmptyContent bool
	ContextFilter     *ContextFilter

	ParameterMode      ParameterMode
	ParameterSources   []string
	RequiredParameters []string

	ForceFinalTextPass bool

	// Reserved marks standalone-only keywords (help, apikey). They
	// match only when the whole command is exactly the keyword, and
	// they are never offered to or accepted from the routing model.
	Reserved bool
}

// Reserved standalone keyword names. These are handled by the bridge
// itself rather than dispatched to a capability.
const (
	KeywordHelp   = "help"
	KeywordAPIKey = "apikey"
)

// Parameter source names a binding may list. A binding whose sources
// omit "history" extracts its parameter from the message alone.
const (
	SourceMessage = "message"
	SourceHistory = "history"
)

// FromConfig converts configuration bindings into domain bindings,
// validating capabilities and parameter modes. Reserved keywords in
// the config are forced standalone.
func FromConfig(cfgs []config.BindingConfig) ([]Binding, error) {
	out := make([]Binding, 0, len(cfgs))
	for _, c := range cfgs {
		kw := strings.ToLower(strings.TrimSpace(c.Keyword))
		if kw == "" {
			return nil, fmt.Errorf("binding with empty keyword")
		}

		b := Binding{
			Keyword:            kw,
			Timeout:            time.Duration(c.TimeoutMs) * time.Millisecond,
			Description:        c.Description,
			Enabled:            c.IsEnabled(),
			AllowEmptyContent:  c.AllowEmptyContent,
			ParameterSources:   c.ParameterSources,
			RequiredParameters: c.RequiredParameters,
			ForceFinalTextPass: c.ForceFinalTextPass,
			Reserved:           kw == KeywordHelp || kw == KeywordAPIKey,
		}

		if !b.Reserved {
			id, err := capability.ParseID(c.Capability)
			if err != nil {
				return nil, fmt.Errorf("binding %q: %w", kw, err)
			}
			b.Capability = id
		}

		mode, err := ParseParameterMode(c.ParameterMode)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", kw, err)
		}
		b.ParameterMode = mode

		if c.ContextFilter.Enabled {
			b.ContextFilter = &ContextFilter{
				MinDepth: c.ContextFilter.MinDepth,
				MaxDepth: c.ContextFilter.MaxDepth,
			}
		}

		out = append(out, b)
	}
	return out, nil
}

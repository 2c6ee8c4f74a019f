package keyword

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the current binding snapshot and the command marker.
// Reads take a shared lock against the snapshot; Replace swaps the
// whole snapshot atomically on configuration reload.
type Registry struct {
	marker string

	mu       sync.RWMutex
	bindings []Binding // sorted by keyword length, longest first
}

// NewRegistry creates a registry. The reserved standalone bindings
// (help, apikey) are appended automatically when the configuration
// does not define them.
func NewRegistry(marker string, bindings []Binding) (*Registry, error) {
	if marker == "" {
		marker = "!"
	}
	r := &Registry{marker: marker}
	if err := r.Replace(bindings); err != nil {
		return nil, err
	}
	return r, nil
}

// Marker returns the command marker string (e.g. "!").
func (r *Registry) Marker() string {
	return r.marker
}

// Replace validates and atomically installs a new binding snapshot.
// On error the previous snapshot stays in place.
func (r *Registry) Replace(bindings []Binding) error {
	next := make([]Binding, len(bindings))
	copy(next, bindings)

	next = ensureReserved(next)

	seen := make(map[string]bool)
	for _, b := range next {
		if !b.Enabled {
			continue
		}
		k := strings.ToLower(b.Keyword)
		if seen[k] {
			return fmt.Errorf("duplicate enabled keyword %q", k)
		}
		seen[k] = true
	}

	sort.SliceStable(next, func(i, j int) bool {
		return len(next[i].Keyword) > len(next[j].Keyword)
	})

	r.mu.Lock()
	r.bindings = next
	r.mu.Unlock()
	return nil
}

// ensureReserved appends the standalone help/apikey bindings when the
// incoming set does not already carry them.
func ensureReserved(bindings []Binding) []Binding {
	have := make(map[string]bool)
	for _, b := range bindings {
		have[strings.ToLower(b.Keyword)] = true
	}
	if !have[KeywordHelp] {
		bindings = append(bindings, Binding{
			Keyword:     KeywordHelp,
			Description: "List available commands.",
			Enabled:     true,
			Reserved:    true,
		})
	}
	if !have[KeywordAPIKey] {
		bindings = append(bindings, Binding{
			Keyword:     KeywordAPIKey,
			Description: "Issue a personal activity key.",
			Enabled:     true,
			Reserved:    true,
		})
	}
	return bindings
}

// Bindings returns a copy of the current snapshot, longest keyword
// first.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, len(r.bindings))
	copy(out, r.bindings)
	return out
}

// Inferable returns the enabled, non-reserved bindings: the set the
// routing model may choose from and the set shown in the abilities
// directory.
func (r *Registry) Inferable() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		if b.Enabled && !b.Reserved {
			out = append(out, b)
		}
	}
	return out
}

// Lookup finds an enabled binding by exact keyword (case-insensitive).
func (r *Registry) Lookup(kw string) (Binding, bool) {
	kw = strings.ToLower(strings.TrimSpace(kw))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bindings {
		if b.Enabled && strings.ToLower(b.Keyword) == kw {
			return b, true
		}
	}
	return Binding{}, false
}

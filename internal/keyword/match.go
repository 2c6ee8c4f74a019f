package keyword

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Match resolves a raw message against the registry. Only text
// beginning with the command marker is eligible. The longest enabled
// keyword that prefix-matches on a word boundary wins; the remaining
// text is returned as the command body. Reserved keywords match only
// when the entire command is exactly the keyword.
//
// The boolean result distinguishes "no match" from a matched binding
// with an empty body.
func (r *Registry) Match(text string) (Binding, string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, r.marker) {
		return Binding{}, "", false
	}

	command := strings.TrimSpace(trimmed[len(r.marker):])
	if command == "" {
		return Binding{}, "", false
	}
	normalized := strings.ToLower(command)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bindings {
		if !b.Enabled {
			continue
		}
		kw := strings.ToLower(b.Keyword)

		if b.Reserved {
			// Standalone-only: the whole command must be the keyword.
			if normalized == kw {
				return b, "", true
			}
			continue
		}

		if !strings.HasPrefix(normalized, kw) {
			continue
		}
		rest := command[len(kw):]
		if rest != "" && !startsWithBoundary(rest) {
			continue
		}
		return b, strings.TrimSpace(rest), true
	}

	return Binding{}, "", false
}

// MatchDirective resolves the first line of a routing-model reply
// against the registry. The line must begin with an exact keyword
// (case-insensitive, word-bounded); trailing text on the same line is
// returned as an inline parameter. Reserved keywords are never
// inferable and are skipped entirely.
func (r *Registry) MatchDirective(line string) (Binding, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Binding{}, "", false
	}
	// Models occasionally echo the command marker in front of the
	// directive; tolerate it.
	line = strings.TrimPrefix(line, r.marker)
	line = strings.TrimSpace(line)
	normalized := strings.ToLower(line)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bindings {
		if !b.Enabled || b.Reserved {
			continue
		}
		kw := strings.ToLower(b.Keyword)
		if !strings.HasPrefix(normalized, kw) {
			continue
		}
		rest := line[len(kw):]
		if rest != "" && !startsWithBoundary(rest) {
			continue
		}
		return b, strings.TrimSpace(trimDirectivePunct(rest)), true
	}

	return Binding{}, "", false
}

// startsWithBoundary reports whether the remainder begins at a word
// boundary, so "nfl" does not match "nflx".
func startsWithBoundary(rest string) bool {
	r, _ := utf8.DecodeRuneInString(rest)
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// trimDirectivePunct drops separator punctuation models like to emit
// between the keyword and its argument ("WEATHER: austin tx").
func trimDirectivePunct(s string) string {
	return strings.TrimLeft(s, " \t:,-")
}

// Package capability defines the backend capability identifiers and the
// uniform request/response contract every capability service exposes.
package capability

import (
	"fmt"

	"github.com/moxley/arbiter/internal/chat"
)

// ID identifies one backend capability.
type ID string

const (
	// Chat is the generative-text backend. It doubles as the routing
	// oracle for ambient messages.
	Chat ID = "chat"
	// Image generates an image from a text prompt.
	Image ID = "image"
	// Search performs a web search.
	Search ID = "search"
	// Weather looks up weather conditions.
	Weather ID = "weather"
	// Sports fetches sports scores and standings.
	Sports ID = "sports"
	// Meme generates a meme image.
	Meme ID = "meme"
)

// All lists every known capability.
var All = []ID{Chat, Image, Search, Weather, Sports, Meme}

// ParseID validates a capability name from configuration.
func ParseID(s string) (ID, error) {
	for _, id := range All {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// ProducesMedia reports whether the capability's result is an artifact
// (image bytes) rather than text. Media results are returned untouched;
// text-oriented results may get a final conversational pass.
func (id ID) ProducesMedia() bool {
	return id == Image || id == Meme
}

// Result is the tagged outcome handed back to the caller for rendering.
// Exactly one of Text or Images is meaningful on success; Err carries
// the failure (busy, timeout, or capability error) otherwise.
type Result struct {
	Capability ID
	Success    bool
	Text       string
	Images     []chat.Attachment
	Err        error
}

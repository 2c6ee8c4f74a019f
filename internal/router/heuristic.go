package router

import (
	"regexp"
	"strings"

	"github.com/moxley/arbiter/internal/history"
)

// Classification tags a marker-free message the directive parse
// declined.
type Classification int

const (
	ClassNone Classification = iota
	ClassImage
	ClassMeme
)

// The pattern tables are data so they can be tested independently of
// the dispatch flow. Meme patterns are checked first; "make a meme"
// would otherwise classify as a generic creation request.
var memePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(make|create|generate|do)\b.*\bmemes?\b`),
	regexp.MustCompile(`(?i)^memes?\b`),
	regexp.MustCompile(`(?i)\bmeme\s+(of|about|with)\b`),
}

var imagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(draw|paint|sketch|render|illustrate)\b`),
	regexp.MustCompile(`(?i)\b(generate|create|make)\b.*\b(image|picture|drawing|illustration|photo|art)\b`),
	regexp.MustCompile(`(?i)\b(image|picture)\s+of\b`),
	regexp.MustCompile(`(?i)\bshow\s+me\b.*\b(image|picture)\b`),
}

// Classify runs the lexical pattern tables over a message.
func Classify(text string) Classification {
	for _, re := range memePatterns {
		if re.MatchString(text) {
			return ClassMeme
		}
	}
	for _, re := range imagePatterns {
		if re.MatchString(text) {
			return ClassImage
		}
	}
	return ClassNone
}

// promptStrippers peel request phrasing off the front of a classified
// message, applied repeatedly until none match. Order matters: the
// politeness wrappers come off before the verb, the verb before the
// artifact noun.
var promptStrippers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(please[,\s]+)?(can|could|would|will)\s+you\s+`),
	regexp.MustCompile(`(?i)^please\s+`),
	regexp.MustCompile(`(?i)^(draw|paint|sketch|render|illustrate|generate|create|make|show)\s+(me\s+|us\s+)?`),
	regexp.MustCompile(`(?i)^(an?\s+|the\s+|some\s+)?(image|picture|drawing|illustration|photo|art|meme)s?\s+(of|about|showing|with)\s+`),
}

// genericRefs are placeholder references that never stand alone as a
// derived prompt.
var genericRefs = map[string]bool{
	"this": true, "that": true, "it": true, "them": true,
	"one": true, "me": true, "us": true, "something": true,
	"anything": true, "whatever": true,
}

// DerivePrompt extracts a concrete subject from a classified message,
// or failing that from the most recent concrete prior turn in the
// collated history. It reports false when only generic placeholder
// references remain.
func DerivePrompt(text string, collated []history.Message) (string, bool) {
	if p, ok := stripPhrasing(text); ok {
		return p, true
	}
	return concreteFromHistory(collated)
}

// stripPhrasing removes leading request phrasing and validates what is
// left.
func stripPhrasing(text string) (string, bool) {
	s := strings.TrimSpace(text)
	for {
		stripped := false
		for _, re := range promptStrippers {
			if loc := re.FindStringIndex(s); loc != nil && loc[0] == 0 && loc[1] > 0 {
				s = strings.TrimSpace(s[loc[1]:])
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}
	s = strings.Trim(s, ".!?,;: ")
	if s == "" || isGeneric(s) {
		return "", false
	}
	return s, true
}

// isGeneric reports whether s is only placeholder references ("this",
// "that one", "it please").
func isGeneric(s string) bool {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		f = strings.Trim(f, ".!?,;:")
		if f == "" || f == "please" {
			continue
		}
		if !genericRefs[f] {
			return false
		}
	}
	return true
}

// concreteFromHistory scans collated context newest-first for a turn
// usable as a subject: user-authored, multi-word, not itself a
// creation request, and not a generic reference.
func concreteFromHistory(collated []history.Message) (string, bool) {
	for i := len(collated) - 1; i >= 0; i-- {
		m := collated[i]
		if m.Role != history.RoleUser {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if m.HasNamePrefix {
			if _, after, found := strings.Cut(content, ": "); found {
				content = after
			}
		}
		if content == "" || isGeneric(content) {
			continue
		}
		if len(strings.Fields(content)) < 2 {
			continue
		}
		// A prior creation request is meta, not subject matter.
		if Classify(content) != ClassNone {
			continue
		}
		return content, true
	}
	return "", false
}

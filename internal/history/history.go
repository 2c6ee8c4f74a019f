// Package history assembles bounded conversation context for the
// router. Three collectors (reply chain, channel history, DM history)
// each produce an ordered sequence of context messages from the
// platform message store; the collator merges reply-chain and channel
// sequences into one chronological, de-duplicated, budget-constrained
// sequence. All sequences live for a single request and are never
// persisted.
package history

import (
	"github.com/moxley/arbiter/internal/chat"
)

// Role classifies who produced a context message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Source records which collector produced a context message.
type Source string

const (
	SourceTrigger Source = "trigger"
	SourceReply   Source = "reply"
	SourceChannel Source = "channel"
	SourceThread  Source = "thread"
	SourceDM      Source = "dm"
)

// Message is one entry in a collected context sequence. Content is
// never empty once admitted; OriginID is the sole de-duplication key
// and is unique within one collection pass.
type Message struct {
	Role    Role
	Content string
	Source  Source

	// OriginID is the platform message ID, or empty for synthetic
	// entries that must never be de-duplicated against real ones.
	OriginID string

	// CreatedAt is unix milliseconds; 0 sorts as earliest.
	CreatedAt int64

	// HasNamePrefix reports that Content carries a "Name: " attribution
	// prefix because multiple human authors appear in the sequence.
	HasNamePrefix bool

	Images []chat.Attachment
}

// Budget bounds a collected or collated sequence by entry count and
// total content length.
type Budget struct {
	MaxDepth int
	MaxChars int
}

// size is the character cost of a message within a budget.
func size(m Message) int {
	return len(m.Content)
}

// totalSize sums the character cost of a sequence.
func totalSize(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += size(m)
	}
	return n
}

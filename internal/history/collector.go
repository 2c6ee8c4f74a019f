package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/moxley/arbiter/internal/chat"
	"github.com/moxley/arbiter/internal/markup"
)

// CollectorConfig holds a Collector's dependencies and platform
// identity.
type CollectorConfig struct {
	Store chat.Store
	// SelfID is the assistant's own platform user ID, used to classify
	// roles and to recognize its transient processing placeholder.
	SelfID string
	// Placeholder is the content of the assistant's transient
	// "processing" notice, which must never appear in context.
	Placeholder string
	// AllowBots permits context from other automated senders.
	AllowBots bool
	// ImageDepth is how many of the nearest reply-chain hops may carry
	// image attachments into the context.
	ImageDepth int
	Logger     *slog.Logger
}

// Collector gathers context sequences from the platform store. It is
// stateless between calls; every method reads the store fresh.
type Collector struct {
	store       chat.Store
	selfID      string
	placeholder string
	allowBots   bool
	imageDepth  int
	logger      *slog.Logger
}

// NewCollector creates a collector.
func NewCollector(cfg CollectorConfig) *Collector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		store:       cfg.Store,
		selfID:      cfg.SelfID,
		placeholder: cfg.Placeholder,
		allowBots:   cfg.AllowBots,
		imageDepth:  cfg.ImageDepth,
		logger:      logger,
	}
}

// ReplyChain follows the replied-to pointers starting at trigger, up to
// budget.MaxDepth hops, and returns the chain oldest-first. A visited
// set guards against forged reference cycles; fetch failures and the
// character budget terminate traversal while keeping everything
// collected so far. The triggering message itself is never included.
func (c *Collector) ReplyChain(ctx context.Context, trigger *chat.Message, budget Budget) []Message {
	visited := map[string]bool{trigger.ID: true}
	chars := 0

	// Collected newest-first while walking backwards; reversed at the end.
	var entries []Message
	authors := newAuthorSet(trigger, c.selfID)
	names := make(map[string]string)

	current := trigger.ReplyToID
	for hop := 0; hop < budget.MaxDepth && current != ""; hop++ {
		if visited[current] {
			c.logger.Debug("reply chain cycle detected", "message_id", current)
			break
		}
		visited[current] = true

		msg, err := c.store.FetchReference(ctx, trigger.ChannelID, current)
		if err != nil {
			if !errors.Is(err, chat.ErrNotFound) {
				c.logger.Debug("reply chain fetch failed", "message_id", current, "error", err)
			}
			break
		}

		content := markup.Strip(msg.Content)
		if content == "" && len(msg.Images) == 0 {
			current = msg.ReplyToID
			continue
		}

		cost := len(content)
		if msg.AuthorID != c.selfID {
			// Reserve room for a possible attribution prefix.
			cost += len(msg.AuthorName) + 2
		}
		if chars+cost > budget.MaxChars {
			break
		}
		chars += cost

		entry := Message{
			Role:      roleFor(msg, c.selfID),
			Content:   content,
			Source:    SourceReply,
			OriginID:  msg.ID,
			CreatedAt: msg.Timestamp,
		}
		if hop < c.imageDepth {
			entry.Images = msg.Images
		}
		authors.add(msg)
		names[msg.ID] = msg.AuthorName
		entries = append(entries, entry)

		current = msg.ReplyToID
	}

	reverse(entries)
	if authors.multiple() {
		applyNamePrefixes(entries, names)
	}
	return entries
}

// Channel fetches recent channel history around the trigger, oldest
// first, skipping the trigger itself, the assistant's processing
// placeholder, and (unless AllowBots) other automated senders. The
// result is trimmed from the oldest end to fit the budget, preserving
// the newest messages.
func (c *Collector) Channel(ctx context.Context, trigger *chat.Message, budget Budget) ([]Message, error) {
	// One extra tolerates the trigger appearing in the fetch window.
	raw, err := c.store.FetchRecent(ctx, trigger.ChannelID, trigger.ID, budget.MaxDepth+1)
	if err != nil {
		return nil, fmt.Errorf("fetch channel history: %w", err)
	}

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Timestamp < raw[j].Timestamp })

	authors := newAuthorSet(trigger, c.selfID)
	var kept []Message
	for i := range raw {
		msg := &raw[i]
		if msg.ID == trigger.ID {
			continue
		}
		if msg.AuthorID == c.selfID && strings.TrimSpace(msg.Content) == c.placeholder {
			continue
		}
		if msg.AuthorIsBot && msg.AuthorID != c.selfID && !c.allowBots {
			continue
		}
		content := markup.Strip(msg.Content)
		if content == "" {
			continue
		}
		authors.add(msg)
		kept = append(kept, Message{
			Role:      roleFor(msg, c.selfID),
			Content:   content,
			Source:    SourceChannel,
			OriginID:  msg.ID,
			CreatedAt: msg.Timestamp,
		})
	}

	if len(kept) > budget.MaxDepth {
		kept = kept[len(kept)-budget.MaxDepth:]
	}

	if authors.multiple() {
		names := make(map[string]string)
		for i := range raw {
			if raw[i].AuthorID != c.selfID {
				names[raw[i].ID] = raw[i].AuthorName
			}
		}
		applyNamePrefixes(kept, names)
	}

	kept = trimOldest(kept, budget.MaxChars)
	return kept, nil
}

// DM fetches direct-message history, oldest first. Same mechanics as
// Channel without the multi-author and cross-bot handling: a private
// conversation has exactly one human.
func (c *Collector) DM(ctx context.Context, trigger *chat.Message, budget Budget) ([]Message, error) {
	raw, err := c.store.FetchRecent(ctx, trigger.ChannelID, trigger.ID, budget.MaxDepth+1)
	if err != nil {
		return nil, fmt.Errorf("fetch dm history: %w", err)
	}

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Timestamp < raw[j].Timestamp })

	var kept []Message
	for i := range raw {
		msg := &raw[i]
		if msg.ID == trigger.ID {
			continue
		}
		if msg.AuthorID == c.selfID && strings.TrimSpace(msg.Content) == c.placeholder {
			continue
		}
		content := markup.Strip(msg.Content)
		if content == "" {
			continue
		}
		kept = append(kept, Message{
			Role:      roleFor(msg, c.selfID),
			Content:   content,
			Source:    SourceDM,
			OriginID:  msg.ID,
			CreatedAt: msg.Timestamp,
		})
	}

	if len(kept) > budget.MaxDepth {
		kept = kept[len(kept)-budget.MaxDepth:]
	}
	kept = trimOldest(kept, budget.MaxChars)
	return kept, nil
}

// trimOldest drops entries from the oldest end until the sequence fits
// maxChars, always keeping at least the newest entry.
func trimOldest(msgs []Message, maxChars int) []Message {
	total := totalSize(msgs)
	for len(msgs) > 1 && total > maxChars {
		total -= size(msgs[0])
		msgs = msgs[1:]
	}
	if len(msgs) == 1 && size(msgs[0]) > maxChars {
		// A single oversized entry is kept rather than leaving the
		// newest turn with no context at all.
		return msgs
	}
	return msgs
}

func roleFor(msg *chat.Message, selfID string) Role {
	if msg.AuthorID == selfID {
		return RoleAssistant
	}
	return RoleUser
}

// authorSet tracks distinct human authors across a collection pass,
// including the trigger author.
type authorSet struct {
	selfID string
	ids    map[string]bool
}

func newAuthorSet(trigger *chat.Message, selfID string) *authorSet {
	s := &authorSet{selfID: selfID, ids: make(map[string]bool)}
	s.add(trigger)
	return s
}

func (s *authorSet) add(msg *chat.Message) {
	if msg.AuthorID != "" && msg.AuthorID != s.selfID && !msg.AuthorIsBot {
		s.ids[msg.AuthorID] = true
	}
}

func (s *authorSet) multiple() bool {
	return len(s.ids) > 1
}

// applyNamePrefixes prefixes user-authored entries with their author's
// display name when more than one human appears in the conversation.
func applyNamePrefixes(msgs []Message, names map[string]string) {
	for i := range msgs {
		if msgs[i].Role != RoleUser {
			continue
		}
		name := names[msgs[i].OriginID]
		if name == "" {
			continue
		}
		msgs[i].Content = name + ": " + msgs[i].Content
		msgs[i].HasNamePrefix = true
	}
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

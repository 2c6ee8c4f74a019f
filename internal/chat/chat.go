// Package chat defines the platform-neutral message model and the narrow
// interfaces the router core uses to talk to the chat platform. The
// concrete implementation lives in internal/platform; everything above it
// depends only on these types so the transport can be swapped (or mocked
// in tests) without touching routing logic.
package chat

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Store.FetchReference] when the referenced
// message has been deleted or is otherwise inaccessible.
var ErrNotFound = errors.New("chat: message not found")

// Attachment is an image payload carried by a message.
type Attachment struct {
	ContentType string
	Data        []byte
}

// Message is a single platform message as the router core sees it.
type Message struct {
	ID        string
	ChannelID string
	Timestamp int64 // unix milliseconds; 0 when the platform omits it

	AuthorID    string
	AuthorName  string
	AuthorIsBot bool

	Content string

	// ReplyToID is the ID of the message this one replies to, or empty.
	ReplyToID string

	// DM reports whether the message arrived in a private conversation.
	DM bool

	Images []Attachment
}

// Store is the read side of the platform: reference lookups for reply
// chains and recent-history fetches for ambient context.
type Store interface {
	// FetchReference resolves a single message by ID within a channel.
	// Returns an error wrapping [ErrNotFound] for deleted messages.
	FetchReference(ctx context.Context, channelID, messageID string) (*Message, error)

	// FetchRecent returns up to limit messages from the channel sent
	// before the given message ID, newest first.
	FetchRecent(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error)
}

// Sender is the write side of the platform.
type Sender interface {
	// Send posts text (and optional images) to a channel and returns the
	// new message's ID.
	Send(ctx context.Context, channelID, text string, images []Attachment) (string, error)

	// Edit replaces the content of a previously sent message. Used to
	// turn the processing placeholder into the final response.
	Edit(ctx context.Context, channelID, messageID, text string) error

	// Delete removes a previously sent message. Best effort.
	Delete(ctx context.Context, channelID, messageID string) error
}

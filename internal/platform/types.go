// Package platform implements the chat-gateway WebSocket client and
// the bridge loop that feeds inbound messages to the routing engine.
// The rest of the system sees this package only through the chat.Store
// and chat.Sender interfaces.
package platform

import (
	"encoding/json"

	"github.com/moxley/arbiter/internal/chat"
)

// wsMessage is the generic gateway envelope. Requests carry an ID and
// an Op; the gateway answers with a "result" of the same ID. Inbound
// chat messages arrive as unsolicited "event" envelopes.
type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Op      string          `json:"op,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *wireMessage    `json:"event,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Gateway error codes we branch on.
const errCodeNotFound = "not_found"

// Request ops.
const (
	opFetchMessage  = "fetch_message"
	opFetchRecent   = "fetch_recent"
	opSendMessage   = "send_message"
	opEditMessage   = "edit_message"
	opDeleteMessage = "delete_message"
)

// wsResponse pairs a result with its success/error state for the
// pending-call map.
type wsResponse struct {
	Success bool
	Result  json.RawMessage
	Error   *wsError
}

// wireAttachment is an image payload on the wire.
type wireAttachment struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// wireMessage is the gateway's message representation.
type wireMessage struct {
	ID        string           `json:"id"`
	ChannelID string           `json:"channel_id"`
	Timestamp int64            `json:"timestamp,omitempty"`
	Author    wireAuthor       `json:"author"`
	Content   string           `json:"content"`
	ReplyToID string           `json:"reply_to_id,omitempty"`
	DM        bool             `json:"dm,omitempty"`
	Images    []wireAttachment `json:"images,omitempty"`
}

type wireAuthor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Bot  bool   `json:"bot,omitempty"`
}

func (w *wireMessage) toChat() *chat.Message {
	m := &chat.Message{
		ID:          w.ID,
		ChannelID:   w.ChannelID,
		Timestamp:   w.Timestamp,
		AuthorID:    w.Author.ID,
		AuthorName:  w.Author.Name,
		AuthorIsBot: w.Author.Bot,
		Content:     w.Content,
		ReplyToID:   w.ReplyToID,
		DM:          w.DM,
	}
	for _, a := range w.Images {
		m.Images = append(m.Images, chat.Attachment{ContentType: a.ContentType, Data: a.Data})
	}
	return m
}

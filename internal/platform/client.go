package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moxley/arbiter/internal/chat"
)

const (
	callTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	handshakeWait  = 10 * time.Second
	reconnectMin   = 1 * time.Second
	reconnectMax   = 30 * time.Second
	inboundBacklog = 64
)

// Client is a WebSocket client for the chat gateway. It multiplexes
// request/response calls over a single connection and surfaces inbound
// chat messages on Messages. It implements chat.Store and chat.Sender.
type Client struct {
	url    string
	token  string
	logger *slog.Logger

	msgID atomic.Int64

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[int64]chan wsResponse

	inbound chan chat.Message
}

// NewClient builds a client for the gateway at url, authenticating
// with token. Call Run to connect and maintain the session.
func NewClient(url, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     url,
		token:   token,
		logger:  logger,
		pending: make(map[int64]chan wsResponse),
		inbound: make(chan chat.Message, inboundBacklog),
	}
}

// Messages returns the stream of inbound chat messages. The channel is
// never closed; drain it for the life of the process.
func (c *Client) Messages() <-chan chat.Message { return c.inbound }

// Run connects to the gateway and reconnects with backoff until ctx is
// cancelled. It returns ctx.Err.
func (c *Client) Run(ctx context.Context) error {
	delay := reconnectMin
	for {
		err := c.connect(ctx)
		if err == nil {
			delay = reconnectMin
			err = c.readLoop(ctx)
		}
		c.closeConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("gateway connection lost, reconnecting", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

// connect dials the gateway and completes the auth handshake.
func (c *Client) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeWait)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	auth, err := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: c.token})
	if err != nil {
		conn.Close()
		return fmt.Errorf("encoding auth: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(wsMessage{Type: "auth", Data: auth}); err != nil {
		conn.Close()
		return fmt.Errorf("sending auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	var reply wsMessage
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return fmt.Errorf("reading auth reply: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	switch reply.Type {
	case "auth_ok":
	case "auth_invalid":
		conn.Close()
		return fmt.Errorf("gateway rejected credentials")
	default:
		conn.Close()
		return fmt.Errorf("unexpected handshake reply %q", reply.Type)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.logger.Info("connected to chat gateway", "url", c.url)
	return nil
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	// Fail every outstanding call so callers do not hang across a
	// reconnect.
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- wsResponse{Error: &wsError{Code: "disconnected", Message: "connection closed"}}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// readLoop routes incoming envelopes until the connection breaks or
// ctx is cancelled.
func (c *Client) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return fmt.Errorf("connection closed")
		}

		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}

		switch msg.Type {
		case "result":
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- wsResponse{Success: msg.Success, Result: msg.Result, Error: msg.Error}
			}
		case "event":
			if msg.Event == nil {
				continue
			}
			select {
			case c.inbound <- *msg.Event.toChat():
			default:
				c.logger.Warn("inbound message queue full, dropping message",
					"message_id", msg.Event.ID, "channel_id", msg.Event.ChannelID)
			}
		case "ping":
			c.writeMessage(wsMessage{ID: msg.ID, Type: "pong"})
		default:
			c.logger.Debug("ignoring gateway frame", "type", msg.Type)
		}
	}
}

func (c *Client) writeMessage(msg wsMessage) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

// call sends one request envelope and waits for its result.
func (c *Client) call(ctx context.Context, op string, data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", op, err)
	}

	id := c.msgID.Add(1)
	ch := make(chan wsResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.writeMessage(wsMessage{ID: id, Type: "request", Op: op, Data: raw}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != nil {
			if resp.Error.Code == errCodeNotFound {
				return nil, chat.ErrNotFound
			}
			return nil, fmt.Errorf("%s: %s: %s", op, resp.Error.Code, resp.Error.Message)
		}
		if !resp.Success {
			return nil, fmt.Errorf("%s: gateway reported failure", op)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-timer.C:
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: no reply after %s", op, callTimeout)
	}
}

// FetchReference implements chat.Store.
func (c *Client) FetchReference(ctx context.Context, channelID, messageID string) (*chat.Message, error) {
	raw, err := c.call(ctx, opFetchMessage, struct {
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
	}{channelID, messageID})
	if err != nil {
		return nil, err
	}
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	return wire.toChat(), nil
}

// FetchRecent implements chat.Store. Messages come back newest first.
func (c *Client) FetchRecent(ctx context.Context, channelID, beforeID string, limit int) ([]chat.Message, error) {
	raw, err := c.call(ctx, opFetchRecent, struct {
		ChannelID string `json:"channel_id"`
		BeforeID  string `json:"before_id,omitempty"`
		Limit     int    `json:"limit"`
	}{channelID, beforeID, limit})
	if err != nil {
		return nil, err
	}
	var wires []wireMessage
	if err := json.Unmarshal(raw, &wires); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	msgs := make([]chat.Message, 0, len(wires))
	for i := range wires {
		msgs = append(msgs, *wires[i].toChat())
	}
	return msgs, nil
}

// Send implements chat.Sender.
func (c *Client) Send(ctx context.Context, channelID, text string, images []chat.Attachment) (string, error) {
	atts := make([]wireAttachment, 0, len(images))
	for _, a := range images {
		atts = append(atts, wireAttachment{ContentType: a.ContentType, Data: a.Data})
	}
	raw, err := c.call(ctx, opSendMessage, struct {
		ChannelID string           `json:"channel_id"`
		Content   string           `json:"content"`
		Images    []wireAttachment `json:"images,omitempty"`
	}{channelID, text, atts})
	if err != nil {
		return "", err
	}
	var result struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decoding send result: %w", err)
	}
	return result.MessageID, nil
}

// Edit implements chat.Sender.
func (c *Client) Edit(ctx context.Context, channelID, messageID, text string) error {
	_, err := c.call(ctx, opEditMessage, struct {
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
		Content   string `json:"content"`
	}{channelID, messageID, text})
	return err
}

// Delete implements chat.Sender.
func (c *Client) Delete(ctx context.Context, channelID, messageID string) error {
	err := func() error {
		_, err := c.call(ctx, opDeleteMessage, struct {
			ChannelID string `json:"channel_id"`
			MessageID string `json:"message_id"`
		}{channelID, messageID})
		return err
	}()
	if errors.Is(err, chat.ErrNotFound) {
		// Already gone; deletion is idempotent.
		return nil
	}
	return err
}

package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moxley/arbiter/internal/capability"
	"github.com/moxley/arbiter/internal/chat"
	"github.com/moxley/arbiter/internal/events"
	"github.com/moxley/arbiter/internal/gateway"
)

// Handler abstracts the routing engine for testability. The real
// implementation is *router.Engine.
type Handler interface {
	Handle(ctx context.Context, msg *chat.Message) capability.Result
}

// handleTimeout bounds how long a single inbound message may be
// processed (routing + capability dispatch + response send).
const handleTimeout = 5 * time.Minute

// rateWindow is the sliding window for per-sender rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// DefaultPlaceholder is the transient text posted while a message is
// being processed. History collection skips messages with this exact
// content, so the bridge and the collector must agree on it.
const DefaultPlaceholder = "thinking..."

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Messages    <-chan chat.Message
	Sender      chat.Sender
	Engine      Handler
	Logger      *slog.Logger
	Bus         *events.Bus
	SelfID      string // the assistant's own platform user ID
	AllowBots   bool   // process messages from other automated senders
	RateLimit   int    // per sender per minute; 0 = unlimited
	Placeholder string // defaults to DefaultPlaceholder
}

// Bridge consumes inbound platform messages, routes them through the
// engine, and sends outcomes back to the originating channel.
type Bridge struct {
	messages    <-chan chat.Message
	sender      chat.Sender
	engine      Handler
	logger      *slog.Logger
	bus         *events.Bus
	selfID      string
	allowBots   bool
	rateLimit   int
	placeholder string

	mu          sync.Mutex
	senderTimes map[string][]time.Time
	lastCleanup time.Time
}

// NewBridge creates a platform message bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	return &Bridge{
		messages:    cfg.Messages,
		sender:      cfg.Sender,
		engine:      cfg.Engine,
		logger:      logger,
		bus:         cfg.Bus,
		selfID:      cfg.SelfID,
		allowBots:   cfg.AllowBots,
		rateLimit:   cfg.RateLimit,
		placeholder: placeholder,
		senderTimes: make(map[string][]time.Time),
	}
}

// Start consumes inbound messages until ctx is cancelled or the
// message channel closes.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("platform bridge started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("platform bridge shutting down")
			return
		case msg, ok := <-b.messages:
			if !ok {
				b.logger.Info("platform message channel closed, bridge stopping")
				return
			}

			if msg.AuthorID == b.selfID {
				continue
			}
			if msg.AuthorIsBot && !b.allowBots {
				b.logger.Debug("ignoring message from automated sender",
					"sender", msg.AuthorID,
				)
				continue
			}
			if msg.Content == "" && len(msg.Images) == 0 {
				continue
			}

			if !b.allowSender(msg.AuthorID) {
				b.logger.Warn("message rate-limited",
					"sender", msg.AuthorID,
					"channel_id", msg.ChannelID,
				)
				continue
			}

			b.bus.Publish(events.Event{
				Source: events.SourcePlatform,
				Kind:   events.KindMessageReceived,
				Data: map[string]any{
					"sender":      msg.AuthorID,
					"channel_id":  msg.ChannelID,
					"dm":          msg.DM,
					"message_len": len(msg.Content),
				},
			})

			b.handleMessage(ctx, msg)
		}
	}
}

// handleMessage processes a single inbound message: posts the
// processing placeholder, runs the routing engine, and replaces the
// placeholder with the outcome.
func (b *Bridge) handleMessage(ctx context.Context, msg chat.Message) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	b.logger.Info("message received",
		"sender", msg.AuthorID,
		"channel_id", msg.ChannelID,
		"dm", msg.DM,
		"message_len", len(msg.Content),
	)

	placeholderID, err := b.sender.Send(ctx, msg.ChannelID, b.placeholder, nil)
	if err != nil {
		b.logger.Warn("placeholder send failed",
			"channel_id", msg.ChannelID,
			"error", err,
		)
		placeholderID = ""
	}

	result := b.engine.Handle(ctx, &msg)
	text := renderResult(result)

	if err := b.deliver(ctx, msg.ChannelID, placeholderID, text, result.Images); err != nil {
		b.logger.Error("reply delivery failed",
			"sender", msg.AuthorID,
			"channel_id", msg.ChannelID,
			"capability", string(result.Capability),
			"error", err,
		)
		return
	}

	b.logger.Info("reply delivered",
		"sender", msg.AuthorID,
		"channel_id", msg.ChannelID,
		"capability", string(result.Capability),
		"success", result.Success,
	)
}

// deliver replaces the placeholder with the final outcome. Text-only
// outcomes edit the placeholder in place. Outcomes carrying images
// delete the placeholder and post fresh, since edits cannot attach
// media.
func (b *Bridge) deliver(ctx context.Context, channelID, placeholderID, text string, images []chat.Attachment) error {
	// Use a fresh context for delivery so the outcome still reaches
	// the channel after a routing timeout.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}

	if len(images) == 0 && placeholderID != "" {
		return b.sender.Edit(ctx, channelID, placeholderID, text)
	}

	if placeholderID != "" {
		if err := b.sender.Delete(ctx, channelID, placeholderID); err != nil {
			b.logger.Warn("placeholder delete failed",
				"channel_id", channelID,
				"error", err,
			)
		}
	}
	_, err := b.sender.Send(ctx, channelID, text, images)
	return err
}

// renderResult maps an engine result to user-facing reply text. All
// failure messages carry the capability name so the reader can tell a
// media failure from a chat failure.
func renderResult(res capability.Result) string {
	if res.Err == nil {
		return res.Text
	}
	name := string(res.Capability)
	switch {
	case errors.Is(res.Err, gateway.ErrBusy):
		return fmt.Sprintf("The %s capability is busy with another request. Try again in a moment.", name)
	case errors.Is(res.Err, gateway.ErrTimeout):
		return fmt.Sprintf("The %s capability timed out.", name)
	default:
		return fmt.Sprintf("The %s capability failed: %v", name, res.Err)
	}
}

// allowSender checks whether the sender is within the per-minute rate
// limit. Returns true if the message should be processed.
func (b *Bridge) allowSender(senderID string) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	timestamps := b.senderTimes[senderID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= b.rateLimit {
		b.senderTimes[senderID] = valid
		return false
	}

	b.senderTimes[senderID] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts stale sender entries. Must be called with
// b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for sender, timestamps := range b.senderTimes {
		if len(timestamps) == 0 {
			delete(b.senderTimes, sender)
			continue
		}
		if timestamps[len(timestamps)-1].Before(cutoff) {
			delete(b.senderTimes, sender)
		}
	}
}

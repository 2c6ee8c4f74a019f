// Package router decides what every inbound message means: ambient
// conversation, an explicit command, or an implicit capability request
// the generative backend surfaces through a first-line directive.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moxley/arbiter/internal/audit"
	"github.com/moxley/arbiter/internal/capability"
	"github.com/moxley/arbiter/internal/chat"
	"github.com/moxley/arbiter/internal/events"
	"github.com/moxley/arbiter/internal/gateway"
	"github.com/moxley/arbiter/internal/history"
	"github.com/moxley/arbiter/internal/infer"
	"github.com/moxley/arbiter/internal/keyword"
	"github.com/moxley/arbiter/internal/llm"
	"github.com/moxley/arbiter/internal/markup"
	"github.com/moxley/arbiter/internal/prompts"
)

// DefaultChatTimeout bounds the ambient generation call when no chat
// binding configures one.
const DefaultChatTimeout = 2 * time.Minute

// DefaultDispatchTimeout applies to bindings that configure no timeout
// and to synthetic heuristic dispatches.
const DefaultDispatchTimeout = 2 * time.Minute

// Auditor records routing decisions. The engine treats recording as
// best effort; a failed insert never fails the message.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Config wires an Engine.
type Config struct {
	AssistantName string
	Registry      *keyword.Registry
	Collector     *history.Collector
	Client        llm.Client
	Inferencer    *infer.Inferencer
	Gateway       *gateway.Gateway
	Invokers      map[capability.ID]capability.Invoker

	// Validity, Lister, Endpoint and Model drive the model availability
	// pre-check. All optional; leaving Validity nil skips the check.
	Validity *llm.Validity
	Lister   llm.ModelLister
	Endpoint string
	Model    string

	DirectBudget  history.Budget
	AmbientBudget history.Budget

	Bus    *events.Bus
	Audit  Auditor
	Logger *slog.Logger
}

// Engine is the two-stage router. One Engine serves all messages; each
// Handle call runs as a single sequential chain with no shared mutable
// state beyond the registry snapshot and the gateway.
type Engine struct {
	name      string
	registry  *keyword.Registry
	collector *history.Collector
	client    llm.Client
	inferrer  *infer.Inferencer
	gw        *gateway.Gateway
	invokers  map[capability.ID]capability.Invoker

	validity *llm.Validity
	lister   llm.ModelLister
	endpoint string
	model    string

	directBudget  history.Budget
	ambientBudget history.Budget

	bus    *events.Bus
	audit  Auditor
	logger *slog.Logger
}

// New creates a routing engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.AssistantName
	if name == "" {
		name = "Arbiter"
	}
	return &Engine{
		name:          name,
		registry:      cfg.Registry,
		collector:     cfg.Collector,
		client:        cfg.Client,
		inferrer:      cfg.Inferencer,
		gw:            cfg.Gateway,
		invokers:      cfg.Invokers,
		validity:      cfg.Validity,
		lister:        cfg.Lister,
		endpoint:      cfg.Endpoint,
		model:         cfg.Model,
		directBudget:  cfg.DirectBudget,
		ambientBudget: cfg.AmbientBudget,
		bus:           cfg.Bus,
		audit:         cfg.Audit,
		logger:        logger,
	}
}

// Handle routes one inbound message and returns the tagged outcome for
// the caller to render. The context carries the caller's cancellation;
// it is propagated into every backend call.
func (e *Engine) Handle(ctx context.Context, msg *chat.Message) capability.Result {
	started := time.Now()
	requestID := newRequestID()

	if b, body, ok := e.registry.Match(msg.Content); ok {
		if b.Reserved {
			return e.handleReserved(ctx, msg, b, requestID, started)
		}
		if b.Capability != capability.Chat {
			return e.explicitDispatch(ctx, msg, b, body, requestID, started)
		}
		// An explicit chat command goes through the ambient pipeline
		// with the body as content; the marker still suppresses the
		// heuristic chain.
		stripped := &chat.Message{}
		*stripped = *msg
		stripped.Content = body
		return e.ambient(ctx, stripped, requestID, started, true)
	}

	markerUsed := strings.HasPrefix(strings.TrimSpace(msg.Content), e.registry.Marker())
	return e.ambient(ctx, msg, requestID, started, markerUsed)
}

// handleReserved answers help and apikey locally. Neither touches the
// gateway.
func (e *Engine) handleReserved(ctx context.Context, msg *chat.Message, b keyword.Binding, requestID string, started time.Time) capability.Result {
	var text string
	switch b.Keyword {
	case keyword.KeywordHelp:
		text = e.helpText()
	case keyword.KeywordAPIKey:
		text = fmt.Sprintf("Your activity key: %s", newRequestID())
	default:
		text = e.helpText()
	}

	e.logger.Info("reserved command handled",
		"request_id", requestID,
		"keyword", b.Keyword,
		"requester", msg.AuthorName)
	e.record(ctx, audit.Entry{
		RequestID: requestID,
		Requester: msg.AuthorName,
		ChannelID: msg.ChannelID,
		Stage:     audit.StageReserved,
		Keyword:   b.Keyword,
		LatencyMs: time.Since(started).Milliseconds(),
		Success:   true,
	})
	return capability.Result{Success: true, Text: text}
}

// explicitDispatch sends the stripped command body straight to the
// capability. No context is collected and no inference runs; the user
// typed exactly what they want.
func (e *Engine) explicitDispatch(ctx context.Context, msg *chat.Message, b keyword.Binding, body, requestID string, started time.Time) capability.Result {
	if body == "" && !b.AllowEmptyContent {
		e.logger.Debug("explicit command missing body",
			"request_id", requestID,
			"keyword", b.Keyword)
		return capability.Result{
			Capability: b.Capability,
			Err: fmt.Errorf("%s%s needs something to work with, e.g. %s%s %s",
				e.registry.Marker(), b.Keyword, e.registry.Marker(), b.Keyword, exampleFor(b.Capability)),
		}
	}

	e.publish(events.KindRouteExplicit, map[string]any{
		"request_id": requestID,
		"keyword":    b.Keyword,
		"capability": string(b.Capability),
	})
	e.logger.Info("explicit dispatch",
		"request_id", requestID,
		"keyword", b.Keyword,
		"capability", b.Capability,
		"requester", msg.AuthorName)

	return e.dispatch(ctx, msg, b, body, audit.StageExplicit, requestID, started)
}

// ambient runs the message through the generative backend and parses
// the reply for a routing directive. markerUsed suppresses the
// heuristic fallback chain: an unrecognized explicit command must not
// be silently reinterpreted as free text.
func (e *Engine) ambient(ctx context.Context, msg *chat.Message, requestID string, started time.Time, markerUsed bool) capability.Result {
	raw := markup.Strip(msg.Content)

	if e.validity != nil && e.lister != nil {
		if !e.validity.Check(ctx, e.lister, e.endpoint, e.model) {
			err := fmt.Errorf("model %q is not available on %s", e.model, e.endpoint)
			e.record(ctx, audit.Entry{
				RequestID:  requestID,
				Requester:  msg.AuthorName,
				ChannelID:  msg.ChannelID,
				Stage:      audit.StageAmbient,
				Capability: string(capability.Chat),
				LatencyMs:  time.Since(started).Milliseconds(),
				Error:      err.Error(),
			})
			return capability.Result{Capability: capability.Chat, Err: err}
		}
	}

	collated := e.collect(ctx, msg)
	llmHistory := toLLMMessages(collated)
	system := prompts.DirectiveSystemPrompt(e.name, e.abilities())

	cctx, cancel := context.WithTimeout(ctx, e.chatTimeout())
	defer cancel()

	resp, err := gateway.Execute(cctx, e.gw, capability.Chat, func(ctx context.Context) (*llm.GenerateResponse, error) {
		return e.client.Generate(ctx, llm.GenerateRequest{
			System:  system,
			History: llmHistory,
			Prompt:  raw,
			Images:  attachmentBytes(msg.Images),
		})
	})
	if err != nil {
		// The model is the routing oracle; without it there is nothing
		// left to fall back to.
		e.logger.Error("ambient generation failed",
			"request_id", requestID,
			"error", err)
		e.record(ctx, audit.Entry{
			RequestID:  requestID,
			Requester:  msg.AuthorName,
			ChannelID:  msg.ChannelID,
			Stage:      audit.StageAmbient,
			Capability: string(capability.Chat),
			LatencyMs:  time.Since(started).Milliseconds(),
			Error:      err.Error(),
		})
		return capability.Result{Capability: capability.Chat, Err: err}
	}

	if b, inline, ok := e.registry.MatchDirective(firstLine(resp.Text)); ok {
		param := e.resolveParameter(ctx, b, inline, raw, llmHistory)
		e.publish(events.KindRouteDirective, map[string]any{
			"request_id": requestID,
			"keyword":    b.Keyword,
			"capability": string(b.Capability),
		})
		e.logger.Info("directive dispatch",
			"request_id", requestID,
			"keyword", b.Keyword,
			"capability", b.Capability,
			"parameter", param)
		return e.dispatch(ctx, msg, b, param, audit.StageDirective, requestID, started)
	}

	if !markerUsed {
		if res, ok := e.heuristic(ctx, msg, raw, collated, requestID, started); ok {
			return res
		}
	}

	e.publish(events.KindRouteAmbient, map[string]any{"request_id": requestID})
	e.record(ctx, audit.Entry{
		RequestID:  requestID,
		Requester:  msg.AuthorName,
		ChannelID:  msg.ChannelID,
		Stage:      audit.StageAmbient,
		Capability: string(capability.Chat),
		LatencyMs:  time.Since(started).Milliseconds(),
		Success:    true,
	})
	return capability.Result{Capability: capability.Chat, Success: true, Text: resp.Text}
}

// resolveParameter applies the documented precedence: bindings without
// required parameters take the inline text as-is; inference-preferring
// bindings try the inferencer against the original content first,
// unless the raw message was nothing but the keyword, in which case the
// inline text is trusted; the inline text is the fallback, and the raw
// content the last resort. Dispatch is never blocked on a failed
// inference.
func (e *Engine) resolveParameter(ctx context.Context, b keyword.Binding, inline, raw string, llmHistory []llm.Message) string {
	if len(b.RequiredParameters) == 0 {
		return inline
	}

	bareKeyword := strings.EqualFold(strings.TrimSpace(raw), b.Keyword)
	if b.ParameterMode.PrefersInference() && !bareKeyword && e.inferrer != nil {
		if p, ok := e.inferParam(ctx, b, raw, inferenceHistory(b, llmHistory)); ok {
			return p
		}
	}
	if inline != "" {
		return inline
	}
	return raw
}

// inferParam runs parameter extraction under the chat gateway slot so
// an extraction call cannot overlap an in-flight generation. A busy
// slot counts as a failed inference and falls through.
func (e *Engine) inferParam(ctx context.Context, b keyword.Binding, raw string, llmHistory []llm.Message) (string, bool) {
	type inferred struct {
		param string
		ok    bool
	}
	out, err := gateway.Execute(ctx, e.gw, capability.Chat, func(ctx context.Context) (inferred, error) {
		p, ok := e.inferrer.Infer(ctx, b, raw, llmHistory)
		return inferred{param: p, ok: ok}, nil
	})
	if err != nil {
		return "", false
	}
	return out.param, out.ok
}

// inferenceHistory applies the binding's parameter sources and context
// filter to the history the extraction call sees. A binding that lists
// parameter sources without "history" infers from the message alone; a
// context filter caps the window at its MaxDepth newest entries and
// drops the window entirely when fewer than MinDepth remain.
func inferenceHistory(b keyword.Binding, msgs []llm.Message) []llm.Message {
	if len(b.ParameterSources) > 0 && !slices.Contains(b.ParameterSources, keyword.SourceHistory) {
		return nil
	}
	f := b.ContextFilter
	if f == nil {
		return msgs
	}
	if f.MaxDepth > 0 && len(msgs) > f.MaxDepth {
		msgs = msgs[len(msgs)-f.MaxDepth:]
	}
	if len(msgs) < f.MinDepth {
		return nil
	}
	return msgs
}

// heuristic is the lexical fallback chain for marker-free messages the
// directive parse missed. It reports false when the message does not
// classify or no concrete prompt can be derived.
func (e *Engine) heuristic(ctx context.Context, msg *chat.Message, raw string, collated []history.Message, requestID string, started time.Time) (capability.Result, bool) {
	var capID capability.ID
	switch Classify(raw) {
	case ClassMeme:
		capID = capability.Meme
	case ClassImage:
		capID = capability.Image
	default:
		return capability.Result{}, false
	}

	prompt, ok := DerivePrompt(raw, collated)
	if !ok {
		return capability.Result{}, false
	}
	if _, exists := e.invokers[capID]; !exists {
		return capability.Result{}, false
	}

	b, found := e.bindingFor(capID)
	if !found {
		b = keyword.Binding{Capability: capID, Timeout: DefaultDispatchTimeout, Enabled: true}
	}

	e.publish(events.KindRouteHeuristic, map[string]any{
		"request_id": requestID,
		"capability": string(capID),
	})
	e.logger.Info("heuristic dispatch",
		"request_id", requestID,
		"capability", capID,
		"prompt", prompt)
	return e.dispatch(ctx, msg, b, prompt, audit.StageHeuristic, requestID, started), true
}

// dispatch executes the capability through the gateway, applying the
// binding's timeout and the optional final conversational pass for
// text-oriented data sources.
func (e *Engine) dispatch(ctx context.Context, msg *chat.Message, b keyword.Binding, param, stage, requestID string, started time.Time) capability.Result {
	inv := e.invokers[b.Capability]
	if inv == nil {
		err := fmt.Errorf("no backend configured for capability %q", b.Capability)
		e.record(ctx, audit.Entry{
			RequestID:  requestID,
			Requester:  msg.AuthorName,
			ChannelID:  msg.ChannelID,
			Stage:      stage,
			Keyword:    b.Keyword,
			Capability: string(b.Capability),
			Parameter:  param,
			LatencyMs:  time.Since(started).Milliseconds(),
			Error:      err.Error(),
		})
		return capability.Result{Capability: b.Capability, Err: err}
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := gateway.Execute(cctx, e.gw, b.Capability, func(ctx context.Context) (*capability.Result, error) {
		return inv.Invoke(ctx, capability.Request{
			Requester: msg.AuthorName,
			Input:     param,
			Images:    msg.Images,
		})
	})
	if err != nil {
		e.logger.Warn("capability dispatch failed",
			"request_id", requestID,
			"capability", b.Capability,
			"error", err)
		e.record(ctx, audit.Entry{
			RequestID:  requestID,
			Requester:  msg.AuthorName,
			ChannelID:  msg.ChannelID,
			Stage:      stage,
			Keyword:    b.Keyword,
			Capability: string(b.Capability),
			Parameter:  param,
			LatencyMs:  time.Since(started).Milliseconds(),
			Error:      err.Error(),
		})
		return capability.Result{Capability: b.Capability, Err: err}
	}

	out := *res
	if b.ForceFinalTextPass && !b.Capability.ProducesMedia() && out.Text != "" {
		out.Text = e.finalPass(ctx, b, param, out.Text)
	}

	e.record(ctx, audit.Entry{
		RequestID:  requestID,
		Requester:  msg.AuthorName,
		ChannelID:  msg.ChannelID,
		Stage:      stage,
		Keyword:    b.Keyword,
		Capability: string(b.Capability),
		Parameter:  param,
		LatencyMs:  time.Since(started).Milliseconds(),
		Success:    true,
	})
	return out
}

// finalPass rewrites a raw data payload into a conversational answer.
// The call holds the chat gateway slot like any other generation. On
// any failure the raw text is kept; a second model call must never
// lose a result we already have.
func (e *Engine) finalPass(ctx context.Context, b keyword.Binding, request, rawResult string) string {
	cctx, cancel := context.WithTimeout(ctx, e.chatTimeout())
	defer cancel()

	resp, err := gateway.Execute(cctx, e.gw, capability.Chat, func(ctx context.Context) (*llm.GenerateResponse, error) {
		return e.client.Generate(ctx, llm.GenerateRequest{
			Prompt: prompts.FinalPassPrompt(string(b.Capability), request, rawResult),
		})
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		e.logger.Warn("final text pass failed, keeping raw result",
			"capability", b.Capability,
			"error", err)
		return rawResult
	}
	return resp.Text
}

// collect assembles the collated context for one message. DMs use the
// DM history alone; channel messages merge the reply chain (when the
// trigger is a reply) with channel history under the ambient budget.
// Collection failures degrade to less context, never to a dropped
// message.
func (e *Engine) collect(ctx context.Context, msg *chat.Message) []history.Message {
	if msg.DM {
		dm, err := e.collector.DM(ctx, msg, e.ambientBudget)
		if err != nil {
			e.logger.Warn("DM history fetch failed", "channel", msg.ChannelID, "error", err)
			return nil
		}
		return dm
	}

	var direct []history.Message
	if msg.ReplyToID != "" {
		direct = e.collector.ReplyChain(ctx, msg, e.directBudget)
	}

	channel, err := e.collector.Channel(ctx, msg, e.ambientBudget)
	if err != nil {
		e.logger.Warn("channel history fetch failed", "channel", msg.ChannelID, "error", err)
	}

	return history.Collate(direct, channel, e.ambientBudget)
}

// abilities builds the capability directory for the directive prompt.
func (e *Engine) abilities() []prompts.Ability {
	bindings := e.registry.Inferable()
	out := make([]prompts.Ability, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, prompts.Ability{
			Keyword:     b.Keyword,
			Description: b.Description,
		})
	}
	return out
}

// helpText renders the command directory for the reserved help keyword.
func (e *Engine) helpText() string {
	marker := e.registry.Marker()
	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, b := range e.registry.Bindings() {
		if !b.Enabled {
			continue
		}
		desc := b.Description
		if desc == "" {
			switch b.Keyword {
			case keyword.KeywordHelp:
				desc = "show this list"
			case keyword.KeywordAPIKey:
				desc = "issue an activity key"
			}
		}
		fmt.Fprintf(&sb, "%s%s  %s\n", marker, b.Keyword, desc)
	}
	sb.WriteString("\nAnything else is ordinary conversation.")
	return sb.String()
}

// bindingFor returns the first enabled binding bound to id.
func (e *Engine) bindingFor(id capability.ID) (keyword.Binding, bool) {
	for _, b := range e.registry.Bindings() {
		if b.Enabled && !b.Reserved && b.Capability == id {
			return b, true
		}
	}
	return keyword.Binding{}, false
}

// chatTimeout is the chat binding's configured timeout, or the default.
func (e *Engine) chatTimeout() time.Duration {
	if b, ok := e.bindingFor(capability.Chat); ok && b.Timeout > 0 {
		return b.Timeout
	}
	return DefaultChatTimeout
}

func (e *Engine) publish(kind string, data map[string]any) {
	e.bus.Publish(events.Event{Source: events.SourceRouter, Kind: kind, Data: data})
}

func (e *Engine) record(ctx context.Context, entry audit.Entry) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		e.logger.Warn("audit record failed", "request_id", entry.RequestID, "error", err)
	}
}

// firstLine returns the first non-empty line of text, trimmed.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// toLLMMessages converts collated context into generation history.
func toLLMMessages(msgs []history.Message) []llm.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		role := llm.RoleUser
		switch m.Role {
		case history.RoleAssistant:
			role = llm.RoleAssistant
		case history.RoleSystem:
			role = llm.RoleSystem
		}
		out[i] = llm.Message{
			Role:    role,
			Content: m.Content,
			Images:  attachmentBytes(m.Images),
		}
	}
	return out
}

func attachmentBytes(atts []chat.Attachment) [][]byte {
	if len(atts) == 0 {
		return nil
	}
	out := make([][]byte, len(atts))
	for i, a := range atts {
		out[i] = a.Data
	}
	return out
}

// exampleFor gives the usage hint for an empty explicit command.
func exampleFor(id capability.ID) string {
	switch id {
	case capability.Image:
		return "a lighthouse at dusk"
	case capability.Search:
		return "go generics tutorial"
	case capability.Weather:
		return "austin tx"
	case capability.Sports:
		return "nfl"
	case capability.Meme:
		return "monday mornings"
	default:
		return "something"
	}
}

func newRequestID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

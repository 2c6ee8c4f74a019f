// Package infer derives structured capability parameters from
// natural-language requests using the generative backend.
package infer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/moxley/arbiter/internal/capability"
	"github.com/moxley/arbiter/internal/keyword"
	"github.com/moxley/arbiter/internal/llm"
	"github.com/moxley/arbiter/internal/prompts"
)

// maxParameterLen bounds what we accept from the model. Anything
// longer is the model chatting instead of extracting.
const maxParameterLen = 500

// hints gives each capability its extraction guidance.
var hints = map[capability.ID]string{
	capability.Image:   "Extract the scene or subject to draw, not the request to draw it.",
	capability.Meme:    "Extract the meme subject or caption idea.",
	capability.Search:  "Extract the search query.",
	capability.Weather: "Extract the location to look up.",
	capability.Sports:  "Extract the team, league, or matchup.",
}

// Inferencer extracts parameters with one generative call per
// invocation. Results are not cached; the same text can extract
// differently once context shifts.
type Inferencer struct {
	client llm.Client
	logger *slog.Logger
}

// New creates an inferencer backed by client.
func New(client llm.Client, logger *slog.Logger) *Inferencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inferencer{client: client, logger: logger}
}

// Infer derives the parameter for binding from rawContent. The history
// gives the model conversational context for pronoun-heavy requests.
// It reports false on backend failure, empty output, or the model
// declining; it never returns an error, so dispatch is never blocked
// on a failed extraction.
func (i *Inferencer) Infer(ctx context.Context, b keyword.Binding, rawContent string, history []llm.Message) (string, bool) {
	if strings.TrimSpace(rawContent) == "" {
		return "", false
	}

	prompt := prompts.ExtractionPrompt(b.Description, hints[b.Capability], rawContent)
	resp, err := i.client.Generate(ctx, llm.GenerateRequest{
		History: history,
		Prompt:  prompt,
	})
	if err != nil {
		i.logger.Warn("parameter inference failed",
			"keyword", b.Keyword,
			"capability", b.Capability,
			"error", err)
		return "", false
	}

	param, ok := cleanReply(resp.Text)
	if !ok {
		i.logger.Debug("parameter inference yielded nothing",
			"keyword", b.Keyword,
			"capability", b.Capability)
		return "", false
	}

	i.logger.Debug("parameter inferred",
		"keyword", b.Keyword,
		"capability", b.Capability,
		"parameter", param)
	return param, true
}

// cleanReply reduces a model reply to a usable parameter: first
// non-empty line, surrounding quotes stripped, sentinel and oversized
// replies rejected.
func cleanReply(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.Trim(line, `"'`)
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, prompts.ExtractionNone) {
			return "", false
		}
		if len(line) > maxParameterLen {
			return "", false
		}
		return line, true
	}
	return "", false
}

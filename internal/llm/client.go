// Package llm provides the model endpoint client used for ambient
// conversation, intent evaluation, and parameter extraction.
package llm

import "context"

// Role values for generation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversational context sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Images are raw attachment bytes for multimodal models.
	Images [][]byte `json:"-"`
}

// GenerateRequest describes a single generation call.
type GenerateRequest struct {
	// Model overrides the client's configured model when non-empty.
	Model string
	// System is the system prompt. Empty means no system turn.
	System string
	// History is prior conversational context, oldest first.
	History []Message
	// Prompt is the final user turn.
	Prompt string
	// Images attach to the final user turn.
	Images [][]byte
}

// GenerateResponse is the model's reply plus timing metadata.
type GenerateResponse struct {
	Text  string
	Model string
	// PromptTokens and OutputTokens are zero when the backend does not
	// report usage.
	PromptTokens int
	OutputTokens int
	// TotalDuration is the backend-reported wall time in nanoseconds.
	TotalDuration int64
}

// Client is implemented by model endpoint providers.
type Client interface {
	// Generate sends one generation request and returns the reply.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// Ping checks whether the endpoint is reachable.
	Ping(ctx context.Context) error
}

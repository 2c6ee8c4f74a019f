package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/moxley/arbiter/internal/httpkit"
)

// OllamaClient talks to an Ollama-compatible chat endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient creates a client for the endpoint at baseURL using
// model as the default. A zero timeout falls back to five minutes;
// large models loading from cold storage need the headroom.
func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithResponseHeaderTimeout(timeout),
		),
	}
}

// BaseURL returns the endpoint this client talks to.
func (c *OllamaClient) BaseURL() string { return c.baseURL }

// Model returns the default model name.
func (c *OllamaClient) Model() string { return c.model }

// chatMessage is the Ollama chat wire format. Images ride along as
// base64 strings on the message they belong to.
type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
}

// Generate sends a non-streaming chat completion request.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]chatMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, chatMessage{
			Role:    m.Role,
			Content: m.Content,
			Images:  encodeImages(m.Images),
		})
	}
	messages = append(messages, chatMessage{
		Role:    RoleUser,
		Content: req.Prompt,
		Images:  encodeImages(req.Images),
	})

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &GenerateResponse{
		Text:          cr.Message.Content,
		Model:         cr.Model,
		PromptTokens:  cr.PromptEvalCount,
		OutputTokens:  cr.EvalCount,
		TotalDuration: cr.TotalDuration,
	}, nil
}

func encodeImages(images [][]byte) []string {
	if len(images) == 0 {
		return nil
	}
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}
	return encoded
}

// Ping checks if the endpoint is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}

	return nil
}

// ListModels returns the model names the endpoint advertises.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

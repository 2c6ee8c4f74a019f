package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/moxley/arbiter/internal/chat"
	"github.com/moxley/arbiter/internal/httpkit"
)

// Request is the uniform payload sent to every capability backend.
type Request struct {
	// Requester names the person on whose behalf the work runs.
	Requester string
	// Input is the resolved parameter or prompt text.
	Input string
	// Images are attachments forwarded from the conversation.
	Images []chat.Attachment
}

// wireAttachment carries an attachment as base64 on the wire.
type wireAttachment struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type wireRequest struct {
	Requester string           `json:"requester"`
	Input     string           `json:"input"`
	Images    []wireAttachment `json:"images,omitempty"`
}

type wireResponse struct {
	Success bool             `json:"success"`
	Text    string           `json:"text,omitempty"`
	Images  []wireAttachment `json:"images,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Invoker executes a capability request and returns its result.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// ServiceClient invokes one capability backend over HTTP. All backends
// speak the same POST contract, so a single client type covers text
// generation, image rendering, search, and the rest.
type ServiceClient struct {
	id      ID
	baseURL string
	logger  *slog.Logger
	http    *http.Client
}

// NewServiceClient creates a client for the backend at baseURL. The
// timeout bounds the whole request; media backends legitimately take
// minutes, so the response header timeout is raised to match.
func NewServiceClient(id ID, baseURL string, timeout time.Duration, logger *slog.Logger) *ServiceClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceClient{
		id:      id,
		baseURL: baseURL,
		logger:  logger,
		http: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithResponseHeaderTimeout(timeout),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

// ID returns the capability this client serves.
func (c *ServiceClient) ID() ID { return c.id }

// Invoke posts the request to the backend and decodes its reply. A
// response with success=false becomes an error so the caller's failure
// handling stays uniform with transport errors.
func (c *ServiceClient) Invoke(ctx context.Context, req Request) (*Result, error) {
	wr := wireRequest{
		Requester: req.Requester,
		Input:     req.Input,
	}
	for _, img := range req.Images {
		wr.Images = append(wr.Images, wireAttachment{
			ContentType: img.ContentType,
			Data:        img.Data,
		})
	}

	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", c.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s backend: status %d: %s",
			c.id, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s backend: decode response: %w", c.id, err)
	}

	c.logger.Debug("capability backend responded",
		"capability", c.id,
		"success", out.Success,
		"elapsed", time.Since(started),
		"images", len(out.Images))

	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "backend reported failure"
		}
		return nil, fmt.Errorf("%s backend: %s", c.id, msg)
	}

	result := &Result{
		Capability: c.id,
		Success:    true,
		Text:       out.Text,
	}
	for _, img := range out.Images {
		result.Images = append(result.Images, chat.Attachment{
			ContentType: img.ContentType,
			Data:        img.Data,
		})
	}
	return result, nil
}

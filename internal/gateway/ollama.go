package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/iris/pkg/utils"
	"go.uber.org/zap"
)

const (
	defaultBackoff = 500 * time.Millisecond
	healthPrompt   = "Reply with: OK"
)

// OllamaClient talks to an Ollama server's /api/chat and /api/generate endpoints.
// Each call is retried up to maxRetries times on transport failure or non-2xx status.
type OllamaClient struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	numPredict int
	backoff    time.Duration
	logger     *zap.Logger
}

var _ Gateway = (*OllamaClient)(nil)

// Option configures an OllamaClient.
type Option func(*OllamaClient)

// WithHTTPClient replaces the HTTP client (and therefore the per-call timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(o *OllamaClient) { o.client = c }
}

// WithLogger sets a logger for failed attempts.
func WithLogger(l *zap.Logger) Option {
	return func(o *OllamaClient) { o.logger = l }
}

// WithBackoff sets the base delay between retries; it doubles per attempt.
func WithBackoff(d time.Duration) Option {
	return func(o *OllamaClient) { o.backoff = d }
}

// WithNumPredict caps the number of generated tokens. Zero leaves the server default.
func WithNumPredict(n int) Option {
	return func(o *OllamaClient) { o.numPredict = n }
}

// NewOllamaClient creates a client for baseURL with a per-call timeout and a bounded retry count.
func NewOllamaClient(baseURL string, timeout time.Duration, maxRetries int, opts ...Option) *OllamaClient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	o := &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff:    defaultBackoff,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// BaseURL returns the server base URL.
func (o *OllamaClient) BaseURL() string { return o.baseURL }

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Chat implements Gateway.
func (o *OllamaClient) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	var out chatResponse
	err := o.post(ctx, "chat", "/api/chat", model, chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  o.options(),
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

// Generate implements Gateway.
func (o *OllamaClient) Generate(ctx context.Context, model, prompt string, images []string) (string, error) {
	var out generateResponse
	err := o.post(ctx, "generate", "/api/generate", model, generateRequest{
		Model:   model,
		Prompt:  prompt,
		Images:  images,
		Stream:  false,
		Options: o.options(),
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Response, nil
}

// HealthStatus is the result of a gateway health probe.
type HealthStatus struct {
	Status          string `json:"status"`
	BaseURL         string `json:"base_url"`
	Model           string `json:"model"`
	ResponsePreview string `json:"response_preview"`
}

// Health sends a trivial chat request and reports a short preview of the reply.
func (o *OllamaClient) Health(ctx context.Context, model string) (*HealthStatus, error) {
	reply, err := o.Chat(ctx, model, []Message{{Role: "user", Content: healthPrompt}})
	if err != nil {
		return nil, err
	}
	return &HealthStatus{
		Status:          "ok",
		BaseURL:         o.baseURL,
		Model:           model,
		ResponsePreview: utils.Preview(strings.TrimSpace(reply), 60),
	}, nil
}

func (o *OllamaClient) options() map[string]any {
	if o.numPredict <= 0 {
		return nil
	}
	return map[string]any{"num_predict": o.numPredict}
}

// post sends payload as JSON and decodes the response into out, retrying on failure.
func (o *OllamaClient) post(ctx context.Context, endpoint, path, model string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
	}
	url := o.baseURL + path
	attempts := o.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, attempt); err != nil {
				return err
			}
		}
		lastErr = o.do(ctx, url, body, out)
		if lastErr == nil {
			return nil
		}
		o.logger.Warn("gateway request failed",
			zap.String("endpoint", endpoint),
			zap.String("model", model),
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Error(lastErr),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (o *OllamaClient) do(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: url, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

func (o *OllamaClient) sleep(ctx context.Context, attempt int) error {
	if o.backoff <= 0 {
		return ctx.Err()
	}
	delay := o.backoff << (attempt - 1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// Package gateway is the client for the external generative endpoint (Ollama HTTP API).
package gateway

import (
	"context"
	"fmt"
)

// Message is one chat message. Images are base64-encoded image payloads.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Gateway is a chat/completion endpoint that accepts an optional image.
type Gateway interface {
	// Chat sends a conversation to the chat endpoint and returns the reply text.
	Chat(ctx context.Context, model string, messages []Message) (string, error)
	// Generate sends a single prompt to the non-conversational completion endpoint.
	Generate(ctx context.Context, model, prompt string, images []string) (string, error)
	// BaseURL identifies the endpoint in errors and logs.
	BaseURL() string
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.Status, e.Body)
}

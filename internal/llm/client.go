// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no provider has been selected yet.
var ErrNotConfigured = errors.New("llm: no provider configured")

// StreamCallback is called for each text delta during streaming. A non-nil
// return stops the stream and surfaces that error to the caller.
type StreamCallback func(token string, index int) error

// ImagePart is an image attached to a chat message.
type ImagePart struct {
	MediaType string
	Data      string // base64 payload
}

// ChatMessage represents a chat message for the LLM.
type ChatMessage struct {
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Images  []ImagePart `json:"-"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	Stream      bool
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming completion request. It stops
	// promptly once ctx is cancelled or the callback returns an error.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderCompat    Provider = "compat"
)

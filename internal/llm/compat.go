package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/repochat-ai/assistant-platform/pkg/logger"
	"github.com/repochat-ai/assistant-platform/pkg/metrics"
)

// CompatClient talks to any OpenAI-compatible chat completions endpoint
// (self-hosted gateways, local runtimes) over raw HTTP. Text only;
// image parts are dropped. Malformed stream frames are counted and
// skipped, never fatal.
type CompatClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewCompatClient creates a client for baseURL, e.g. "http://localhost:8000/v1".
func NewCompatClient(baseURL, apiKey, model string) (*CompatClient, error) {
	if baseURL == "" {
		return nil, errors.New("compat base URL is required")
	}
	if model == "" {
		model = "default"
	}
	return &CompatClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// Name returns the provider name.
func (c *CompatClient) Name() string {
	return "compat"
}

// Models returns available models.
func (c *CompatClient) Models() []string {
	return []string{c.model}
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type compatChoice struct {
	Message      compatMessage `json:"message"`
	Delta        compatMessage `json:"delta"`
	FinishReason string        `json:"finish_reason"`
}

type compatResponse struct {
	Model   string         `json:"model"`
	Choices []compatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *CompatClient) buildRequest(req *CompletionRequest, stream bool) compatRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := make([]compatMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = compatMessage{Role: msg.Role, Content: msg.Content}
	}
	return compatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (c *CompatClient) post(ctx context.Context, body compatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("compat endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// Complete sends a completion request.
func (c *CompatClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	body := c.buildRequest(req, false)
	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed compatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var content, stopReason string
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
		stopReason = parsed.Choices[0].FinishReason
	}

	return &CompletionResponse{
		Content:    content,
		Model:      parsed.Model,
		TokensIn:   parsed.Usage.PromptTokens,
		TokensOut:  parsed.Usage.CompletionTokens,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request and parses the
// SSE frames itself. One unparseable frame never kills the stream.
func (c *CompatClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	body := c.buildRequest(req, true)
	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content, stopReason string
	index := 0

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk compatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			metrics.RecordSkippedFrame(c.Name())
			logger.Global().Debug("skipping malformed stream frame", "provider", c.Name(), "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			content += delta
			if err := callback(delta, index); err != nil {
				return nil, err
			}
			index++
		}
		if chunk.Choices[0].FinishReason != "" {
			stopReason = chunk.Choices[0].FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("stream read failed: %w", err)
	}

	return &CompletionResponse{
		Content:    content,
		Model:      body.Model,
		TokensIn:   0,
		TokensOut:  (len(content) + 3) / 4,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

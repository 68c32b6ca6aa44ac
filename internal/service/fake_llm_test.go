package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/repochat-ai/assistant-platform/internal/llm"
)

// fakeLLM replays scripted chunks and a scripted Complete response.
type fakeLLM struct {
	name        string
	chunks      []string
	streamErr   error // returned instead of a response once chunks ran out
	summary     string
	completeErr error

	// hangFirstStream makes the first CompleteStream call deliver its
	// chunks and then block until the context is cancelled.
	hangFirstStream bool
	delivered       chan struct{} // closed after the first stream delivered its chunks

	streamCalls int32

	mu           sync.Mutex
	lastStream   *llm.CompletionRequest
	lastComplete *llm.CompletionRequest
	completeN    int
}

func newFakeLLM(chunks ...string) *fakeLLM {
	return &fakeLLM{name: "fake", chunks: chunks, delivered: make(chan struct{})}
}

func (f *fakeLLM) register(t interface{ Fatalf(string, ...any) }) *llm.Registry {
	registry := llm.NewRegistry()
	registry.Register("fake", func(llm.Options) (llm.Client, error) { return f, nil })
	if err := registry.Configure("fake", llm.Options{Model: "fake-model"}); err != nil {
		t.Fatalf("configure fake provider: %v", err)
	}
	return registry
}

func (f *fakeLLM) Name() string     { return f.name }
func (f *fakeLLM) Models() []string { return []string{"fake-model"} }

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.lastComplete = req
	f.completeN++
	f.mu.Unlock()

	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &llm.CompletionResponse{Content: f.summary, Model: req.Model}, nil
}

func (f *fakeLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	call := atomic.AddInt32(&f.streamCalls, 1)

	f.mu.Lock()
	f.lastStream = req
	f.mu.Unlock()

	var content strings.Builder
	for i, chunk := range f.chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := cb(chunk, i); err != nil {
			return nil, err
		}
		content.WriteString(chunk)
	}

	if f.hangFirstStream && call == 1 {
		close(f.delivered)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &llm.CompletionResponse{Content: content.String(), Model: req.Model}, nil
}

func (f *fakeLLM) lastStreamRequest() *llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastStream
}

func (f *fakeLLM) lastCompleteRequest() *llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastComplete
}

func (f *fakeLLM) completeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completeN
}

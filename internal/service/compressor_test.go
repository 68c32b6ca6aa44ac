package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repochat-ai/assistant-platform/internal/llm"
	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
)

func newTestCompressor(t *testing.T, registry *llm.Registry, cfg CompressorConfig) *Compressor {
	t.Helper()
	if registry == nil {
		registry = llm.NewRegistry()
	}
	return NewCompressor(registry, cfg, logger.NewNop())
}

func msgs(texts ...string) []model.Message {
	out := make([]model.Message, len(texts))
	for i, text := range texts {
		out[i] = model.Message{
			Role:          model.RoleUser,
			Content:       text,
			TokenEstimate: EstimateTokens(text),
		}
	}
	return out
}

func TestShouldCompressThreshold(t *testing.T) {
	c := newTestCompressor(t, nil, CompressorConfig{MaxContextTokens: 100, TriggerPercent: 75})

	conv := &model.Conversation{TokenEstimate: 75}
	assert.False(t, c.ShouldCompress(conv), "at the threshold is not over it")

	conv.TokenEstimate = 76
	assert.True(t, c.ShouldCompress(conv))
}

func TestCandidatesPartition(t *testing.T) {
	c := newTestCompressor(t, nil, CompressorConfig{KeepRecent: 2})

	conv := &model.Conversation{Messages: msgs("intro", "a", "b", "c", "d")}
	candidates := c.Candidates(conv)
	require.Len(t, candidates, 2)
	assert.Equal(t, "a", candidates[0].Content)
	assert.Equal(t, "b", candidates[1].Content)

	// first message plus the recent tail leaves nothing to compress
	small := &model.Conversation{Messages: msgs("intro", "a", "b")}
	assert.Nil(t, c.Candidates(small))
}

func TestSummarizeViaLLM(t *testing.T) {
	fake := newFakeLLM()
	fake.summary = "the user asked about build tooling"
	registry := fake.register(t)

	c := newTestCompressor(t, registry, CompressorConfig{SummaryMaxTokens: 200})

	candidates := []model.Message{
		{Role: model.RoleUser, Content: "enhanced text with files inlined", OriginalContent: "How does the build work?"},
		{Role: model.RoleAssistant, Content: "It uses make."},
	}

	summary, mode := c.Summarize(context.Background(), candidates)
	assert.Equal(t, "the user asked about build tooling", summary)
	assert.Equal(t, CompressionModeLLM, mode)

	req := fake.lastCompleteRequest()
	require.NotNil(t, req)
	assert.Equal(t, 200, req.MaxTokens)
	assert.InDelta(t, 0.2, req.Temperature, 1e-9)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	// the transcript carries what the user typed, not the enhanced text
	assert.Contains(t, req.Messages[1].Content, "How does the build work?")
	assert.NotContains(t, req.Messages[1].Content, "files inlined")
}

func TestSummarizeFallsBackWhenUnconfigured(t *testing.T) {
	c := newTestCompressor(t, nil, CompressorConfig{})

	candidates := []model.Message{
		{Role: model.RoleUser, Content: "How do I run the tests?", ReferencedFiles: []string{"Makefile"}},
		{Role: model.RoleAssistant, Content: "Run make test."},
		{Role: model.RoleUser, Content: "And the linter?", ReferencedFiles: []string{"Makefile", ".golangci.yml"}},
	}

	summary, mode := c.Summarize(context.Background(), candidates)
	assert.Equal(t, CompressionModeHeuristic, mode)
	assert.Contains(t, summary, "2 user message(s)")
	assert.Contains(t, summary, "How do I run the tests?")
	assert.Contains(t, summary, "And the linter?")
	assert.Contains(t, summary, "Makefile, .golangci.yml")
}

func TestSummarizeFallsBackOnLLMError(t *testing.T) {
	fake := newFakeLLM()
	fake.completeErr = errors.New("rate limited")
	registry := fake.register(t)

	c := newTestCompressor(t, registry, CompressorConfig{})

	summary, mode := c.Summarize(context.Background(), msgs("What is this repo?"))
	assert.Equal(t, CompressionModeHeuristic, mode)
	assert.Contains(t, summary, "What is this repo?")
}

func TestHeuristicSummaryDeterministic(t *testing.T) {
	candidates := msgs("first question", "second question")
	assert.Equal(t, heuristicSummary(candidates), heuristicSummary(candidates))
}

func TestHeuristicTruncatesLongTurns(t *testing.T) {
	long := strings.Repeat("q", 300)
	summary := heuristicSummary(msgs(long))
	assert.Contains(t, summary, strings.Repeat("q", 100)+"...")
	assert.NotContains(t, summary, strings.Repeat("q", 101))
}

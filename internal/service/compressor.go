package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/repochat-ai/assistant-platform/internal/llm"
	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
)

// Compression modes reported in summary metadata and metrics.
const (
	CompressionModeLLM       = "llm"
	CompressionModeHeuristic = "heuristic"
)

const summaryPrompt = `Summarize the following conversation between a user and a coding assistant about a GitHub repository. Keep it under 200 words. Preserve: the user's goals, decisions reached, file paths discussed, and any unresolved questions. Write plain prose, no headings.`

// CompressorConfig tunes when and how history is compressed.
type CompressorConfig struct {
	MaxContextTokens int           // budget the estimate is compared against
	TriggerPercent   int           // compress once the estimate crosses this share of the budget
	KeepRecent       int           // messages kept verbatim at the tail
	SummaryMaxTokens int           // output budget for the summarization call
	SummaryTimeout   time.Duration // bound on the summarization sub-call
}

func (c CompressorConfig) withDefaults() CompressorConfig {
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 8000
	}
	if c.TriggerPercent <= 0 {
		c.TriggerPercent = 75
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = 5
	}
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = 500
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 30 * time.Second
	}
	return c
}

// Compressor decides when a conversation has outgrown its token budget
// and produces the summary that replaces the middle of the thread. The
// first message and the most recent KeepRecent messages are never
// candidates.
type Compressor struct {
	registry *llm.Registry
	cfg      CompressorConfig
	logger   *logger.Logger
}

// NewCompressor wires a compressor against the provider registry.
func NewCompressor(registry *llm.Registry, cfg CompressorConfig, log *logger.Logger) *Compressor {
	return &Compressor{
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   log,
	}
}

// KeepRecent exposes the verbatim tail length for the store's replace step.
func (c *Compressor) KeepRecent() int {
	return c.cfg.KeepRecent
}

// ShouldCompress reports whether the conversation crossed the trigger.
func (c *Compressor) ShouldCompress(conv *model.Conversation) bool {
	threshold := c.cfg.MaxContextTokens * c.cfg.TriggerPercent / 100
	return conv.TokenEstimate > threshold
}

// Candidates returns the messages that would be folded into a summary:
// everything between the intro and the recent tail. Nil when there is
// nothing to compress.
func (c *Compressor) Candidates(conv *model.Conversation) []model.Message {
	if len(conv.Messages) <= 1+c.cfg.KeepRecent {
		return nil
	}
	return conv.Messages[1 : len(conv.Messages)-c.cfg.KeepRecent]
}

// Summarize produces summary text for the candidate messages, first via
// the active LLM and, when that fails for any reason, via a
// deterministic heuristic. The returned mode names which path ran.
func (c *Compressor) Summarize(ctx context.Context, candidates []model.Message) (string, string) {
	summary, err := c.summarizeLLM(ctx, candidates)
	if err == nil {
		return summary, CompressionModeLLM
	}
	c.logger.Warn("LLM summarization failed, using heuristic", "error", err)
	return heuristicSummary(candidates), CompressionModeHeuristic
}

func (c *Compressor) summarizeLLM(ctx context.Context, candidates []model.Message) (string, error) {
	active, err := c.registry.Active()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SummaryTimeout)
	defer cancel()

	resp, err := active.Client.Complete(ctx, &llm.CompletionRequest{
		Model: active.Model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: buildTranscript(candidates)},
		},
		MaxTokens:   c.cfg.SummaryMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("empty summary from %s", active.Client.Name())
	}
	return summary, nil
}

// buildTranscript renders candidates for the summarization prompt using
// the text the user actually typed, not the enhanced content with
// inlined files, so re-summarization stays cheap.
func buildTranscript(candidates []model.Message) string {
	var b strings.Builder
	for i := range candidates {
		msg := &candidates[i]
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(truncateEllipsis(msg.DisplayContent(), 2000))
		b.WriteString("\n")
	}
	return b.String()
}

// heuristicSummary is the deterministic fallback: user turn count, the
// opening of each user turn, and the union of referenced files.
func heuristicSummary(candidates []model.Message) string {
	var (
		userTurns int
		openings  []string
		fileSet   = make(map[string]struct{})
		files     []string
	)
	for i := range candidates {
		msg := &candidates[i]
		for _, f := range msg.ReferencedFiles {
			if _, ok := fileSet[f]; !ok {
				fileSet[f] = struct{}{}
				files = append(files, f)
			}
		}
		if msg.Role != model.RoleUser {
			continue
		}
		userTurns++
		openings = append(openings, "- "+truncateEllipsis(strings.TrimSpace(msg.DisplayContent()), 100))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Earlier conversation with %d user message(s).", userTurns)
	if len(openings) > 0 {
		b.WriteString("\nThe user asked about:\n")
		b.WriteString(strings.Join(openings, "\n"))
	}
	if len(files) > 0 {
		b.WriteString("\nFiles discussed: ")
		b.WriteString(strings.Join(files, ", "))
	}
	return b.String()
}

func truncateEllipsis(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

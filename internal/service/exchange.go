package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/repochat-ai/assistant-platform/internal/llm"
	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/internal/reference"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
	"github.com/repochat-ai/assistant-platform/pkg/metrics"
)

// cancelledMarker is appended to the visible text of a reply the user
// cut short. The partial content above it is persisted, not discarded.
const cancelledMarker = "[Response cancelled by user]"

// ExchangeConfig tunes a single user/assistant exchange.
type ExchangeConfig struct {
	Timeout            time.Duration // bound on the whole exchange
	MaxTokens          int           // completion budget
	Temperature        float64
	MaxInlineFileChars int // above this, files are inlined as snippets
	MaxSnippetsPerFile int
}

func (c ExchangeConfig) withDefaults() ExchangeConfig {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.7
	}
	if c.MaxInlineFileChars <= 0 {
		c.MaxInlineFileChars = 12000
	}
	if c.MaxSnippetsPerFile <= 0 {
		c.MaxSnippetsPerFile = 20
	}
	return c
}

// Callbacks is the event contract between an exchange and its consumer:
// chunks while streaming, exactly one of complete or error at the end.
type Callbacks struct {
	OnUserMessage func(msg model.Message)
	OnChunk       func(text string, index int)
	OnComplete    func(msg model.Message, cancelled bool)
	OnError       func(code, message string)
}

func (cb Callbacks) normalized() Callbacks {
	if cb.OnUserMessage == nil {
		cb.OnUserMessage = func(model.Message) {}
	}
	if cb.OnChunk == nil {
		cb.OnChunk = func(string, int) {}
	}
	if cb.OnComplete == nil {
		cb.OnComplete = func(model.Message, bool) {}
	}
	if cb.OnError == nil {
		cb.OnError = func(string, string) {}
	}
	return cb
}

// ExchangeService orchestrates one user/assistant exchange: reference
// resolution, append, compression, the streaming LLM call and the
// finalize paths. At most one exchange per conversation is in flight; a
// concurrent send on the same conversation is rejected, not queued.
type ExchangeService struct {
	conversations *ConversationService
	compressor    *Compressor
	resolver      *reference.Resolver
	registry      *llm.Registry
	cfg           ExchangeConfig
	logger        *logger.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewExchangeService wires the orchestrator.
func NewExchangeService(
	conversations *ConversationService,
	compressor *Compressor,
	resolver *reference.Resolver,
	registry *llm.Registry,
	cfg ExchangeConfig,
	log *logger.Logger,
) *ExchangeService {
	return &ExchangeService{
		conversations: conversations,
		compressor:    compressor,
		resolver:      resolver,
		registry:      registry,
		cfg:           cfg.withDefaults(),
		logger:        log,
		inflight:      make(map[string]context.CancelFunc),
	}
}

// Send runs a full exchange synchronously, emitting events through cb.
// Cancellation comes from ctx, from Cancel, or from the exchange
// timeout; a cancelled exchange still persists the partial reply.
func (s *ExchangeService) Send(ctx context.Context, conversationID string, req *model.SendMessageRequest, cb Callbacks) error {
	cb = cb.normalized()

	if strings.TrimSpace(req.Content) == "" {
		cb.OnError("empty_message", "message content is empty")
		return ErrEmptyContent
	}

	// Provider problems are rejected before any state changes.
	active, err := s.registry.Active()
	if err != nil {
		cb.OnError("provider_not_configured", "no LLM provider is configured; select one in the extension settings")
		return err
	}
	provider := active.Client.Name()

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		cb.OnError("conversation_not_found", fmt.Sprintf("conversation %s not found", conversationID))
		return err
	}

	exCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	if err := s.acquire(conversationID, cancel); err != nil {
		cancel()
		cb.OnError("exchange_in_flight", "a response is already being generated for this conversation")
		return err
	}
	defer func() {
		s.release(conversationID)
		cancel()
	}()

	// Finalize paths must write even when the client has gone away.
	persistCtx := context.WithoutCancel(ctx)
	start := time.Now()

	enh := buildEnhancement(exCtx, s.resolver, conv.Repository, req.Content, s.cfg.MaxInlineFileChars, s.cfg.MaxSnippetsPerFile)

	userMsg, err := s.conversations.AppendUser(persistCtx, conversationID, enh.Enhanced, req.Content, enh.Refs, req.Attachments, enh.Contexts)
	if err != nil {
		cb.OnError("append_failed", err.Error())
		return err
	}
	cb.OnUserMessage(*userMsg)
	s.logger.Debug("user message appended",
		"conversation_id", conversationID,
		"references", len(enh.Refs),
		"resolved", enh.Resolved,
	)

	s.maybeCompress(exCtx, persistCtx, conversationID)

	snapshot, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		cb.OnError("conversation_not_found", err.Error())
		return err
	}

	modelName := req.Model
	if modelName == "" {
		modelName = active.Model
	}

	var buffer strings.Builder
	resp, streamErr := active.Client.CompleteStream(exCtx, &llm.CompletionRequest{
		Model:       modelName,
		Messages:    buildChatMessages(snapshot.Messages),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Stream:      true,
	}, func(token string, index int) error {
		buffer.WriteString(token)
		cb.OnChunk(token, index)
		return nil
	})

	duration := time.Since(start)

	switch {
	case streamErr == nil:
		meta := map[string]string{model.MetaProvider: provider, model.MetaModel: resp.Model}
		msg, err := s.conversations.AppendAssistant(persistCtx, conversationID, resp.Content, meta)
		if err != nil {
			cb.OnError("append_failed", err.Error())
			return err
		}
		metrics.RecordExchange(provider, "success", duration.Seconds(), resp.TokensIn, resp.TokensOut)
		cb.OnComplete(*msg, false)
		return nil

	case s.wasCancelled(exCtx, streamErr):
		content := buffer.String()
		if content != "" {
			content += "\n\n"
		}
		content += cancelledMarker

		meta := map[string]string{
			model.MetaProvider:  provider,
			model.MetaModel:     modelName,
			model.MetaCancelled: "true",
		}
		msg, err := s.conversations.AppendAssistant(persistCtx, conversationID, content, meta)
		if err != nil {
			cb.OnError("append_failed", err.Error())
			return err
		}
		metrics.ExchangeCancellations.Inc()
		metrics.RecordExchange(provider, "cancelled", duration.Seconds(), 0, EstimateTokens(buffer.String()))
		cb.OnComplete(*msg, true)
		return nil

	case errors.Is(streamErr, context.DeadlineExceeded) || exCtx.Err() == context.DeadlineExceeded:
		s.persistPartial(persistCtx, conversationID, buffer.String(), provider, modelName)
		note := fmt.Sprintf("The %s request timed out after %s. Please try again.", provider, s.cfg.Timeout)
		if _, err := s.conversations.AppendSystemNote(persistCtx, conversationID, note); err != nil {
			s.logger.Error("failed to record timeout note", "conversation_id", conversationID, "error", err)
		}
		metrics.RecordExchange(provider, "timeout", duration.Seconds(), 0, EstimateTokens(buffer.String()))
		cb.OnError("timeout", note)
		return streamErr

	default:
		s.persistPartial(persistCtx, conversationID, buffer.String(), provider, modelName)
		note := fmt.Sprintf("The request to %s failed: %v", provider, streamErr)
		if _, err := s.conversations.AppendSystemNote(persistCtx, conversationID, note); err != nil {
			s.logger.Error("failed to record error note", "conversation_id", conversationID, "error", err)
		}
		metrics.RecordExchange(provider, "error", duration.Seconds(), 0, EstimateTokens(buffer.String()))
		cb.OnError("stream_failed", streamErr.Error())
		return streamErr
	}
}

// Cancel aborts the in-flight exchange for the conversation, if any.
// The exchange finalizes with the partial reply and releases its slot.
func (s *ExchangeService) Cancel(conversationID string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[conversationID]
	s.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// InFlight reports whether an exchange is running for the conversation.
func (s *ExchangeService) InFlight(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[conversationID]
	return ok
}

func (s *ExchangeService) acquire(conversationID string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[conversationID]; busy {
		return ErrExchangeInFlight
	}
	s.inflight[conversationID] = cancel
	return nil
}

func (s *ExchangeService) release(conversationID string) {
	s.mu.Lock()
	delete(s.inflight, conversationID)
	s.mu.Unlock()
}

// maybeCompress runs the budget check and folds older history into a
// summary. Failures degrade to the heuristic inside the compressor and
// never block the exchange.
func (s *ExchangeService) maybeCompress(exCtx, persistCtx context.Context, conversationID string) {
	snapshot, err := s.conversations.Get(exCtx, conversationID)
	if err != nil || !s.compressor.ShouldCompress(snapshot) {
		return
	}
	candidates := s.compressor.Candidates(snapshot)
	if len(candidates) == 0 {
		return
	}

	summary, mode := s.compressor.Summarize(exCtx, candidates)
	if err := s.conversations.ApplySummary(persistCtx, conversationID, summary, mode, s.compressor.KeepRecent()); err != nil {
		s.logger.Warn("failed to apply summary", "conversation_id", conversationID, "error", err)
		return
	}
	metrics.RecordCompression(mode)
}

// persistPartial keeps whatever streamed before a failure. Losing text
// the user already saw render would make the history disagree with the
// screen.
func (s *ExchangeService) persistPartial(ctx context.Context, conversationID, partial, provider, modelName string) {
	if partial == "" {
		return
	}
	meta := map[string]string{model.MetaProvider: provider, model.MetaModel: modelName}
	if _, err := s.conversations.AppendAssistant(ctx, conversationID, partial, meta); err != nil {
		s.logger.Error("failed to persist partial reply", "conversation_id", conversationID, "error", err)
	}
}

func (s *ExchangeService) wasCancelled(exCtx context.Context, streamErr error) bool {
	if errors.Is(streamErr, context.Canceled) {
		return true
	}
	return exCtx.Err() == context.Canceled
}

// buildChatMessages converts stored history to the provider format.
// Attachments ride along as image parts.
func buildChatMessages(messages []model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(messages))
	for i := range messages {
		msg := &messages[i]
		cm := llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for _, att := range msg.Attachments {
			cm.Images = append(cm.Images, llm.ImagePart{
				MediaType: att.MediaType,
				Data:      att.Data,
			})
		}
		out[i] = cm
	}
	return out
}

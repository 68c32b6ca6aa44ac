// Package service provides the business logic for the assistant platform:
// the conversation store, context compression and exchange orchestration.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/internal/storage"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
	"github.com/repochat-ai/assistant-platform/pkg/metrics"
)

const (
	titleMaxRunes = 23
	titleEllipsis = "..."

	snapshotKeyPrefix = "conv."
)

// ConversationConfig tunes the store's bookkeeping.
type ConversationConfig struct {
	// CodeContextLimit caps cached per-file contexts per conversation;
	// least recently accessed entries are evicted past it.
	CodeContextLimit int

	// Retention is how long an idle conversation survives cleanup.
	Retention time.Duration
}

// ConversationService owns every conversation. All mutation happens here
// under one lock; snapshots are written through to the key-value store
// on a best-effort basis and reloaded on startup.
type ConversationService struct {
	kv     storage.KV
	codec  storage.Codec
	cfg    ConversationConfig
	logger *logger.Logger

	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	current       map[string]string // userID -> current conversation id
}

// NewConversationService creates the store. kv may be nil, in which case
// conversations live only in memory.
func NewConversationService(kv storage.KV, codec storage.Codec, cfg ConversationConfig, log *logger.Logger) *ConversationService {
	if cfg.CodeContextLimit <= 0 {
		cfg.CodeContextLimit = 20
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 14 * 24 * time.Hour
	}
	if codec == nil {
		codec = storage.JSONCodec{}
	}
	return &ConversationService{
		kv:            kv,
		codec:         codec,
		cfg:           cfg,
		logger:        log,
		conversations: make(map[string]*model.Conversation),
		current:       make(map[string]string),
	}
}

// LoadAll restores persisted conversations from the key-value store.
// Undecodable snapshots are skipped with a warning, never fatal.
func (s *ConversationService) LoadAll(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}

	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, snapshotKeyPrefix) {
			continue
		}
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			s.logger.Warn("failed to read snapshot", "key", key, "error", err)
			continue
		}
		var conv model.Conversation
		if err := s.codec.Decode(data, &conv); err != nil {
			s.logger.Warn("failed to decode snapshot", "key", key, "error", err)
			continue
		}
		s.conversations[conv.ID] = &conv
		restored++
	}

	if restored > 0 {
		s.logger.Info("conversations restored", "count", restored)
	}
	return nil
}

// buildRepoIntro seeds the first system message of every conversation.
func buildRepoIntro(repo model.Repository) string {
	return fmt.Sprintf(
		"You are a coding assistant embedded in the GitHub repository %s/%s (branch %s). "+
			"Answer questions about this repository's code, structure and usage. "+
			"When file content is included in a message, ground your answer in it.",
		repo.Owner, repo.Name, branchOrDefault(repo.Branch),
	)
}

func branchOrDefault(branch string) string {
	if branch == "" {
		return "main"
	}
	return branch
}

// Create starts a conversation for a repository. The first message is
// always the system repository introduction.
func (s *ConversationService) Create(ctx context.Context, userID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	if req.Repository.Owner == "" || req.Repository.Name == "" {
		return nil, fmt.Errorf("repository owner and name are required")
	}

	now := time.Now()
	intro := model.Message{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Role:          model.RoleSystem,
		Content:       buildRepoIntro(req.Repository),
		CreatedAt:     now,
		TokenEstimate: EstimateTokens(buildRepoIntro(req.Repository)),
	}

	conv := &model.Conversation{
		ID:            uuid.Must(uuid.NewV7()).String(),
		UserID:        userID,
		Repository:    req.Repository,
		Title:         strings.TrimSpace(req.Title),
		Messages:      []model.Message{intro},
		TokenEstimate: intro.TokenEstimate,
		CreatedAt:     now,
		UpdatedAt:     now,
		MessageCount:  1,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.current[userID] = conv.ID
	s.persistLocked(ctx, conv)
	s.mu.Unlock()

	metrics.ConversationsTotal.Inc()
	s.logger.Info("conversation created", "conversation_id", conv.ID, "repository", conv.Repository.String())

	return conv.Clone(), nil
}

// Get returns a deep copy of the conversation.
func (s *ConversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// List returns all conversations for a user, most recently updated first.
func (s *ConversationService) List(ctx context.Context, userID string) []model.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ConversationSummary
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			out = append(out, conv.Summarize())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// ListByRepository returns the user's conversations about one repository,
// branch ignored, most recently updated first.
func (s *ConversationService) ListByRepository(ctx context.Context, userID, owner, name string) []model.ConversationSummary {
	probe := model.Repository{Owner: owner, Name: name}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ConversationSummary
	for _, conv := range s.conversations {
		if conv.UserID == userID && conv.Repository.SameRepo(probe) {
			out = append(out, conv.Summarize())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Delete removes a conversation and its snapshot.
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	if s.current[conv.UserID] == id {
		delete(s.current, conv.UserID)
	}
	s.mu.Unlock()

	if s.kv != nil {
		if err := s.kv.Delete(ctx, snapshotKeyPrefix+id); err != nil {
			s.logger.Warn("failed to delete snapshot", "conversation_id", id, "error", err)
		}
	}
	return nil
}

// SwitchCurrent marks id as the user's active conversation.
func (s *ConversationService) SwitchCurrent(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return ErrConversationNotFound
	}
	s.current[userID] = id
	return nil
}

// Current returns the user's active conversation id, empty when none.
func (s *ConversationService) Current(ctx context.Context, userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current[userID]
}

// EnsureForRepository switches to the most recent conversation about
// repo, creating one when none exists. Used when the extension reports
// that the user navigated to a different repository.
func (s *ConversationService) EnsureForRepository(ctx context.Context, userID string, repo model.Repository) (*model.Conversation, bool, error) {
	s.mu.RLock()
	var newest *model.Conversation
	for _, conv := range s.conversations {
		if conv.UserID != userID || !conv.Repository.SameRepo(repo) {
			continue
		}
		if newest == nil || conv.UpdatedAt.After(newest.UpdatedAt) {
			newest = conv
		}
	}
	s.mu.RUnlock()

	if newest != nil {
		if err := s.SwitchCurrent(ctx, userID, newest.ID); err != nil {
			return nil, false, err
		}
		return newest.Clone(), false, nil
	}

	conv, err := s.Create(ctx, userID, &model.CreateConversationRequest{Repository: repo})
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// AppendUser appends the enhanced user message, derives the title from
// the first user turn, and folds the resolved file contexts into the
// conversation. Appends either fully succeed or leave state untouched.
func (s *ConversationService) AppendUser(ctx context.Context, id, enhanced, original string, refs []string, attachments []model.Attachment, contexts []model.CodeContext) (*model.Message, error) {
	if strings.TrimSpace(enhanced) == "" {
		return nil, ErrEmptyContent
	}

	msg := model.Message{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Role:          model.RoleUser,
		Content:       enhanced,
		CreatedAt:     time.Now(),
		TokenEstimate: EstimateTokens(enhanced),
		Attachments:   attachments,
	}
	if original != enhanced {
		msg.OriginalContent = original
	}
	if len(refs) > 0 {
		msg.ReferencedFiles = append([]string(nil), refs...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}

	if conv.Title == "" {
		conv.Title = deriveTitle(original)
	}

	conv.Messages = append(conv.Messages, msg)
	conv.TokenEstimate += msg.TokenEstimate
	conv.MessageCount++
	conv.AddReferencedFiles(refs...)
	s.touchCodeContexts(conv, contexts)
	conv.UpdatedAt = msg.CreatedAt

	s.persistLocked(ctx, conv)
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	return msg.Clone(), nil
}

// AppendAssistant stores the final assistant text after streaming ends.
func (s *ConversationService) AppendAssistant(ctx context.Context, id, content string, meta map[string]string) (*model.Message, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}

	msg := model.Message{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Role:          model.RoleAssistant,
		Content:       content,
		CreatedAt:     time.Now(),
		TokenEstimate: EstimateTokens(content),
		Metadata:      meta,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}

	conv.Messages = append(conv.Messages, msg)
	conv.TokenEstimate += msg.TokenEstimate
	conv.MessageCount++
	conv.UpdatedAt = msg.CreatedAt

	s.persistLocked(ctx, conv)
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

	return msg.Clone(), nil
}

// AppendSystemNote records an error or marker inside the conversation.
func (s *ConversationService) AppendSystemNote(ctx context.Context, id, text string) (*model.Message, error) {
	msg := model.Message{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Role:          model.RoleSystem,
		Content:       text,
		CreatedAt:     time.Now(),
		TokenEstimate: EstimateTokens(text),
	}
	msg.SetMeta(model.MetaSystemNote, "true")

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}

	conv.Messages = append(conv.Messages, msg)
	conv.TokenEstimate += msg.TokenEstimate
	conv.MessageCount++
	conv.UpdatedAt = msg.CreatedAt

	s.persistLocked(ctx, conv)
	metrics.MessagesTotal.WithLabelValues(string(model.RoleSystem)).Inc()

	return msg.Clone(), nil
}

// ApplySummary replaces everything between the first message and the
// last keepRecent messages with one summary message, then recomputes
// the token total from the survivors. Lossy and irreversible.
func (s *ConversationService) ApplySummary(ctx context.Context, id, summary, mode string, keepRecent int) error {
	if keepRecent < 0 {
		keepRecent = 0
	}

	summaryMsg := model.Message{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Role:          model.RoleSystem,
		Content:       "Summary of the earlier conversation:\n" + summary,
		CreatedAt:     time.Now(),
		TokenEstimate: EstimateTokens("Summary of the earlier conversation:\n" + summary),
	}
	summaryMsg.SetMeta(model.MetaSummary, "true")
	summaryMsg.SetMeta(model.MetaSummaryMode, mode)

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}

	// nothing between the intro and the recent tail
	if len(conv.Messages) <= 1+keepRecent {
		return nil
	}

	recent := conv.Messages[len(conv.Messages)-keepRecent:]

	kept := make([]model.Message, 0, 2+len(recent))
	kept = append(kept, conv.Messages[0], summaryMsg)
	kept = append(kept, recent...)

	conv.Messages = kept
	conv.Summary = summary
	conv.SummaryCount++
	conv.TokenEstimate = 0
	for i := range conv.Messages {
		conv.TokenEstimate += conv.Messages[i].TokenEstimate
	}
	conv.UpdatedAt = time.Now()

	s.persistLocked(ctx, conv)
	s.logger.Info("conversation compressed",
		"conversation_id", id,
		"mode", mode,
		"messages", len(conv.Messages),
		"token_estimate", conv.TokenEstimate,
	)
	return nil
}

// CleanupExpired drops conversations idle past the retention window.
func (s *ConversationService) CleanupExpired(ctx context.Context) int {
	cutoff := time.Now().Add(-s.cfg.Retention)

	s.mu.Lock()
	var expired []string
	for id, conv := range s.conversations {
		if conv.UpdatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		conv := s.conversations[id]
		delete(s.conversations, id)
		if s.current[conv.UserID] == id {
			delete(s.current, conv.UserID)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		if s.kv != nil {
			if err := s.kv.Delete(ctx, snapshotKeyPrefix+id); err != nil {
				s.logger.Warn("failed to delete expired snapshot", "conversation_id", id, "error", err)
			}
		}
		metrics.ConversationsExpired.Inc()
	}

	if len(expired) > 0 {
		s.logger.Info("expired conversations removed", "count", len(expired))
	}
	return len(expired)
}

// touchCodeContexts upserts the contexts and evicts the least recently
// accessed ones past the cap. Caller holds the write lock.
func (s *ConversationService) touchCodeContexts(conv *model.Conversation, contexts []model.CodeContext) {
	if len(contexts) == 0 {
		return
	}
	if conv.CodeContexts == nil {
		conv.CodeContexts = make(map[string]*model.CodeContext, len(contexts))
	}

	now := time.Now()
	for i := range contexts {
		cc := contexts[i]
		cc.LastAccess = now
		conv.CodeContexts[cc.Path] = &cc
	}

	for len(conv.CodeContexts) > s.cfg.CodeContextLimit {
		var oldestPath string
		var oldest time.Time
		for path, cc := range conv.CodeContexts {
			if oldestPath == "" || cc.LastAccess.Before(oldest) {
				oldestPath = path
				oldest = cc.LastAccess
			}
		}
		delete(conv.CodeContexts, oldestPath)
	}
}

// deriveTitle trims the first user message to the display title.
func deriveTitle(text string) string {
	title := strings.TrimSpace(text)
	runes := []rune(title)
	if len(runes) <= titleMaxRunes {
		return title
	}
	return string(runes[:titleMaxRunes]) + titleEllipsis
}

// persistLocked writes the snapshot through to the key-value store.
// Persistence failures are logged, never surfaced: the in-memory copy
// remains authoritative.
func (s *ConversationService) persistLocked(ctx context.Context, conv *model.Conversation) {
	if s.kv == nil {
		return
	}
	data, err := s.codec.Encode(conv)
	if err != nil {
		s.logger.Error("failed to encode snapshot", "conversation_id", conv.ID, "error", err)
		return
	}
	if err := s.kv.Set(ctx, snapshotKeyPrefix+conv.ID, data); err != nil {
		s.logger.Warn("failed to persist snapshot", "conversation_id", conv.ID, "error", err)
	}
}

package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/internal/storage"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
)

func newTestStore(t *testing.T, kv storage.KV) *ConversationService {
	t.Helper()
	return NewConversationService(kv, storage.JSONCodec{}, ConversationConfig{
		CodeContextLimit: 3,
		Retention:        14 * 24 * time.Hour,
	}, logger.NewNop())
}

func testRepo() model.Repository {
	return model.Repository{Owner: "alice", Name: "widgets", Branch: "main"}
}

func TestCreateSeedsSystemIntro(t *testing.T) {
	store := newTestStore(t, nil)

	conv, err := store.Create(context.Background(), "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)

	require.Len(t, conv.Messages, 1)
	assert.Equal(t, model.RoleSystem, conv.Messages[0].Role)
	assert.Contains(t, conv.Messages[0].Content, "alice/widgets")
	assert.Equal(t, conv.Messages[0].TokenEstimate, conv.TokenEstimate)
	assert.Equal(t, 1, conv.MessageCount)
	assert.Equal(t, conv.ID, store.Current(context.Background(), "u1"))
}

func TestTitleFromFirstUserMessage(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	conv, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)

	first := "How do I build this repo from scratch please"
	_, err = store.AppendUser(ctx, conv.ID, first, first, nil, nil, nil)
	require.NoError(t, err)

	got, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "How do I build this rep...", got.Title)

	// a second user message never changes the title
	_, err = store.AppendUser(ctx, conv.ID, "Another much longer question entirely", "Another much longer question entirely", nil, nil, nil)
	require.NoError(t, err)
	got, err = store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "How do I build this rep...", got.Title)
}

func TestShortTitleKeptWhole(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	conv, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)

	_, err = store.AppendUser(ctx, conv.ID, "Short one", "Short one", nil, nil, nil)
	require.NoError(t, err)

	got, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Short one", got.Title)
}

func TestTokenEstimateInvariant(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	conv, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)

	texts := []string{"first question", strings.Repeat("x", 999), "héllo wörld"}
	for _, text := range texts {
		_, err = store.AppendUser(ctx, conv.ID, text, text, nil, nil, nil)
		require.NoError(t, err)
	}
	_, err = store.AppendAssistant(ctx, conv.ID, "an answer of some length", nil)
	require.NoError(t, err)

	got, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)

	sum := 0
	for _, msg := range got.Messages {
		assert.Equal(t, EstimateTokens(msg.Content), msg.TokenEstimate)
		sum += msg.TokenEstimate
	}
	assert.Equal(t, sum, got.TokenEstimate)
	assert.Equal(t, 5, got.MessageCount)
}

func TestApplySummaryPartition(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	conv, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		text := strings.Repeat("q", 40)
		_, err = store.AppendUser(ctx, conv.ID, text, text, nil, nil, nil)
		require.NoError(t, err)
	}

	before, _ := store.Get(ctx, conv.ID)
	lastTwo := before.Messages[len(before.Messages)-2:]

	require.NoError(t, store.ApplySummary(ctx, conv.ID, "what came before", CompressionModeHeuristic, 2))

	got, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)

	// [system intro, summary, last 2]
	require.Len(t, got.Messages, 4)
	assert.Equal(t, model.RoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "alice/widgets")

	assert.True(t, got.Messages[1].IsSummary())
	assert.Equal(t, model.RoleSystem, got.Messages[1].Role)
	assert.Contains(t, got.Messages[1].Content, "what came before")
	assert.Equal(t, CompressionModeHeuristic, got.Messages[1].Metadata[model.MetaSummaryMode])

	assert.Equal(t, lastTwo[0].ID, got.Messages[2].ID)
	assert.Equal(t, lastTwo[1].ID, got.Messages[3].ID)

	sum := 0
	for _, msg := range got.Messages {
		sum += msg.TokenEstimate
	}
	assert.Equal(t, sum, got.TokenEstimate)

	assert.Equal(t, "what came before", got.Summary)
	assert.Equal(t, 1, got.SummaryCount)
	// messages-ever count survives compression
	assert.Equal(t, 9, got.MessageCount)
}

func TestApplySummaryNoCandidatesIsNoop(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	conv, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)
	_, err = store.AppendUser(ctx, conv.ID, "only one", "only one", nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.ApplySummary(ctx, conv.ID, "unused", CompressionModeLLM, 5))

	got, _ := store.Get(ctx, conv.ID)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, 0, got.SummaryCount)
}

func TestReferencedFilesUnion(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	conv, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)

	_, err = store.AppendUser(ctx, conv.ID, "a", "a", []string{"b.go", "a.go"}, nil, nil)
	require.NoError(t, err)
	_, err = store.AppendUser(ctx, conv.ID, "b", "b", []string{"a.go", "c.go"}, nil, nil)
	require.NoError(t, err)

	got, _ := store.Get(ctx, conv.ID)
	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, got.ReferencedFiles)
}

func TestCodeContextEviction(t *testing.T) {
	store := newTestStore(t, nil) // limit 3
	ctx := context.Background()

	conv, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)

	appendWithContext := func(path string) {
		t.Helper()
		_, err := store.AppendUser(ctx, conv.ID, "about "+path, "about "+path, []string{path}, nil,
			[]model.CodeContext{{Path: path, DisplayName: path}})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	for _, p := range []string{"one.go", "two.go", "three.go", "four.go"} {
		appendWithContext(p)
	}

	got, _ := store.Get(ctx, conv.ID)
	assert.Len(t, got.CodeContexts, 3)
	_, oldest := got.CodeContexts["one.go"]
	assert.False(t, oldest, "least recently accessed context should be evicted")
}

func TestListByRepositoryIgnoresBranch(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	_, err := store.Create(ctx, "u1", &model.CreateConversationRequest{
		Repository: model.Repository{Owner: "alice", Name: "widgets", Branch: "main"},
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, "u1", &model.CreateConversationRequest{
		Repository: model.Repository{Owner: "alice", Name: "widgets", Branch: "dev"},
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, "u1", &model.CreateConversationRequest{
		Repository: model.Repository{Owner: "bob", Name: "other"},
	})
	require.NoError(t, err)

	matches := store.ListByRepository(ctx, "u1", "alice", "widgets")
	assert.Len(t, matches, 2)
	assert.Len(t, store.List(ctx, "u1"), 3)
}

func TestDeleteConversation(t *testing.T) {
	kv := storage.NewMemoryKV()
	store := newTestStore(t, kv)
	ctx := context.Background()

	conv, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, conv.ID))
	_, err = store.Get(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.Empty(t, store.Current(ctx, "u1"))

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.ErrorIs(t, store.Delete(ctx, conv.ID), ErrConversationNotFound)
}

func TestSnapshotRoundTrip(t *testing.T) {
	kv := storage.NewMemoryKV()
	ctx := context.Background()

	store := newTestStore(t, kv)
	conv, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)
	_, err = store.AppendUser(ctx, conv.ID, "persist me", "persist me", []string{"a.go"}, nil, nil)
	require.NoError(t, err)

	restored := newTestStore(t, kv)
	require.NoError(t, restored.LoadAll(ctx))

	got, err := restored.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist me", got.Title)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, conv.Repository, got.Repository)
	assert.Equal(t, []string{"a.go"}, got.ReferencedFiles)
}

func TestCleanupExpired(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	old, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)
	fresh, err := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)

	// backdate the first conversation past retention
	store.mu.Lock()
	store.conversations[old.ID].UpdatedAt = time.Now().Add(-15 * 24 * time.Hour)
	store.mu.Unlock()

	removed := store.CleanupExpired(ctx)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestSwitchCurrent(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	a, _ := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	b, _ := store.Create(ctx, "u1", &model.CreateConversationRequest{Repository: testRepo()})
	assert.Equal(t, b.ID, store.Current(ctx, "u1"))

	require.NoError(t, store.SwitchCurrent(ctx, "u1", a.ID))
	assert.Equal(t, a.ID, store.Current(ctx, "u1"))

	assert.ErrorIs(t, store.SwitchCurrent(ctx, "u1", "nope"), ErrConversationNotFound)
	assert.ErrorIs(t, store.SwitchCurrent(ctx, "u2", a.ID), ErrConversationNotFound)
}

func TestEnsureForRepository(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	conv, created, err := store.EnsureForRepository(ctx, "u1", testRepo())
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := store.EnsureForRepository(ctx, "u1", model.Repository{Owner: "alice", Name: "widgets", Branch: "dev"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, conv.ID, store.Current(ctx, "u1"))
}

package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repochat-ai/assistant-platform/internal/github"
	"github.com/repochat-ai/assistant-platform/internal/llm"
	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/internal/reference"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
)

type eventRecorder struct {
	mu        sync.Mutex
	user      []model.Message
	chunks    []string
	completes []model.Message
	cancelled []bool
	errCodes  []string
}

func (r *eventRecorder) callbacks() Callbacks {
	return Callbacks{
		OnUserMessage: func(msg model.Message) {
			r.mu.Lock()
			r.user = append(r.user, msg)
			r.mu.Unlock()
		},
		OnChunk: func(text string, _ int) {
			r.mu.Lock()
			r.chunks = append(r.chunks, text)
			r.mu.Unlock()
		},
		OnComplete: func(msg model.Message, cancelled bool) {
			r.mu.Lock()
			r.completes = append(r.completes, msg)
			r.cancelled = append(r.cancelled, cancelled)
			r.mu.Unlock()
		},
		OnError: func(code, _ string) {
			r.mu.Lock()
			r.errCodes = append(r.errCodes, code)
			r.mu.Unlock()
		},
	}
}

type exchangeEnv struct {
	store    *ConversationService
	registry *llm.Registry
	exchange *ExchangeService
	conv     *model.Conversation
}

func newExchangeEnv(t *testing.T, registry *llm.Registry, resolver *reference.Resolver, ccfg CompressorConfig) *exchangeEnv {
	t.Helper()

	store := newTestStore(t, nil)
	if registry == nil {
		registry = llm.NewRegistry()
	}
	if resolver == nil {
		resolver = reference.NewResolver(nil, nil, reference.NewCache(10), logger.NewNop())
	}
	compressor := NewCompressor(registry, ccfg, logger.NewNop())
	exchange := NewExchangeService(store, compressor, resolver, registry, ExchangeConfig{
		Timeout: 5 * time.Second,
	}, logger.NewNop())

	conv, err := store.Create(context.Background(), "u1", &model.CreateConversationRequest{Repository: testRepo()})
	require.NoError(t, err)

	return &exchangeEnv{store: store, registry: registry, exchange: exchange, conv: conv}
}

func TestSendHappyPath(t *testing.T) {
	fake := newFakeLLM("Hello", " there")
	env := newExchangeEnv(t, fake.register(t), nil, CompressorConfig{})
	rec := &eventRecorder{}

	err := env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{Content: "hi"}, rec.callbacks())
	require.NoError(t, err)

	require.Len(t, rec.user, 1)
	assert.Equal(t, "hi", rec.user[0].Content)
	assert.Equal(t, []string{"Hello", " there"}, rec.chunks)
	require.Len(t, rec.completes, 1)
	assert.Equal(t, "Hello there", rec.completes[0].Content)
	assert.False(t, rec.cancelled[0])
	assert.Empty(t, rec.errCodes)

	got, err := env.store.Get(context.Background(), env.conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, model.RoleAssistant, got.Messages[2].Role)
	assert.Equal(t, "Hello there", got.Messages[2].Content)
	assert.Equal(t, "fake", got.Messages[2].Metadata[model.MetaProvider])

	req := fake.lastStreamRequest()
	require.NotNil(t, req)
	assert.Equal(t, "fake-model", req.Model)
	assert.Equal(t, "system", req.Messages[0].Role)

	assert.False(t, env.exchange.InFlight(env.conv.ID))
}

func TestSendRejectsConcurrentExchange(t *testing.T) {
	fake := newFakeLLM("partial")
	fake.hangFirstStream = true
	env := newExchangeEnv(t, fake.register(t), nil, CompressorConfig{})

	firstDone := make(chan error, 1)
	firstRec := &eventRecorder{}
	go func() {
		firstDone <- env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{Content: "first"}, firstRec.callbacks())
	}()

	<-fake.delivered
	assert.True(t, env.exchange.InFlight(env.conv.ID))

	secondRec := &eventRecorder{}
	err := env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{Content: "second"}, secondRec.callbacks())
	assert.ErrorIs(t, err, ErrExchangeInFlight)
	assert.Equal(t, []string{"exchange_in_flight"}, secondRec.errCodes)

	// the rejected send must not have touched the conversation
	got, _ := env.store.Get(context.Background(), env.conv.ID)
	for _, msg := range got.Messages {
		assert.NotEqual(t, "second", msg.Content)
	}

	require.True(t, env.exchange.Cancel(env.conv.ID))
	require.NoError(t, <-firstDone)
}

func TestCancelFinalizesWithPartial(t *testing.T) {
	fake := newFakeLLM("partial answer")
	fake.hangFirstStream = true
	env := newExchangeEnv(t, fake.register(t), nil, CompressorConfig{})
	rec := &eventRecorder{}

	done := make(chan error, 1)
	go func() {
		done <- env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{Content: "question"}, rec.callbacks())
	}()

	<-fake.delivered
	require.True(t, env.exchange.Cancel(env.conv.ID))
	require.NoError(t, <-done)

	require.Len(t, rec.completes, 1)
	assert.True(t, rec.cancelled[0])
	assert.Contains(t, rec.completes[0].Content, "partial answer")
	assert.Contains(t, rec.completes[0].Content, cancelledMarker)
	assert.Empty(t, rec.errCodes)

	got, _ := env.store.Get(context.Background(), env.conv.ID)
	last := got.Messages[len(got.Messages)-1]
	assert.Equal(t, model.RoleAssistant, last.Role)
	assert.True(t, last.WasCancelled())
	assert.Contains(t, last.Content, "partial answer")

	// the in-flight slot is free: a new send succeeds immediately
	assert.False(t, env.exchange.InFlight(env.conv.ID))
	rec2 := &eventRecorder{}
	require.NoError(t, env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{Content: "again"}, rec2.callbacks()))
	require.Len(t, rec2.completes, 1)
	assert.False(t, rec2.cancelled[0])
}

func TestCancelWithoutExchange(t *testing.T) {
	fake := newFakeLLM("x")
	env := newExchangeEnv(t, fake.register(t), nil, CompressorConfig{})
	assert.False(t, env.exchange.Cancel(env.conv.ID))
}

func TestSendUnresolvedReferencePassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	gh := github.NewClient(github.Config{RawBaseURL: srv.URL})
	resolver := reference.NewResolver(gh, nil, reference.NewCache(10), logger.NewNop())

	fake := newFakeLLM("It is not in the repo.")
	env := newExchangeEnv(t, fake.register(t), resolver, CompressorConfig{})
	rec := &eventRecorder{}

	err := env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{
		Content: "What does @missing/file.js do?",
	}, rec.callbacks())
	require.NoError(t, err)

	// no error event fires for an unresolvable reference
	assert.Empty(t, rec.errCodes)
	require.Len(t, rec.completes, 1)

	// the literal token rides through to the transport
	req := fake.lastStreamRequest()
	require.NotNil(t, req)
	lastMsg := req.Messages[len(req.Messages)-1]
	assert.Contains(t, lastMsg.Content, "@missing/file.js")

	got, _ := env.store.Get(context.Background(), env.conv.ID)
	assert.Equal(t, "What does @missing/file.js do?", got.Messages[1].Content)
	assert.Equal(t, []string{"missing/file.js"}, got.Messages[1].ReferencedFiles)
}

func TestSendInlinesResolvedReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/alice/widgets/main/src/util.go" {
			w.Write([]byte("package util\n\nfunc Double(n int) int { return n * 2 }\n"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	gh := github.NewClient(github.Config{RawBaseURL: srv.URL})
	resolver := reference.NewResolver(gh, nil, reference.NewCache(10), logger.NewNop())

	fake := newFakeLLM("Double doubles.")
	env := newExchangeEnv(t, fake.register(t), resolver, CompressorConfig{})
	rec := &eventRecorder{}

	err := env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{
		Content: "Explain @src/util.go",
	}, rec.callbacks())
	require.NoError(t, err)

	got, _ := env.store.Get(context.Background(), env.conv.ID)
	userMsg := got.Messages[1]
	assert.Contains(t, userMsg.Content, "Referenced file: src/util.go")
	assert.Contains(t, userMsg.Content, "func Double")
	assert.Equal(t, "Explain @src/util.go", userMsg.OriginalContent)

	require.Contains(t, got.CodeContexts, "src/util.go")
	cc := got.CodeContexts["src/util.go"]
	assert.Equal(t, "go", cc.Language)
	assert.Equal(t, "util.go", cc.DisplayName)
	assert.NotEmpty(t, cc.Snippets)
	assert.Equal(t, []string{"src/util.go"}, got.ReferencedFiles)
}

func TestSendProviderNotConfigured(t *testing.T) {
	env := newExchangeEnv(t, nil, nil, CompressorConfig{})
	rec := &eventRecorder{}

	err := env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{Content: "hi"}, rec.callbacks())
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
	assert.Equal(t, []string{"provider_not_configured"}, rec.errCodes)

	// rejected before any state change
	got, _ := env.store.Get(context.Background(), env.conv.ID)
	assert.Len(t, got.Messages, 1)
	assert.Equal(t, 1, got.MessageCount)
}

func TestSendTransportFailureAppendsSystemNote(t *testing.T) {
	fake := newFakeLLM()
	fake.streamErr = errors.New("upstream exploded")
	env := newExchangeEnv(t, fake.register(t), nil, CompressorConfig{})
	rec := &eventRecorder{}

	err := env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{Content: "hi"}, rec.callbacks())
	require.Error(t, err)
	assert.Equal(t, []string{"stream_failed"}, rec.errCodes)
	assert.Empty(t, rec.completes)

	got, _ := env.store.Get(context.Background(), env.conv.ID)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, model.RoleUser, got.Messages[1].Role)
	note := got.Messages[2]
	assert.Equal(t, model.RoleSystem, note.Role)
	assert.Contains(t, note.Content, "upstream exploded")
	assert.Equal(t, "true", note.Metadata[model.MetaSystemNote])

	assert.False(t, env.exchange.InFlight(env.conv.ID))
}

func TestSendTransportFailureKeepsPartialReply(t *testing.T) {
	fake := newFakeLLM("the answer is")
	fake.streamErr = errors.New("connection reset")
	env := newExchangeEnv(t, fake.register(t), nil, CompressorConfig{})
	rec := &eventRecorder{}

	err := env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{Content: "hi"}, rec.callbacks())
	require.Error(t, err)
	assert.Equal(t, []string{"the answer is"}, rec.chunks)

	// text the user already saw streaming survives the failure
	got, _ := env.store.Get(context.Background(), env.conv.ID)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, model.RoleAssistant, got.Messages[2].Role)
	assert.Equal(t, "the answer is", got.Messages[2].Content)
	assert.Equal(t, model.RoleSystem, got.Messages[3].Role)
	assert.Contains(t, got.Messages[3].Content, "connection reset")
}

func TestSendEmptyContentRejected(t *testing.T) {
	fake := newFakeLLM("x")
	env := newExchangeEnv(t, fake.register(t), nil, CompressorConfig{})
	rec := &eventRecorder{}

	err := env.exchange.Send(context.Background(), env.conv.ID, &model.SendMessageRequest{Content: "   "}, rec.callbacks())
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, []string{"empty_message"}, rec.errCodes)
}

func TestSendUnknownConversation(t *testing.T) {
	fake := newFakeLLM("x")
	env := newExchangeEnv(t, fake.register(t), nil, CompressorConfig{})
	rec := &eventRecorder{}

	err := env.exchange.Send(context.Background(), "no-such-id", &model.SendMessageRequest{Content: "hi"}, rec.callbacks())
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.Equal(t, []string{"conversation_not_found"}, rec.errCodes)
}

func TestSendCompressesWhenOverBudget(t *testing.T) {
	fake := newFakeLLM("final answer")
	fake.summary = "earlier talk about setup"
	registry := fake.register(t)
	env := newExchangeEnv(t, registry, nil, CompressorConfig{
		MaxContextTokens: 100,
		TriggerPercent:   75,
		KeepRecent:       2,
	})
	ctx := context.Background()

	filler := strings.Repeat("long question text ", 12) // ~230 chars
	for i := 0; i < 3; i++ {
		_, err := env.store.AppendUser(ctx, env.conv.ID, filler, filler, nil, nil, nil)
		require.NoError(t, err)
	}

	rec := &eventRecorder{}
	err := env.exchange.Send(ctx, env.conv.ID, &model.SendMessageRequest{Content: "final question"}, rec.callbacks())
	require.NoError(t, err)

	got, _ := env.store.Get(ctx, env.conv.ID)

	// [intro, summary, two recent, assistant]
	require.Len(t, got.Messages, 5)
	assert.Equal(t, model.RoleSystem, got.Messages[0].Role)
	assert.True(t, got.Messages[1].IsSummary())
	assert.Equal(t, CompressionModeLLM, got.Messages[1].Metadata[model.MetaSummaryMode])
	assert.Contains(t, got.Messages[1].Content, "earlier talk about setup")
	assert.Equal(t, "final question", got.Messages[3].Content)
	assert.Equal(t, model.RoleAssistant, got.Messages[4].Role)

	assert.Equal(t, 1, fake.completeCalls())
	assert.Equal(t, "earlier talk about setup", got.Summary)
	assert.Equal(t, 1, got.SummaryCount)

	sum := 0
	for _, msg := range got.Messages {
		sum += msg.TokenEstimate
	}
	assert.Equal(t, sum, got.TokenEstimate)

	// the compressed view is what went to the provider
	req := fake.lastStreamRequest()
	require.NotNil(t, req)
	assert.Len(t, req.Messages, 4)
	assert.Contains(t, req.Messages[1].Content, "Summary of the earlier conversation")
}

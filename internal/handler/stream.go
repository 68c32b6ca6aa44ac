package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/repochat-ai/assistant-platform/internal/middleware"
	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/internal/service"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
	"github.com/repochat-ai/assistant-platform/pkg/metrics"
)

// StreamHandler runs exchanges over SSE.
type StreamHandler struct {
	exchange      *service.ExchangeService
	conversations *service.ConversationService
	logger        *logger.Logger
	heartbeat     time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	exchange *service.ExchangeService,
	conversations *service.ConversationService,
	log *logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		exchange:      exchange,
		conversations: conversations,
		logger:        log,
		heartbeat:     15 * time.Second,
	}
}

// sseWriter serializes event writes; chunk callbacks and the heartbeat
// ticker write concurrently.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (sw *sseWriter) send(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Stream handles POST /api/v1/conversations/{id}/stream. The request
// carries the user message; the response is an SSE stream of
// connected, user_message, chunk, complete|error, done, with heartbeats
// while the provider is quiet. Client disconnect cancels the exchange;
// the partial reply is still persisted.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conv, ok := ownedConversation(h.conversations, w, r)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sw := &sseWriter{w: w, flusher: flusher}
	sw.send("connected", map[string]string{"conversation_id": conv.ID})

	exchangeDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-exchangeDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.send("heartbeat", &model.HeartbeatEvent{Timestamp: time.Now()})
			}
		}
	}()

	err := h.exchange.Send(ctx, conv.ID, &req, service.Callbacks{
		OnUserMessage: func(msg model.Message) {
			sw.send("user_message", &model.UserMessageEvent{Message: msg})
		},
		OnChunk: func(text string, index int) {
			sw.send("chunk", &model.ChunkEvent{Text: text, Index: index})
		},
		OnComplete: func(msg model.Message, cancelled bool) {
			sw.send("complete", &model.CompleteEvent{Message: msg, Cancelled: cancelled})
		},
		OnError: func(code, message string) {
			sw.send("error", &model.ErrorEvent{Code: code, Message: message})
		},
	})
	close(exchangeDone)

	if err != nil {
		h.logger.Warn("exchange ended with error", "conversation_id", conv.ID, "error", err)
	}
	sw.send("done", map[string]bool{"success": err == nil})
}

// Cancel handles POST /api/v1/conversations/{id}/cancel. Cancelling a
// conversation with nothing in flight is a no-op, reported as such.
func (h *StreamHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	conv, ok := ownedConversation(h.conversations, w, r)
	if !ok {
		return
	}

	cancelled := h.exchange.Cancel(conv.ID)
	h.logger.Info("cancel requested", "conversation_id", conv.ID, "cancelled", cancelled)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

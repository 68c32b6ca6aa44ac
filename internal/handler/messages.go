package handler

import (
	"net/http"
	"strconv"

	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/internal/service"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
)

// MessageHandler handles message listing.
type MessageHandler struct {
	conversations *service.ConversationService
	logger        *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(conversations *service.ConversationService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		conversations: conversations,
		logger:        log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages. The optional
// ?limit=N returns only the newest N messages; Total always reflects the
// full thread as currently stored.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conv, ok := ownedConversation(h.conversations, w, r)
	if !ok {
		return
	}

	messages := conv.Messages
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err := strconv.Atoi(l); err == nil && limit > 0 && limit < len(messages) {
			messages = messages[len(messages)-limit:]
		}
	}

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		Messages: messages,
		Total:    len(conv.Messages),
	})
}

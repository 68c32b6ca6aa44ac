// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/repochat-ai/assistant-platform/internal/middleware"
	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/internal/service"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	conversations *service.ConversationService
	logger        *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(conversations *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		logger:        log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateRepository(req.Repository); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.conversations.Create(ctx, userID, &req)
	if err != nil {
		h.logger.Error("failed to create conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations. With ?owner= and ?name= the
// listing is narrowed to conversations about that repository.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	owner := r.URL.Query().Get("owner")
	name := r.URL.Query().Get("name")

	var summaries []model.ConversationSummary
	if owner != "" && name != "" {
		summaries = h.conversations.ListByRepository(ctx, userID, owner, name)
	} else {
		summaries = h.conversations.List(ctx, userID)
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: summaries,
		Total:         len(summaries),
	})
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, ok := ownedConversation(h.conversations, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conv, ok := ownedConversation(h.conversations, w, r)
	if !ok {
		return
	}

	if err := h.conversations.Delete(r.Context(), conv.ID); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to delete conversation", "conversation_id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Current handles GET /api/v1/conversations/current
func (h *ConversationHandler) Current(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	writeJSON(w, http.StatusOK, &model.CurrentConversationResponse{
		ID: h.conversations.Current(r.Context(), userID),
	})
}

// SwitchCurrent handles PUT /api/v1/conversations/current
func (h *ConversationHandler) SwitchCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.conversations.SwitchCurrent(ctx, userID, req.ID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, &model.CurrentConversationResponse{ID: req.ID})
}

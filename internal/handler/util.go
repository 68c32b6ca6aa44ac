package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/repochat-ai/assistant-platform/internal/middleware"
	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/internal/service"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// ownedConversation loads the conversation named by the {id} route param
// and verifies it belongs to the authenticated user. On failure it has
// already written the error response; ownership mismatches read as not
// found so ids cannot be probed.
func ownedConversation(conversations *service.ConversationService, w http.ResponseWriter, r *http.Request) (*model.Conversation, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	conv, err := conversations.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if conv.UserID != middleware.GetUserID(r.Context()) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	return conv, true
}

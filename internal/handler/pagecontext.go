package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/repochat-ai/assistant-platform/internal/github"
	"github.com/repochat-ai/assistant-platform/internal/middleware"
	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/internal/reference"
	"github.com/repochat-ai/assistant-platform/internal/service"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
)

// ContextHandler receives page state pushed by the extension and serves
// the repository tree it completes @path references from.
type ContextHandler struct {
	page          *reference.PageState
	conversations *service.ConversationService
	github        *github.Client
	logger        *logger.Logger
}

// NewContextHandler creates a new context handler.
func NewContextHandler(page *reference.PageState, conversations *service.ConversationService, gh *github.Client, log *logger.Logger) *ContextHandler {
	return &ContextHandler{
		page:          page,
		conversations: conversations,
		github:        gh,
		logger:        log,
	}
}

// UpdatePage handles PUT /api/v1/context/page. The extension pushes what
// it scraped: the open file and the visible tree links. The snapshot is
// replaced wholesale.
func (h *ContextHandler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	var upd model.PageContextUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateRepository(upd.Repository); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.page.Update(upd)
	h.logger.Debug("page context updated",
		"repository", upd.Repository.String(),
		"current_file", upd.CurrentFilePath,
		"visible_links", len(upd.VisibleFileLinks),
	)
	w.WriteHeader(http.StatusNoContent)
}

// Tree handles GET /api/v1/context/tree. It returns the blob paths of
// the requested branch so the extension can offer completions while the
// user types an @path reference.
func (h *ContextHandler) Tree(w http.ResponseWriter, r *http.Request) {
	repo := model.Repository{
		Owner:  r.URL.Query().Get("owner"),
		Name:   r.URL.Query().Get("name"),
		Branch: r.URL.Query().Get("branch"),
	}
	if err := middleware.ValidateRepository(repo); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.github == nil {
		writeError(w, http.StatusServiceUnavailable, "repository access is not configured")
		return
	}

	branch := repo.Branch
	if branch == "" {
		branch = "main"
	}

	paths, err := h.github.ListTree(r.Context(), repo.Owner, repo.Name, branch)
	if err != nil {
		if errors.Is(err, github.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, "branch not found")
			return
		}
		h.logger.Warn("failed to list repository tree", "repository", repo.String(), "error", err)
		writeError(w, http.StatusBadGateway, "failed to list repository tree")
		return
	}

	writeJSON(w, http.StatusOK, &model.RepositoryTreeResponse{
		Paths: paths,
		Total: len(paths),
	})
}

// RepositoryChanged handles POST /api/v1/context/repository. Navigating
// to a different repository switches the current conversation to the
// most recent one about it, creating a fresh conversation when the user
// has none.
func (h *ContextHandler) RepositoryChanged(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var evt model.RepositoryChangedEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateRepository(evt.Repository); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, created, err := h.conversations.EnsureForRepository(ctx, userID, evt.Repository)
	if err != nil {
		h.logger.Error("failed to switch repository", "repository", evt.Repository.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to switch repository")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, &model.RepositoryChangedResponse{
		ConversationID: conv.ID,
		Created:        created,
	})
}

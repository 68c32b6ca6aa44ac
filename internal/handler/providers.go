package handler

import (
	"encoding/json"
	"net/http"

	"github.com/repochat-ai/assistant-platform/internal/llm"
	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
)

// ProviderHandler exposes LLM provider selection.
type ProviderHandler struct {
	registry *llm.Registry
	logger   *logger.Logger
}

// NewProviderHandler creates a new provider handler.
func NewProviderHandler(registry *llm.Registry, log *logger.Logger) *ProviderHandler {
	return &ProviderHandler{
		registry: registry,
		logger:   log,
	}
}

// List handles GET /api/v1/providers. Model listings are only known for
// the active provider; the others are names until configured.
func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	var activeName string
	var activeModels []string
	if active, err := h.registry.Active(); err == nil {
		activeName = active.Client.Name()
		activeModels = active.Client.Models()
	}

	providers := h.registry.Providers()
	infos := make([]model.ProviderInfo, 0, len(providers))
	for _, name := range providers {
		info := model.ProviderInfo{Name: string(name)}
		if string(name) == activeName {
			info.Active = true
			info.Models = activeModels
		}
		infos = append(infos, info)
	}

	writeJSON(w, http.StatusOK, &model.ListProvidersResponse{
		Providers: infos,
		Active:    activeName,
	})
}

// Configure handles PUT /api/v1/providers. A failed configuration leaves
// the previously active provider in place.
func (h *ProviderHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var req model.ConfigureProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}

	err := h.registry.Configure(llm.Provider(req.Provider), llm.Options{
		APIKey:  req.APIKey,
		BaseURL: req.BaseURL,
		Model:   req.Model,
	})
	if err != nil {
		h.logger.Warn("provider configuration rejected", "provider", req.Provider, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	active, err := h.registry.Active()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "provider not active after configuration")
		return
	}

	h.logger.Info("provider configured", "provider", active.Client.Name(), "model", active.Model)
	writeJSON(w, http.StatusOK, &model.ProviderInfo{
		Name:   active.Client.Name(),
		Models: active.Client.Models(),
		Active: true,
	})
}

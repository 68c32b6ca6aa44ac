package model

// PageContextUpdate mirrors what the extension scrapes from the host
// page: the file currently open in the GitHub UI plus the file links
// visible in the tree, pushed via PUT /context/page.
type PageContextUpdate struct {
	Repository       Repository `json:"repository"`
	CurrentFilePath  string     `json:"current_file_path,omitempty"`
	CurrentFileText  string     `json:"current_file_text,omitempty"`
	VisibleFileLinks []string   `json:"visible_file_links,omitempty"`
}

// RepositoryChangedEvent signals that the user navigated to a different
// repository, posted via POST /context/repository. The platform switches
// the current conversation to one matching the new repository.
type RepositoryChangedEvent struct {
	Repository Repository `json:"repository"`
}

// RepositoryChangedResponse reports the outcome of a repository switch.
type RepositoryChangedResponse struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Created        bool   `json:"created"`
}

// RepositoryTreeResponse lists the file paths of a branch, used by the
// extension to complete @path references as the user types.
type RepositoryTreeResponse struct {
	Paths []string `json:"paths"`
	Total int      `json:"total"`
}

// ConfigureProviderRequest selects and configures the active LLM provider.
type ConfigureProviderRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}

// ProviderInfo describes one registered provider.
type ProviderInfo struct {
	Name   string   `json:"name"`
	Models []string `json:"models,omitempty"`
	Active bool     `json:"active"`
}

// ListProvidersResponse is the payload for GET /providers.
type ListProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
	Active    string         `json:"active,omitempty"`
}

package reference

import (
	"sync"

	"github.com/repochat-ai/assistant-platform/internal/model"
)

// PageView exposes what the extension can see on the host page. All
// methods may return empty results; the resolver must cope with that.
type PageView interface {
	CurrentFilePath() string
	CurrentFileText() string
	VisibleFileLinks() []string
}

// PageState is the server-side mirror of the host page, replaced
// wholesale on every PUT /context/page.
type PageState struct {
	mu    sync.RWMutex
	repo  model.Repository
	path  string
	text  string
	links []string
}

// NewPageState returns an empty page mirror.
func NewPageState() *PageState {
	return &PageState{}
}

// Update replaces the mirrored page snapshot.
func (s *PageState) Update(u model.PageContextUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repo = u.Repository
	s.path = u.CurrentFilePath
	s.text = u.CurrentFileText
	s.links = append([]string(nil), u.VisibleFileLinks...)
}

// Repository returns the repository of the last page snapshot.
func (s *PageState) Repository() model.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo
}

func (s *PageState) CurrentFilePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

func (s *PageState) CurrentFileText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

func (s *PageState) VisibleFileLinks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.links...)
}

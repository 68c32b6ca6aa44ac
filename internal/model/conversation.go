// Package model defines data structures for the assistant platform.
package model

import (
	"fmt"
	"sort"
	"time"
)

// Repository identifies the GitHub repository a conversation is scoped to.
type Repository struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Branch string `json:"branch,omitempty"`
}

// String renders the descriptor as owner/name@branch.
func (r Repository) String() string {
	branch := r.Branch
	if branch == "" {
		branch = "main"
	}
	return fmt.Sprintf("%s/%s@%s", r.Owner, r.Name, branch)
}

// SameRepo reports whether two descriptors name the same repository,
// ignoring the branch.
func (r Repository) SameRepo(other Repository) bool {
	return r.Owner == other.Owner && r.Name == other.Name
}

// SnippetType classifies a region extracted from a referenced file.
type SnippetType string

const (
	SnippetFunction  SnippetType = "function"
	SnippetClass     SnippetType = "class"
	SnippetInterface SnippetType = "interface"
	SnippetComment   SnippetType = "comment"
)

// Snippet is a structurally interesting region of a referenced file,
// used when the whole file is too large to inline.
type Snippet struct {
	Type    SnippetType `json:"type"`
	Name    string      `json:"name,omitempty"`
	Content string      `json:"content"`
	Line    int         `json:"line"`
}

// CodeContext is the cached derived view of a file referenced in a
// conversation: language, size and extracted snippets.
type CodeContext struct {
	Path        string    `json:"path"`
	DisplayName string    `json:"display_name"`
	Language    string    `json:"language,omitempty"`
	Size        int       `json:"size"`
	Snippets    []Snippet `json:"snippets,omitempty"`
	LastAccess  time.Time `json:"last_access"`
}

// Conversation is a message thread about a single repository.
type Conversation struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Repository Repository `json:"repository"`
	Title      string     `json:"title"`

	Messages []Message `json:"messages"`

	// Summary holds the text of the most recent compression summary,
	// empty until the conversation has been compressed at least once.
	Summary         string                  `json:"summary,omitempty"`
	TokenEstimate   int                     `json:"token_estimate"`
	ReferencedFiles []string                `json:"referenced_files,omitempty"`
	CodeContexts    map[string]*CodeContext `json:"code_contexts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// MessageCount is the number of messages ever appended. Unlike
	// len(Messages) it does not shrink when compression replaces the
	// middle of the thread.
	MessageCount int `json:"message_count"`
	SummaryCount int `json:"summary_count"`
}

// AddReferencedFiles merges paths into the conversation-level referenced
// file set, keeping it sorted and free of duplicates.
func (c *Conversation) AddReferencedFiles(paths ...string) {
	if len(paths) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(c.ReferencedFiles)+len(paths))
	for _, p := range c.ReferencedFiles {
		seen[p] = struct{}{}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		c.ReferencedFiles = append(c.ReferencedFiles, p)
	}
	sort.Strings(c.ReferencedFiles)
}

// Clone returns a deep copy safe to hand to readers while the original
// keeps being mutated under the store lock.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		for i := range c.Messages {
			out.Messages[i] = *c.Messages[i].Clone()
		}
	}
	if c.ReferencedFiles != nil {
		out.ReferencedFiles = append([]string(nil), c.ReferencedFiles...)
	}
	if c.CodeContexts != nil {
		out.CodeContexts = make(map[string]*CodeContext, len(c.CodeContexts))
		for path, cc := range c.CodeContexts {
			dup := *cc
			if cc.Snippets != nil {
				dup.Snippets = append([]Snippet(nil), cc.Snippets...)
			}
			out.CodeContexts[path] = &dup
		}
	}
	return &out
}

// CreateConversationRequest is the payload for POST /conversations.
type CreateConversationRequest struct {
	Repository Repository `json:"repository"`
	Title      string     `json:"title,omitempty"`
}

// ConversationSummary is the list-view projection of a conversation.
type ConversationSummary struct {
	ID            string     `json:"id"`
	Repository    Repository `json:"repository"`
	Title         string     `json:"title"`
	MessageCount  int        `json:"message_count"`
	TokenEstimate int        `json:"token_estimate"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Summarize projects the conversation into its list view.
func (c *Conversation) Summarize() ConversationSummary {
	return ConversationSummary{
		ID:            c.ID,
		Repository:    c.Repository,
		Title:         c.Title,
		MessageCount:  c.MessageCount,
		TokenEstimate: c.TokenEstimate,
		UpdatedAt:     c.UpdatedAt,
	}
}

// ListConversationsResponse is the payload for GET /conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
}

// CurrentConversationResponse reports which conversation the client
// should treat as active.
type CurrentConversationResponse struct {
	ID string `json:"id,omitempty"`
}

package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Metadata keys attached to messages the platform itself produces.
const (
	MetaSummary     = "summary"      // message replaces compressed history
	MetaSummaryMode = "summary_mode" // "llm" or "heuristic"
	MetaCancelled   = "cancelled"    // assistant message cut short by the user
	MetaSystemNote  = "system_note"  // non-user system annotation (errors, markers)
	MetaProvider    = "provider"     // provider that produced an assistant message
	MetaModel       = "model"        // model that produced an assistant message
)

// Attachment is an opaque image blob carried alongside a user message.
type Attachment struct {
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64 payload
	Size      int    `json:"size,omitempty"`
}

// Message is a single turn in a conversation. Content is what the model
// sees; OriginalContent preserves the user's raw input when reference
// resolution rewrote it.
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`

	Content         string `json:"content"`
	OriginalContent string `json:"original_content,omitempty"`

	CreatedAt       time.Time         `json:"created_at"`
	TokenEstimate   int               `json:"token_estimate"`
	ReferencedFiles []string          `json:"referenced_files,omitempty"`
	Attachments     []Attachment      `json:"attachments,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// DisplayContent returns what the user typed, falling back to the
// enhanced content for messages that were never rewritten.
func (m *Message) DisplayContent() string {
	if m.OriginalContent != "" {
		return m.OriginalContent
	}
	return m.Content
}

// IsSummary reports whether this message stands in for compressed history.
func (m *Message) IsSummary() bool {
	if m.Metadata == nil {
		return false
	}
	_, ok := m.Metadata[MetaSummary]
	return ok
}

// WasCancelled reports whether this assistant message was cut short.
func (m *Message) WasCancelled() bool {
	if m.Metadata == nil {
		return false
	}
	_, ok := m.Metadata[MetaCancelled]
	return ok
}

// SetMeta attaches a metadata key, allocating the map on first use.
func (m *Message) SetMeta(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string, 2)
	}
	m.Metadata[key] = value
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	out := *m
	if m.ReferencedFiles != nil {
		out.ReferencedFiles = append([]string(nil), m.ReferencedFiles...)
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// SendMessageRequest is the payload for POST /conversations/{id}/stream.
type SendMessageRequest struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Model       string       `json:"model,omitempty"`
}

// ListMessagesResponse is the payload for GET /conversations/{id}/messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}

// ChunkEvent carries one streamed fragment of the assistant reply.
type ChunkEvent struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// UserMessageEvent echoes the stored user message back to the client
// before streaming starts, so the UI can render resolved references.
type UserMessageEvent struct {
	Message Message `json:"message"`
}

// CompleteEvent closes a stream. Cancelled is true when the user aborted
// the exchange and the message holds the partial reply.
type CompleteEvent struct {
	Message   Message `json:"message"`
	Cancelled bool    `json:"cancelled"`
}

// ErrorEvent reports a failed exchange over the stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent keeps idle streams alive through proxies.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

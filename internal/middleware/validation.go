package middleware

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/repochat-ai/assistant-platform/internal/model"
)

// maxContentBytes bounds a single message body (~100KB).
const maxContentBytes = 100000

var (
	ownerPattern  = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})$`)
	namePattern   = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
	branchPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]{1,250}$`)
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateRepository validates a repository descriptor against GitHub
// naming rules.
func ValidateRepository(repo model.Repository) error {
	if !ownerPattern.MatchString(repo.Owner) {
		return errors.New("invalid repository owner")
	}
	if !namePattern.MatchString(repo.Name) {
		return errors.New("invalid repository name")
	}
	if repo.Branch != "" {
		if !branchPattern.MatchString(repo.Branch) || strings.Contains(repo.Branch, "..") {
			return errors.New("invalid branch name")
		}
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}

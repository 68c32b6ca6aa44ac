package service

import "errors"

var (
	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrExchangeInFlight is returned when a send is attempted while a
	// previous exchange on the same conversation is still streaming.
	// The second send is rejected, never queued.
	ErrExchangeInFlight = errors.New("an exchange is already in flight for this conversation")

	// ErrEmptyContent is returned when a message has no text.
	ErrEmptyContent = errors.New("message content is empty")
)

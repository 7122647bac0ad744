// Package store persists conversation transcripts. Conversation state is
// an explicit value threaded through each turn, not a hidden session
// handle held by a vendor SDK.
package store

import (
	"errors"

	"ragchat/internal/models"
)

// ErrNotFound reports a missing conversation.
var ErrNotFound = errors.New("conversation not found")

// ConversationStore records chat turns. Implementations: in-memory
// (default) and SQLite (RAGCHAT_SQLITE_PATH).
type ConversationStore interface {
	CreateConversation(title string) (*models.Conversation, error)
	// GetConversation returns the conversation with its messages in
	// chronological order.
	GetConversation(id string) (*models.Conversation, error)
	// ListConversations returns all conversations without messages,
	// newest first.
	ListConversations() ([]*models.Conversation, error)
	AppendMessage(convID string, msg models.ChatMessage) error
	// CleanupConversations removes conversations older than ttlDays and
	// returns how many were deleted.
	CleanupConversations(ttlDays int) (int, error)
	Close() error
}

package models

import "time"

// DefaultTitle is the placeholder title given to a conversation until a
// first user message (or an explicit rename) provides one.
const DefaultTitle = "New Chat"

// Conversation is a titled, timestamped, ordered collection of messages.
type Conversation struct {
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// UserConversations groups one user's conversations by conversation id.
type UserConversations struct {
	Conversations map[string]*Conversation `json:"conversations"`
}

// Document is the whole persisted conversation store: user id mapped to
// that user's conversations.
type Document struct {
	Users map[string]*UserConversations `json:"users"`
}

// NewDocument returns an empty document ready for mutation.
func NewDocument() *Document {
	return &Document{Users: make(map[string]*UserConversations)}
}

// ConversationSummary is the sidebar view of a conversation.
type ConversationSummary struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	LastMessage  *time.Time `json:"last_message,omitempty"`
	MessageCount int        `json:"message_count"`
}

// Kinds reported by delete-by-id disambiguation.
const (
	DeletedConversation = "conversation"
	DeletedMessage      = "message"
	// DeletedMessageAndConversation is reported when removing a message
	// left its conversation empty and the conversation was cascaded away.
	DeletedMessageAndConversation = "message_and_conversation"
)

// DeleteResult describes what a delete-by-id call removed.
type DeleteResult struct {
	DeletedType string `json:"deleted_type"`
	TargetID    string `json:"target_id"`
	Title       string `json:"title,omitempty"`
}

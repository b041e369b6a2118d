package models

import "time"

// Message roles. Messages are authored either by a person or by the
// generation backend replying to one.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a conversation. Messages are append-only except
// for content edits, which set Edited and stamp EditTimestamp.
type Message struct {
	MessageID string `json:"message_id"`
	ParentID  string `json:"parent_id"`
	// ReplyID is set only on assistant messages and references the user
	// message being answered.
	ReplyID   string    `json:"reply_id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Edited    bool      `json:"edited"`
	Timestamp time.Time `json:"timestamp"`
	// EditTimestamp is omitted entirely when the message was never edited.
	EditTimestamp *time.Time `json:"edit_timestamp,omitempty"`
}

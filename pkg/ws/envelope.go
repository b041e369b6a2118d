package ws

import (
	"encoding/json"
	"fmt"

	"chatrelay/pkg/models"
)

// Inbound envelope tags.
const (
	TypeStartConnection     = "start_connection"
	TypeDisconnect          = "disconnect"
	TypeAIRequest           = "ai_request"
	TypeFetchSidebarHistory = "fetch_sidebar_history"
	TypeFetchConversation   = "fetch_conversation"
	TypeStartNewSession     = "start_new_session"
	TypeEditContentTitle    = "edit_content_title"
	TypeEditContent         = "edit_content"
	TypeDeleteContent       = "delete_content"
	TypeFetchAllMessages    = "fetch_all_messages"
)

// Outbound envelope tags.
const (
	TypeStreamChunk         = "stream_chunk"
	TypeStreamEnd           = "stream_end"
	TypeSessionCreated      = "session_created"
	TypeDisconnected        = "disconnected"
	TypeError               = "error"
	TypeAIResponse          = "ai_response"
	TypeSidebarHistory      = "sidebar_history"
	TypeConversationHistory = "conversation_history"
	TypeMessageCreated      = "message_created"
	TypeMessageEdited       = "message_edited"
	TypeContentDeleted      = "content_deleted"
	TypeTitleUpdated        = "title_updated"
	TypeAllMessages         = "all_messages"
)

// Wire error codes for handshake failures; each auth error kind maps
// to one so clients can tell a refreshable token from a broken one.
const (
	CodeTokenMissing   = "token_missing"
	CodeTokenExpired   = "token_expired"
	CodeTokenMalformed = "token_malformed"
	CodeTokenSignature = "token_signature_invalid"
	CodeUnknownRequest = "unknown_request"
)

// handshake is the first-frame credential payload. start_connection
// frames carry the same token field and are accepted as a handshake.
type handshake struct {
	Token string `json:"token"`
}

type startConnectionReq struct {
	Token string `json:"token"`
}

type disconnectReq struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type aiRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

type fetchConversationReq struct {
	ConversationID string `json:"conversation_id"`
}

// editContentTitleReq edits a message's content. The tag does not say
// so, but the pairing is part of the wire contract and clients depend
// on it.
type editContentTitleReq struct {
	ContentID string `json:"content_id"`
	Content   string `json:"content"`
}

// editContentReq renames the conversation containing message_id. See
// the note on editContentTitleReq.
type editContentReq struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type deleteContentReq struct {
	TargetID string `json:"target_id"`
}

// envelope is an inbound frame split into its discriminant and the
// undecoded remainder. Payload is decoded once, after the tag picks
// the concrete type.
type envelope struct {
	Type    string
	payload json.RawMessage
}

func decodeEnvelope(frame []byte) (envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if head.Type == "" {
		return envelope{}, fmt.Errorf("envelope missing type tag")
	}
	return envelope{Type: head.Type, payload: frame}, nil
}

// decodePayload decodes the envelope body into the tag's request type.
func decodePayload[T any](env envelope) (T, error) {
	var out T
	if err := json.Unmarshal(env.payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return out, nil
}

// Outbound envelopes. Every response carries the tag and a status so
// clients can switch on type first and success second.

type streamChunkEvent struct {
	Type  string `json:"type"`
	Chunk string `json:"chunk"`
}

type streamEndEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type sessionCreatedEvent struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type disconnectedEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type errorEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error"`
}

type aiResponseEvent struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Response string `json:"response"`
}

type sidebarHistoryEvent struct {
	Type          string                       `json:"type"`
	Status        string                       `json:"status"`
	Conversations []models.ConversationSummary `json:"conversations"`
}

type conversationHistoryEvent struct {
	Type           string           `json:"type"`
	Status         string           `json:"status"`
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
}

type messageCreatedEvent struct {
	Type    string         `json:"type"`
	Status  string         `json:"status"`
	Message models.Message `json:"message"`
}

type messageEditedEvent struct {
	Type    string         `json:"type"`
	Status  string         `json:"status"`
	Message models.Message `json:"message"`
}

type contentDeletedEvent struct {
	Type        string `json:"type"`
	Status      string `json:"status"`
	DeletedType string `json:"deleted_type"`
	TargetID    string `json:"target_id"`
	Title       string `json:"title,omitempty"`
}

type titleUpdatedEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Title  string `json:"title"`
}

type allMessagesEvent struct {
	Type     string           `json:"type"`
	Status   string           `json:"status"`
	Messages []models.Message `json:"messages"`
}

// marshal encodes an outbound envelope, falling back to a bare error
// frame if encoding fails (it should not, for these types).
func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","status":"error","error":"internal encoding failure"}`)
	}
	return data
}

func errFrame(code, msg string) []byte {
	return marshal(errorEvent{Type: TypeError, Status: "error", Code: code, Error: msg})
}

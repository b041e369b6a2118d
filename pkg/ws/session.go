// Package ws owns the websocket side of the relay: the connection
// gateway, the per-connection session actor, and the tagged envelope
// protocol spoken over the wire.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/llm"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/metrics"
	"chatrelay/pkg/models"
	"chatrelay/pkg/registry"
	"chatrelay/pkg/session"
	"chatrelay/pkg/store"
	"chatrelay/pkg/utils"
	"chatrelay/pkg/validation"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound channel depth per connection; stream chunks drop when
	// the client cannot keep up.
	sendDepth = 256
)

// Deps bundles the services a session actor consumes. Everything is
// injected by reference; the actor owns nothing shared.
type Deps struct {
	Registry *registry.Registry
	Store    *store.Store
	Sessions *session.Index
	Verifier *auth.Verifier
	LLM      *llm.Client
	Limits   validation.Limits

	// MaxFrameBytes caps inbound frame size. Zero means 64 KiB.
	MaxFrameBytes int64
}

func (d *Deps) maxFrame() int64 {
	if d.MaxFrameBytes > 0 {
		return d.MaxFrameBytes
	}
	return 64 * 1024
}

// actor is one connection's session. State progresses from
// authenticating through active to closed; the zero value is never
// used.
type actor struct {
	deps      *Deps
	conn      *websocket.Conn
	connID    string
	claims    auth.Claims
	sessionID string
	send      chan []byte
	stop      chan struct{}
	done      chan struct{}
}

// Serve runs the session for one accepted connection. queryToken is
// the token query parameter from the upgrade request, empty when the
// client authenticates with a first-frame payload instead. Serve
// returns when the connection is closed.
func Serve(deps *Deps, conn *websocket.Conn, queryToken string) {
	a := &actor{
		deps:   deps,
		conn:   conn,
		connID: utils.GenConnectionID(),
		send:   make(chan []byte, sendDepth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	defer conn.Close()

	conn.SetReadLimit(deps.maxFrame())
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if !a.authenticate(queryToken) {
		return
	}

	rec, created, err := deps.Sessions.Resolve(a.claims.Subject)
	if err != nil {
		logger.Error("session_resolve_failed", "user_id", a.claims.Subject, "err", err)
		a.writeDirect(errFrame("", "session assignment failed"))
		return
	}
	if created {
		metrics.SessionsCreated.Inc()
	}
	a.sessionID = rec.SessionID

	deps.Registry.Register(a.connID, a.send)
	defer deps.Registry.Unregister(a.connID)

	go a.writePump()
	// wait for the pump to flush queued frames and close the socket;
	// closing it here instead would race the drain
	defer func() {
		close(a.stop)
		<-a.done
	}()

	a.emit(sessionCreatedEvent{
		Type:      TypeSessionCreated,
		Status:    "success",
		SessionID: a.sessionID,
		UserID:    a.claims.Subject,
	})
	logger.Info("session_active", "conn_id", a.connID, "user_id", a.claims.Subject, "session_id", a.sessionID)

	a.readLoop()
}

// authenticate performs the handshake: the token comes from the
// upgrade request's query parameter, or else from the first text
// frame's token field. Failure writes a terminal error frame and
// reports false; the actor never reaches the active state.
func (a *actor) authenticate(queryToken string) bool {
	token := queryToken
	if token == "" {
		_, frame, err := a.conn.ReadMessage()
		if err != nil {
			logger.Warn("handshake_aborted", "conn_id", a.connID, "err", err)
			return false
		}
		var hs handshake
		if env, err := decodeEnvelope(frame); err == nil && env.Type == TypeStartConnection {
			if req, err := decodePayload[startConnectionReq](env); err == nil {
				hs.Token = req.Token
			}
		} else if err := json.Unmarshal(frame, &hs); err != nil {
			a.writeDirect(errFrame(CodeTokenMalformed, "handshake payload unreadable"))
			return false
		}
		token = hs.Token
	}

	claims, err := a.deps.Verifier.Verify(token)
	if err != nil {
		a.writeDirect(errFrame(authCode(err), "authentication failed: "+err.Error()))
		logger.Warn("handshake_rejected", "conn_id", a.connID, "err", err)
		return false
	}
	a.claims = claims
	return true
}

func authCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return CodeTokenMissing
	case errors.Is(err, auth.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, auth.ErrTokenSignature):
		return CodeTokenSignature
	default:
		return CodeTokenMalformed
	}
}

// readLoop processes inbound frames strictly in arrival order until
// the peer goes away or asks to disconnect.
func (a *actor) readLoop() {
	for {
		mt, frame, err := a.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("connection_read_error", "conn_id", a.connID, "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		env, err := decodeEnvelope(frame)
		if err != nil {
			a.emit(errorEvent{Type: TypeError, Status: "error", Code: CodeUnknownRequest, Error: "unknown request"})
			continue
		}
		metrics.EnvelopesTotal.WithLabelValues(env.Type).Inc()
		if done := a.dispatch(env); done {
			return
		}
	}
}

// dispatch handles one decoded envelope. It reports true when the
// actor should transition to closing.
func (a *actor) dispatch(env envelope) bool {
	switch env.Type {
	case TypeStartConnection:
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "invalid request: already connected"})

	case TypeDisconnect:
		req, err := decodePayload[disconnectReq](env)
		if err != nil {
			a.emitDecodeError(err)
			return false
		}
		// frames for a stale session are ignored
		if req.SessionID != a.sessionID {
			logger.Debug("disconnect_ignored", "conn_id", a.connID, "session_id", req.SessionID)
			return false
		}
		a.emit(disconnectedEvent{Type: TypeDisconnected, Status: "success"})
		return true

	case TypeAIRequest:
		a.handleAIRequest(env)

	case TypeFetchSidebarHistory:
		a.handleSidebarHistory()

	case TypeFetchConversation:
		a.handleFetchConversation(env)

	case TypeStartNewSession:
		a.handleStartNewSession()

	case TypeEditContentTitle:
		a.handleEditContentTitle(env)

	case TypeEditContent:
		a.handleEditContent(env)

	case TypeDeleteContent:
		a.handleDeleteContent(env)

	case TypeFetchAllMessages:
		a.handleFetchAllMessages()

	default:
		a.emit(errorEvent{Type: TypeError, Status: "error", Code: CodeUnknownRequest, Error: "unknown request: " + env.Type})
	}
	return false
}

// handleAIRequest persists the user message synchronously, then hands
// generation to a detached task. The read loop moves on immediately,
// so prompt side effects land unordered relative to later frames.
func (a *actor) handleAIRequest(env envelope) {
	req, err := decodePayload[aiRequest](env)
	if err != nil {
		a.emitDecodeError(err)
		return
	}
	if err := a.deps.Limits.Prompt(req.Prompt); err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: err.Error()})
		return
	}
	convID := req.SessionID
	if convID == "" {
		convID = a.sessionID
	}

	start := time.Now()
	userMsg, err := a.deps.Store.AppendMessage(a.claims.Subject, convID, models.Message{
		MessageID: utils.GenMessageID(),
		ParentID:  convID,
		Role:      models.RoleUser,
		Content:   req.Prompt,
		Timestamp: time.Now().UTC(),
	})
	metrics.ObserveStoreOp("append_message", start)
	if err != nil {
		logger.Error("prompt_persist_failed", "conn_id", a.connID, "err", err)
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "failed to store message"})
		return
	}
	a.emit(messageCreatedEvent{Type: TypeMessageCreated, Status: "success", Message: userMsg})

	go a.runPrompt(req.Prompt, convID, userMsg)
}

// runPrompt streams the completion and persists the assistant reply.
// It runs detached: closing the connection does not cancel it, and
// deliveries to a gone peer fail silently through the registry.
func (a *actor) runPrompt(prompt, convID string, userMsg models.Message) {
	text, err := a.deps.LLM.Generate(context.Background(), prompt, func(chunk string) {
		metrics.StreamChunks.Inc()
		a.deps.Registry.SendTo(a.connID, marshal(streamChunkEvent{Type: TypeStreamChunk, Chunk: chunk}))
	})
	if err != nil {
		metrics.GenerationFailures.Inc()
		logger.Error("generation_failed", "conn_id", a.connID, "conversation_id", convID, "err", err)
		a.deps.Registry.SendTo(a.connID, errFrame("", "generation failed: "+err.Error()))
		a.deps.Registry.SendTo(a.connID, marshal(streamEndEvent{Type: TypeStreamEnd, Status: "error"}))
		return
	}

	start := time.Now()
	_, err = a.deps.Store.AppendMessage(a.claims.Subject, convID, models.Message{
		MessageID: utils.GenMessageID(),
		ParentID:  userMsg.MessageID,
		ReplyID:   userMsg.MessageID,
		Role:      models.RoleAssistant,
		Content:   text,
		Timestamp: time.Now().UTC(),
	})
	metrics.ObserveStoreOp("append_message", start)
	if err != nil {
		logger.Error("reply_persist_failed", "conn_id", a.connID, "conversation_id", convID, "err", err)
		a.deps.Registry.SendTo(a.connID, errFrame("", "failed to store reply"))
		a.deps.Registry.SendTo(a.connID, marshal(streamEndEvent{Type: TypeStreamEnd, Status: "error"}))
		return
	}

	a.deps.Registry.SendTo(a.connID, marshal(streamEndEvent{Type: TypeStreamEnd, Status: "success"}))
	a.deps.Registry.SendTo(a.connID, marshal(aiResponseEvent{Type: TypeAIResponse, Status: "success", Response: text}))
}

func (a *actor) handleSidebarHistory() {
	start := time.Now()
	convs, err := a.deps.Store.ListConversations(a.claims.Subject)
	metrics.ObserveStoreOp("list_conversations", start)
	if err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "failed to list conversations"})
		return
	}
	a.emit(sidebarHistoryEvent{Type: TypeSidebarHistory, Status: "success", Conversations: convs})
}

func (a *actor) handleFetchConversation(env envelope) {
	req, err := decodePayload[fetchConversationReq](env)
	if err != nil {
		a.emitDecodeError(err)
		return
	}
	if err := a.deps.Limits.ID(req.ConversationID); err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: err.Error()})
		return
	}
	start := time.Now()
	msgs, err := a.deps.Store.ListMessages(a.claims.Subject, req.ConversationID)
	metrics.ObserveStoreOp("list_messages", start)
	if err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "failed to load conversation"})
		return
	}
	a.emit(conversationHistoryEvent{
		Type:           TypeConversationHistory,
		Status:         "success",
		ConversationID: req.ConversationID,
		Messages:       msgs,
	})
}

func (a *actor) handleStartNewSession() {
	rec, err := a.deps.Sessions.Assign(a.claims.Subject)
	if err != nil {
		logger.Error("session_assign_failed", "user_id", a.claims.Subject, "err", err)
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "failed to start session"})
		return
	}
	// the previous session stays resumable only through its history;
	// the index now points at the new one
	if a.sessionID != "" {
		if err := a.deps.Sessions.Clear(a.sessionID); err != nil {
			logger.Warn("session_clear_failed", "session_id", a.sessionID, "err", err)
		}
	}
	a.sessionID = rec.SessionID
	metrics.SessionsCreated.Inc()
	a.emit(sessionCreatedEvent{
		Type:      TypeSessionCreated,
		Status:    "success",
		SessionID: a.sessionID,
		UserID:    a.claims.Subject,
	})
}

func (a *actor) handleEditContentTitle(env envelope) {
	req, err := decodePayload[editContentTitleReq](env)
	if err != nil {
		a.emitDecodeError(err)
		return
	}
	if err := a.deps.Limits.Prompt(req.Content); err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: err.Error()})
		return
	}
	start := time.Now()
	msg, err := a.deps.Store.EditMessageContent(a.claims.Subject, req.ContentID, req.Content)
	metrics.ObserveStoreOp("edit_message_content", start)
	if errors.Is(err, store.ErrNotFound) {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "message not found"})
		return
	}
	if err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "failed to edit message"})
		return
	}
	a.emit(messageEditedEvent{Type: TypeMessageEdited, Status: "success", Message: msg})
}

func (a *actor) handleEditContent(env envelope) {
	req, err := decodePayload[editContentReq](env)
	if err != nil {
		a.emitDecodeError(err)
		return
	}
	if err := a.deps.Limits.Title(req.Content); err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: err.Error()})
		return
	}
	start := time.Now()
	title, err := a.deps.Store.Rename(a.claims.Subject, req.MessageID, req.Content)
	metrics.ObserveStoreOp("rename", start)
	if errors.Is(err, store.ErrNotFound) {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "conversation not found"})
		return
	}
	if err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "failed to rename conversation"})
		return
	}
	a.emit(titleUpdatedEvent{Type: TypeTitleUpdated, Status: "success", Title: title})
}

func (a *actor) handleDeleteContent(env envelope) {
	req, err := decodePayload[deleteContentReq](env)
	if err != nil {
		a.emitDecodeError(err)
		return
	}
	if err := a.deps.Limits.ID(req.TargetID); err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: err.Error()})
		return
	}
	start := time.Now()
	res, err := a.deps.Store.DeleteByID(a.claims.Subject, req.TargetID)
	metrics.ObserveStoreOp("delete_by_id", start)
	if errors.Is(err, store.ErrNotFound) {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "target not found"})
		return
	}
	if err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "failed to delete"})
		return
	}
	a.emit(contentDeletedEvent{
		Type:        TypeContentDeleted,
		Status:      "success",
		DeletedType: res.DeletedType,
		TargetID:    res.TargetID,
		Title:       res.Title,
	})
}

func (a *actor) handleFetchAllMessages() {
	start := time.Now()
	msgs, err := a.deps.Store.ListMessages(a.claims.Subject, "")
	metrics.ObserveStoreOp("list_messages", start)
	if err != nil {
		a.emit(errorEvent{Type: TypeError, Status: "error", Error: "failed to list messages"})
		return
	}
	a.emit(allMessagesEvent{Type: TypeAllMessages, Status: "success", Messages: msgs})
}

// emit queues an outbound envelope through the registry so delivery
// semantics match detached tasks: best effort, dropped if gone.
func (a *actor) emit(v any) {
	a.deps.Registry.SendTo(a.connID, marshal(v))
}

func (a *actor) emitDecodeError(err error) {
	logger.Debug("envelope_decode_failed", "conn_id", a.connID, "err", err)
	a.emit(errorEvent{Type: TypeError, Status: "error", Code: CodeUnknownRequest, Error: "unknown request"})
}

// writeDirect writes a frame before the write pump exists (handshake
// failures only).
func (a *actor) writeDirect(frame []byte) {
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = a.conn.WriteMessage(websocket.TextMessage, frame)
}

// writePump drains the outbound channel onto the wire and keeps the
// connection alive with pings. It exits when the actor stops or a
// write fails.
func (a *actor) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		a.conn.Close()
		close(a.done)
	}()

	for {
		select {
		case frame := <-a.send:
			_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := a.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("connection_write_failed", "conn_id", a.connID, "err", err)
				return
			}
		case <-ticker.C:
			_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := a.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-a.stop:
			// drain anything already queued before closing
			for {
				select {
				case frame := <-a.send:
					_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if a.conn.WriteMessage(websocket.TextMessage, frame) != nil {
						return
					}
				default:
					_ = a.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

package store

import (
	"sort"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

const (
	derivedTitleMax = 50
	renameTitleMax  = 30
)

// truncateTitle caps s at max characters, appending an ellipsis when the
// content was longer.
func truncateTitle(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func userBucket(doc *models.Document, userID string, create bool) *models.UserConversations {
	uc, ok := doc.Users[userID]
	if !ok {
		if !create {
			return nil
		}
		uc = &models.UserConversations{Conversations: make(map[string]*models.Conversation)}
		doc.Users[userID] = uc
	}
	if uc.Conversations == nil {
		uc.Conversations = make(map[string]*models.Conversation)
	}
	return uc
}

// AppendMessage appends msg to the given conversation, creating the user
// and/or conversation lazily. If this is the first user message in an
// empty, default-titled conversation, the conversation title is derived
// from the message content (50 characters, ellipsized).
func (s *Store) AppendMessage(userID, convID string, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return models.Message{}, err
	}
	uc := userBucket(doc, userID, true)
	conv, ok := uc.Conversations[convID]
	if !ok {
		conv = &models.Conversation{
			Title:     models.DefaultTitle,
			CreatedAt: time.Now().UTC(),
		}
		uc.Conversations[convID] = conv
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Role == models.RoleUser && len(conv.Messages) == 0 && conv.Title == models.DefaultTitle {
		conv.Title = truncateTitle(msg.Content, derivedTitleMax)
	}
	conv.Messages = append(conv.Messages, msg)
	if err := s.save(doc); err != nil {
		return models.Message{}, err
	}
	logger.Debug("message_appended", "user", userID, "conversation", convID, "id", msg.MessageID, "role", msg.Role)
	return msg, nil
}

// EditMessage updates the content of a message inside one conversation.
// It returns ErrNotFound, with the document untouched, when the message
// does not exist.
func (s *Store) EditMessage(userID, convID, messageID, newContent string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return models.Message{}, err
	}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return models.Message{}, ErrNotFound
	}
	conv, ok := uc.Conversations[convID]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	for i := range conv.Messages {
		if conv.Messages[i].MessageID == messageID {
			now := time.Now().UTC()
			conv.Messages[i].Content = newContent
			conv.Messages[i].Edited = true
			conv.Messages[i].EditTimestamp = &now
			if err := s.save(doc); err != nil {
				return models.Message{}, err
			}
			return conv.Messages[i], nil
		}
	}
	return models.Message{}, ErrNotFound
}

// EditMessageContent updates a message's content searching every
// conversation the user owns. Returns ErrNotFound when no message matches.
func (s *Store) EditMessageContent(userID, messageID, newContent string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return models.Message{}, err
	}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return models.Message{}, ErrNotFound
	}
	for _, conv := range uc.Conversations {
		for i := range conv.Messages {
			if conv.Messages[i].MessageID == messageID {
				now := time.Now().UTC()
				conv.Messages[i].Content = newContent
				conv.Messages[i].Edited = true
				conv.Messages[i].EditTimestamp = &now
				if err := s.save(doc); err != nil {
					return models.Message{}, err
				}
				return conv.Messages[i], nil
			}
		}
	}
	return models.Message{}, ErrNotFound
}

// DeleteMessage removes one message from a conversation. The boolean
// reports whether anything was removed.
func (s *Store) DeleteMessage(userID, convID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return false, err
	}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return false, nil
	}
	conv, ok := uc.Conversations[convID]
	if !ok {
		return false, nil
	}
	kept := conv.Messages[:0]
	for _, m := range conv.Messages {
		if m.MessageID != messageID {
			kept = append(kept, m)
		}
	}
	deleted := len(kept) < len(conv.Messages)
	conv.Messages = kept
	if !deleted {
		return false, nil
	}
	return true, s.save(doc)
}

// DeleteMessageAndReply removes the message and any assistant message
// whose ReplyID references it, returning the number removed.
func (s *Store) DeleteMessageAndReply(userID, convID, messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return 0, err
	}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return 0, nil
	}
	conv, ok := uc.Conversations[convID]
	if !ok {
		return 0, nil
	}
	kept := make([]models.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.MessageID == messageID {
			continue
		}
		if m.Role == models.RoleAssistant && m.ReplyID == messageID {
			continue
		}
		kept = append(kept, m)
	}
	removed := len(conv.Messages) - len(kept)
	conv.Messages = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(doc)
}

// ListMessages returns the user's messages ordered by timestamp. With a
// non-empty convID only that conversation's messages are returned;
// otherwise messages across all conversations are merged. The read is
// lenient: a transiently unreadable document yields an empty result.
func (s *Store) ListMessages(userID, convID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(true)
	if err != nil {
		return nil, err
	}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return []models.Message{}, nil
	}
	var out []models.Message
	for id, conv := range uc.Conversations {
		if convID != "" && convID != id {
			continue
		}
		out = append(out, conv.Messages...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if out == nil {
		out = []models.Message{}
	}
	return out, nil
}

// ListConversations returns sidebar summaries for the user, most recently
// active first. Lenient read, as with ListMessages.
func (s *Store) ListConversations(userID string) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(true)
	if err != nil {
		return nil, err
	}
	out := []models.ConversationSummary{}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return out, nil
	}
	for id, conv := range uc.Conversations {
		sum := models.ConversationSummary{
			ID:           id,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
		}
		for i := range conv.Messages {
			ts := conv.Messages[i].Timestamp
			if sum.LastMessage == nil || ts.After(*sum.LastMessage) {
				t := ts
				sum.LastMessage = &t
			}
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].LastMessage, out[j].LastMessage
		switch {
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return li.After(*lj)
		}
	})
	return out, nil
}

// Rename sets a new title on the conversation identified by targetID, or,
// when targetID matches no conversation, on the conversation containing a
// message with that id. Titles are capped at 30 characters. Returns the
// stored title, or ErrNotFound when neither interpretation matches.
func (s *Store) Rename(userID, targetID, newTitle string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return "", err
	}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return "", ErrNotFound
	}
	title := truncateTitle(newTitle, renameTitleMax)
	if conv, ok := uc.Conversations[targetID]; ok {
		conv.Title = title
		return title, s.save(doc)
	}
	for _, conv := range uc.Conversations {
		for i := range conv.Messages {
			if conv.Messages[i].MessageID == targetID {
				conv.Title = title
				return title, s.save(doc)
			}
		}
	}
	return "", ErrNotFound
}

// DeleteByID deletes the conversation identified by targetID, or, when no
// conversation matches, the message with that id. Removing a message that
// empties its conversation also removes the conversation and is reported
// distinctly. Returns ErrNotFound when neither interpretation matches.
func (s *Store) DeleteByID(userID, targetID string) (models.DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return models.DeleteResult{}, err
	}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return models.DeleteResult{}, ErrNotFound
	}
	if conv, ok := uc.Conversations[targetID]; ok {
		res := models.DeleteResult{DeletedType: models.DeletedConversation, TargetID: targetID, Title: conv.Title}
		delete(uc.Conversations, targetID)
		return res, s.save(doc)
	}
	for convID, conv := range uc.Conversations {
		for i := range conv.Messages {
			if conv.Messages[i].MessageID != targetID {
				continue
			}
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			res := models.DeleteResult{DeletedType: models.DeletedMessage, TargetID: targetID, Title: conv.Title}
			if len(conv.Messages) == 0 {
				delete(uc.Conversations, convID)
				res.DeletedType = models.DeletedMessageAndConversation
			}
			return res, s.save(doc)
		}
	}
	return models.DeleteResult{}, ErrNotFound
}

// DeleteConversation removes one conversation outright.
func (s *Store) DeleteConversation(userID, convID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return false, err
	}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return false, nil
	}
	if _, ok := uc.Conversations[convID]; !ok {
		return false, nil
	}
	delete(uc.Conversations, convID)
	return true, s.save(doc)
}

// DeleteAllConversations removes every conversation the user owns and
// returns how many were removed.
func (s *Store) DeleteAllConversations(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return 0, err
	}
	uc := userBucket(doc, userID, false)
	if uc == nil || len(uc.Conversations) == 0 {
		return 0, nil
	}
	n := len(uc.Conversations)
	uc.Conversations = make(map[string]*models.Conversation)
	return n, s.save(doc)
}

// DeleteConversations removes the listed conversation ids, returning how
// many actually existed.
func (s *Store) DeleteConversations(userID string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return 0, err
	}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return 0, nil
	}
	deleted := 0
	for _, id := range ids {
		if _, ok := uc.Conversations[id]; ok {
			delete(uc.Conversations, id)
			deleted++
		}
	}
	if deleted == 0 {
		return 0, nil
	}
	return deleted, s.save(doc)
}

// PruneEmptyConversations removes every conversation with zero messages
// across all users, as well as user buckets left without conversations.
// Used by the retention janitor. Returns the number of conversations
// removed.
func (s *Store) PruneEmptyConversations() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(false)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for userID, uc := range doc.Users {
		for convID, conv := range uc.Conversations {
			if len(conv.Messages) == 0 {
				delete(uc.Conversations, convID)
				pruned++
			}
		}
		if len(uc.Conversations) == 0 {
			delete(doc.Users, userID)
		}
	}
	if pruned == 0 {
		return 0, nil
	}
	return pruned, s.save(doc)
}

// Users returns the ids of every user present in the document. Lenient
// read.
func (s *Store) Users() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(true)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(doc.Users))
	for id := range doc.Users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ConversationExists reports whether the user owns a conversation with the
// given id. Lenient read.
func (s *Store) ConversationExists(userID, convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(true)
	if err != nil {
		return false
	}
	uc := userBucket(doc, userID, false)
	if uc == nil {
		return false
	}
	_, ok := uc.Conversations[convID]
	return ok
}

package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatrelay/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.json")
	return Open(path, RetryPolicy{Attempts: 3, Delay: time.Millisecond})
}

func userMsg(id, content string, ts time.Time) models.Message {
	return models.Message{MessageID: id, ParentID: "root", Role: models.RoleUser, Content: content, Timestamp: ts}
}

func TestAppendAndListOrdering(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// append out of timestamp order on purpose
	ids := []string{"m1", "m2", "m3", "m4"}
	offsets := []time.Duration{2 * time.Second, 0, 3 * time.Second, time.Second}
	for i, id := range ids {
		if _, err := s.AppendMessage("u1", "c1", userMsg(id, "msg "+id, base.Add(offsets[i]))); err != nil {
			t.Fatalf("AppendMessage %s: %v", id, err)
		}
	}

	msgs, err := s.ListMessages("u1", "c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != len(ids) {
		t.Fatalf("expected %d messages, got %d", len(ids), len(msgs))
	}
	seen := map[string]bool{}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Fatalf("messages out of order at %d: %v before %v", i, msgs[i].Timestamp, msgs[i-1].Timestamp)
		}
	}
	for _, m := range msgs {
		if seen[m.MessageID] {
			t.Fatalf("duplicate message %s", m.MessageID)
		}
		seen[m.MessageID] = true
	}
}

func TestTitleDerivedFromFirstUserMessage(t *testing.T) {
	s := testStore(t)
	long := strings.Repeat("x", 80)
	if _, err := s.AppendMessage("u1", "c1", userMsg("m1", long, time.Now().UTC())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	convs, err := s.ListConversations("u1")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	want := strings.Repeat("x", 50) + "..."
	if convs[0].Title != want {
		t.Fatalf("expected derived title %q, got %q", want, convs[0].Title)
	}

	// a second user message must not change the title
	if _, err := s.AppendMessage("u1", "c1", userMsg("m2", "something else entirely", time.Now().UTC())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	convs, _ = s.ListConversations("u1")
	if convs[0].Title != want {
		t.Fatalf("title changed by later message: %q", convs[0].Title)
	}
}

func TestShortTitleNotEllipsized(t *testing.T) {
	s := testStore(t)
	if _, err := s.AppendMessage("u1", "c1", userMsg("m1", "hello there", time.Now().UTC())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	convs, _ := s.ListConversations("u1")
	if convs[0].Title != "hello there" {
		t.Fatalf("expected title %q, got %q", "hello there", convs[0].Title)
	}
}

func TestEditMessageNotFoundLeavesDocumentUnchanged(t *testing.T) {
	s := testStore(t)
	if _, err := s.AppendMessage("u1", "c1", userMsg("m1", "hi", time.Now().UTC())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	before, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if _, err := s.EditMessage("u1", "c1", "no-such-id", "new"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	after, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("document changed by failed edit")
	}
}

func TestEditMessageSetsEditedAndTimestamp(t *testing.T) {
	s := testStore(t)
	if _, err := s.AppendMessage("u1", "c1", userMsg("m1", "hi", time.Now().UTC())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	got, err := s.EditMessage("u1", "c1", "m1", "hello")
	if err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if got.Content != "hello" || !got.Edited || got.EditTimestamp == nil {
		t.Fatalf("edit not applied: %+v", got)
	}
}

func TestDeleteMessageAndReply(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	if _, err := s.AppendMessage("u1", "c1", userMsg("m1", "question", now)); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	reply := models.Message{MessageID: "a1", ParentID: "m1", ReplyID: "m1", Role: models.RoleAssistant, Content: "answer", Timestamp: now.Add(time.Second)}
	if _, err := s.AppendMessage("u1", "c1", reply); err != nil {
		t.Fatalf("AppendMessage reply: %v", err)
	}
	if _, err := s.AppendMessage("u1", "c1", userMsg("m2", "unrelated", now.Add(2*time.Second))); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	n, err := s.DeleteMessageAndReply("u1", "c1", "m1")
	if err != nil {
		t.Fatalf("DeleteMessageAndReply: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}

	n, err = s.DeleteMessageAndReply("u1", "c1", "m2")
	if err != nil {
		t.Fatalf("DeleteMessageAndReply: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
}

func TestDeleteByIDCascadesEmptyConversation(t *testing.T) {
	s := testStore(t)
	if _, err := s.AppendMessage("u1", "c1", userMsg("m1", "only one", time.Now().UTC())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	res, err := s.DeleteByID("u1", "m1")
	if err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if res.DeletedType != models.DeletedMessageAndConversation {
		t.Fatalf("expected %s, got %s", models.DeletedMessageAndConversation, res.DeletedType)
	}
	convs, err := s.ListConversations("u1")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	for _, c := range convs {
		if c.ID == "c1" {
			t.Fatal("conversation still listed after cascade delete")
		}
	}
}

func TestDeleteByIDDisambiguation(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	for _, id := range []string{"m1", "m2"} {
		if _, err := s.AppendMessage("u1", "c1", userMsg(id, "msg "+id, now)); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	// message delete that does not empty the conversation
	res, err := s.DeleteByID("u1", "m1")
	if err != nil {
		t.Fatalf("DeleteByID message: %v", err)
	}
	if res.DeletedType != models.DeletedMessage {
		t.Fatalf("expected %s, got %s", models.DeletedMessage, res.DeletedType)
	}

	// conversation delete by conversation id
	res, err = s.DeleteByID("u1", "c1")
	if err != nil {
		t.Fatalf("DeleteByID conversation: %v", err)
	}
	if res.DeletedType != models.DeletedConversation {
		t.Fatalf("expected %s, got %s", models.DeletedConversation, res.DeletedType)
	}

	if _, err := s.DeleteByID("u1", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRenameByConversationAndMessageID(t *testing.T) {
	s := testStore(t)
	if _, err := s.AppendMessage("u1", "c1", userMsg("m1", "hi", time.Now().UTC())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	title, err := s.Rename("u1", "c1", "Direct rename")
	if err != nil {
		t.Fatalf("Rename by conversation id: %v", err)
	}
	if title != "Direct rename" {
		t.Fatalf("unexpected title %q", title)
	}

	long := strings.Repeat("t", 40)
	title, err = s.Rename("u1", "m1", long)
	if err != nil {
		t.Fatalf("Rename by message id: %v", err)
	}
	want := strings.Repeat("t", 30) + "..."
	if title != want {
		t.Fatalf("expected capped title %q, got %q", want, title)
	}

	if _, err := s.Rename("u1", "ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTruncatedDocumentLenientAndStrictReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	// a prefix of a real document, as left by a writer that died mid-write
	if err := os.WriteFile(path, []byte(`{"users": {"u1": {"conversati`), 0o644); err != nil {
		t.Fatalf("write truncated file: %v", err)
	}
	s := Open(path, RetryPolicy{Attempts: 2, Delay: time.Millisecond})

	msgs, err := s.ListMessages("u1", "")
	if err != nil {
		t.Fatalf("lenient read should degrade to empty, got error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty result, got %d messages", len(msgs))
	}

	if _, err := s.AppendMessage("u1", "c1", userMsg("m1", "hi", time.Now().UTC())); err == nil {
		t.Fatal("strict read should fail on a persistently truncated document")
	}
}

func TestZeroLengthDocumentTreatedAsMidWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	s := Open(path, RetryPolicy{Attempts: 2, Delay: time.Millisecond})
	convs, err := s.ListConversations("u1")
	if err != nil {
		t.Fatalf("lenient read of empty file: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("expected no conversations, got %d", len(convs))
	}
}

func TestStructurallyInvalidDocumentFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	if err := os.WriteFile(path, []byte(`{"users": 42}`), 0o644); err != nil {
		t.Fatalf("write invalid file: %v", err)
	}
	s := Open(path, RetryPolicy{Attempts: 5, Delay: time.Millisecond})
	if _, err := s.AppendMessage("u1", "c1", userMsg("m1", "hi", time.Now().UTC())); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestPruneEmptyConversations(t *testing.T) {
	s := testStore(t)
	if _, err := s.AppendMessage("u1", "c1", userMsg("m1", "hi", time.Now().UTC())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendMessage("u1", "c2", userMsg("m2", "bye", time.Now().UTC())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.DeleteMessage("u1", "c2", "m2"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	n, err := s.PruneEmptyConversations()
	if err != nil {
		t.Fatalf("PruneEmptyConversations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	convs, _ := s.ListConversations("u1")
	if len(convs) != 1 || convs[0].ID != "c1" {
		t.Fatalf("unexpected conversations after prune: %+v", convs)
	}
}

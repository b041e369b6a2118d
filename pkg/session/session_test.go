package session

import (
	"errors"
	"testing"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestAssignLookupRoundTrip(t *testing.T) {
	ix := testIndex(t)
	rec, err := ix.Assign("u1")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if rec.SessionID == "" || rec.UserID != "u1" {
		t.Fatalf("bad record: %+v", rec)
	}

	got, err := ix.Lookup(rec.SessionID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.SessionID != rec.SessionID || got.UserID != "u1" {
		t.Fatalf("lookup mismatch: %+v", got)
	}
}

func TestLookupUnknown(t *testing.T) {
	ix := testIndex(t)
	if _, err := ix.Lookup("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClearRemovesSessionAndDirectory(t *testing.T) {
	ix := testIndex(t)
	rec, err := ix.Assign("u1")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := ix.Clear(rec.SessionID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := ix.Lookup(rec.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
	recs, err := ix.ForUser("u1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty directory, got %d", len(recs))
	}

	// clearing again is a no-op
	if err := ix.Clear(rec.SessionID); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestForUserListsOnlyThatUser(t *testing.T) {
	ix := testIndex(t)
	if _, err := ix.Assign("u1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := ix.Assign("u1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := ix.Assign("u2"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	recs, err := ix.ForUser("u1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 sessions for u1, got %d", len(recs))
	}
	for _, r := range recs {
		if r.UserID != "u1" {
			t.Fatalf("foreign session in listing: %+v", r)
		}
	}
}

func TestResolveReusesExistingSession(t *testing.T) {
	ix := testIndex(t)
	first, created, err := ix.Resolve("u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !created {
		t.Fatal("first Resolve should create a session")
	}
	second, created, err := ix.Resolve("u1")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if created {
		t.Fatal("second Resolve should reuse the session")
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("session not reused: %s vs %s", second.SessionID, first.SessionID)
	}
}

func TestPruneOrphans(t *testing.T) {
	ix := testIndex(t)
	keepRec, err := ix.Assign("u1")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	dropRec, err := ix.Assign("u1")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	n, err := ix.PruneOrphans(func(userID, sessionID string) bool {
		return sessionID == keepRec.SessionID
	})
	if err != nil {
		t.Fatalf("PruneOrphans: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if _, err := ix.Lookup(keepRec.SessionID); err != nil {
		t.Fatalf("survivor lost: %v", err)
	}
	if _, err := ix.Lookup(dropRec.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("orphan survived: %v", err)
	}
}

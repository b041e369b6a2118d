// Package session maintains the durable index of chat sessions. Each
// session id doubles as the conversation id in the message document, so
// a client that reconnects with a known session id resumes the same
// conversation. The index lives in its own Pebble database, separate
// from the message document.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/utils"
)

// ErrNotFound is returned when a session id has no index entry.
var ErrNotFound = errors.New("session not found")

// Record is the stored state of one session.
type Record struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

type Index struct {
	db *pebble.DB
}

func sessionKey(id string) []byte { return []byte("session:" + id) }

func userKey(userID, sessionID string) []byte {
	return []byte("user:" + userID + ":session:" + sessionID)
}

// Open opens (or creates) the session index at path.
func Open(path string) (*Index, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("session_index_open_failed", "path", path, "err", err)
		return nil, fmt.Errorf("open session index %s: %w", path, err)
	}
	logger.Info("session_index_opened", "path", path)
	return &Index{db: db}, nil
}

func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	err := ix.db.Close()
	ix.db = nil
	return err
}

// Assign creates a fresh session for userID and persists it.
func (ix *Index) Assign(userID string) (Record, error) {
	now := time.Now().UTC()
	rec := Record{
		SessionID: utils.GenSessionID(),
		UserID:    userID,
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := ix.put(rec); err != nil {
		return Record{}, err
	}
	logger.Info("session_assigned", "session_id", rec.SessionID, "user_id", userID)
	return rec, nil
}

// Resolve returns the user's resumable session, reusing the oldest
// recorded one and minting a new session only when none exists. The
// second result reports whether a new session was created.
func (ix *Index) Resolve(userID string) (Record, bool, error) {
	recs, err := ix.ForUser(userID)
	if err != nil {
		return Record{}, false, err
	}
	if len(recs) > 0 {
		rec := recs[0]
		rec.LastSeen = time.Now().UTC()
		if err := ix.put(rec); err != nil {
			return Record{}, false, err
		}
		return rec, false, nil
	}
	rec, err := ix.Assign(userID)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Lookup fetches the record for sessionID, or ErrNotFound.
func (ix *Index) Lookup(sessionID string) (Record, error) {
	val, closer, err := ix.db.Get(sessionKey(sessionID))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup session %s: %w", sessionID, err)
	}
	defer closer.Close()
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return rec, nil
}

// Touch bumps the session's last-seen time. Missing sessions return
// ErrNotFound so callers can distinguish expiry from IO failure.
func (ix *Index) Touch(sessionID string) error {
	rec, err := ix.Lookup(sessionID)
	if err != nil {
		return err
	}
	rec.LastSeen = time.Now().UTC()
	return ix.put(rec)
}

// Clear removes the session and its user directory entry. Clearing an
// unknown session is a no-op.
func (ix *Index) Clear(sessionID string) error {
	rec, err := ix.Lookup(sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := ix.db.Delete(sessionKey(sessionID), pebble.Sync); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	if err := ix.db.Delete(userKey(rec.UserID, sessionID), pebble.Sync); err != nil {
		return fmt.Errorf("clear session directory %s: %w", sessionID, err)
	}
	logger.Info("session_cleared", "session_id", sessionID, "user_id", rec.UserID)
	return nil
}

// ForUser lists all sessions recorded for userID, oldest first.
func (ix *Index) ForUser(userID string) ([]Record, error) {
	prefix := []byte("user:" + userID + ":session:")
	iter, err := ix.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < len(prefix) || string(key[:len(prefix)]) != string(prefix) {
			break
		}
		sessionID := string(key[len(prefix):])
		rec, err := ix.Lookup(sessionID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// PruneOrphans removes sessions whose conversation no longer exists in
// the message document. The keep predicate receives user id and session
// id and reports whether the session should survive.
func (ix *Index) PruneOrphans(keep func(userID, sessionID string) bool) (int, error) {
	prefix := []byte("session:")
	iter, err := ix.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}

	var doomed []Record
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < len(prefix) || string(key[:len(prefix)]) != string(prefix) {
			break
		}
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if !keep(rec.UserID, rec.SessionID) {
			doomed = append(doomed, rec)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for _, rec := range doomed {
		if err := ix.Clear(rec.SessionID); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}

func (ix *Index) put(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", rec.SessionID, err)
	}
	if err := ix.db.Set(sessionKey(rec.SessionID), data, pebble.Sync); err != nil {
		return fmt.Errorf("store session %s: %w", rec.SessionID, err)
	}
	if err := ix.db.Set(userKey(rec.UserID, rec.SessionID), []byte(rec.SessionID), pebble.Sync); err != nil {
		return fmt.Errorf("store session directory %s: %w", rec.SessionID, err)
	}
	return nil
}

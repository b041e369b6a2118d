package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// ErrNotFound is returned when the target of an operation does not exist
// in the document.
var ErrNotFound = errors.New("not found")

// ErrCorrupt is returned when the on-disk document is structurally invalid
// JSON. This is never retried: a permanently malformed file cannot be
// fixed by waiting.
var ErrCorrupt = errors.New("corrupt document")

// RetryPolicy bounds the retry loop applied to partial document reads.
// The file is rewritten whole on every mutation, so a reader can observe a
// zero-length or truncated document mid-write; those reads are retried.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry matches the historical 5 x 100ms read retry behavior.
var DefaultRetry = RetryPolicy{Attempts: 5, Delay: 100 * time.Millisecond}

// Store owns the on-disk conversation document. Every operation performs a
// full read-modify-write of the document under a single lock, making each
// operation atomic with respect to other store operations. The lock is
// coarse on purpose: one logical file, one lock.
type Store struct {
	path  string
	retry RetryPolicy
	mu    sync.Mutex
}

// Open returns a store for the document at path. The file does not need
// to exist; it is created on first write.
func Open(path string, retry RetryPolicy) *Store {
	if retry.Attempts <= 0 {
		retry.Attempts = DefaultRetry.Attempts
	}
	if retry.Delay <= 0 {
		retry.Delay = DefaultRetry.Delay
	}
	return &Store{path: path, retry: retry}
}

// Path returns the document's file path.
func (s *Store) Path() string { return s.path }

// load reads and parses the document, retrying partial reads per the
// store's policy. When lenient is true an exhausted retry loop yields an
// empty document instead of an error; list operations use this so a
// transiently unreadable file degrades to an empty result. Mutating
// operations read strictly, since acting on a guessed-empty document
// would drop data.
func (s *Store) load(lenient bool) (*models.Document, error) {
	var lastErr error
	for attempt := 0; attempt < s.retry.Attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retry.Delay)
		}
		data, err := os.ReadFile(s.path)
		if err != nil {
			if os.IsNotExist(err) {
				return models.NewDocument(), nil
			}
			return nil, fmt.Errorf("read %s: %w", s.path, err)
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			// zero-length file: a writer truncated it and has not yet
			// written the new contents
			lastErr = io.ErrUnexpectedEOF
			continue
		}
		var doc models.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			if truncatedJSON(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
		}
		if doc.Users == nil {
			doc.Users = make(map[string]*models.UserConversations)
		}
		return &doc, nil
	}
	if lenient {
		logger.Warn("document_read_exhausted", "path", s.path, "attempts", s.retry.Attempts, "error", lastErr)
		return models.NewDocument(), nil
	}
	return nil, fmt.Errorf("read %s after %d attempts: %w", s.path, s.retry.Attempts, lastErr)
}

// truncatedJSON reports whether err looks like an end-of-input condition
// rather than structurally invalid JSON.
func truncatedJSON(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return strings.Contains(syn.Error(), "unexpected end of JSON input")
	}
	return false
}

// save serializes the whole document and replaces the file's contents in
// place. There is deliberately no temp-file-then-rename step; a crash
// mid-write can leave a truncated file, which is exactly what the read
// path's retry loop tolerates.
func (s *Store) save(doc *models.Document) error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

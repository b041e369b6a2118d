package userdb

import (
	"errors"
	"sync"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegisterAndAuthenticate(t *testing.T) {
	db := testDB(t)
	usr, err := db.Register("Alice@Example.com", "s3cret", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if usr.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", usr.Email)
	}
	if !usr.IsUser || usr.IsAdmin {
		t.Fatalf("unexpected flags: %+v", usr)
	}
	if len(usr.Roles) != 1 || usr.Roles[0] != "user" {
		t.Fatalf("unexpected default roles: %v", usr.Roles)
	}

	got, err := db.Authenticate("alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.UserID != usr.UserID {
		t.Fatalf("user id mismatch: %s vs %s", got.UserID, usr.UserID)
	}
}

func TestAuthenticateRejectsBadPasswordAndUnknownEmail(t *testing.T) {
	db := testDB(t)
	if _, err := db.Register("bob@example.com", "hunter2", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := db.Authenticate("bob@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := db.Authenticate("nobody@example.com", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := testDB(t)
	if _, err := db.Register("carol@example.com", "pw", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := db.Register("Carol@example.com", "pw2", nil); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestRegisterConcurrentSameEmail(t *testing.T) {
	db := testDB(t)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = db.Register("erin@example.com", "pw", nil)
		}(i)
	}
	wg.Wait()

	var created int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrExists):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one registration to win, got %d", created)
	}
}

func TestAdminRoleSetsFlag(t *testing.T) {
	db := testDB(t)
	usr, err := db.Register("root@example.com", "pw", []string{"admin", "user"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !usr.IsAdmin {
		t.Fatal("admin role did not set IsAdmin")
	}
}

func TestByID(t *testing.T) {
	db := testDB(t)
	usr, err := db.Register("dave@example.com", "pw", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := db.ByID(usr.UserID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got.Email != "dave@example.com" {
		t.Fatalf("unexpected email %q", got.Email)
	}
}

// Package userdb stores registered users and verifies their
// credentials. Passwords are hashed with bcrypt; only the hash is
// persisted. Users are keyed by lowercased email in a Pebble database.
package userdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"golang.org/x/crypto/bcrypt"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/utils"
)

var (
	// ErrExists is returned when registering an email that is taken.
	ErrExists = errors.New("user already exists")
	// ErrInvalidCredentials covers both unknown email and bad password
	// so login responses never reveal which one failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is the stored account record. PasswordHash is never serialized
// into API responses; handlers copy the public fields out.
type User struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"password_hash"`
	Roles        []string  `json:"roles"`
	IsAdmin      bool      `json:"is_admin"`
	IsUser       bool      `json:"is_user"`
	CreatedAt    time.Time `json:"created_at"`
}

type DB struct {
	db *pebble.DB

	// registerMu serializes registrations so the exists-check and the
	// write are atomic with respect to each other.
	registerMu sync.Mutex
}

func emailKey(email string) []byte {
	return []byte("account:email:" + strings.ToLower(email))
}

func idKey(userID string) []byte { return []byte("account:id:" + userID) }

// Open opens (or creates) the user database at path.
func Open(path string) (*DB, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("userdb_open_failed", "path", path, "err", err)
		return nil, fmt.Errorf("open user db %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

func (u *DB) Close() error {
	if u.db == nil {
		return nil
	}
	err := u.db.Close()
	u.db = nil
	return err
}

// Register creates an account for email. Roles default to ["user"]
// when empty; the "admin" role also sets IsAdmin.
func (u *DB) Register(email, password string, roles []string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("invalid email %q", email)
	}
	if password == "" {
		return User{}, errors.New("empty password")
	}

	u.registerMu.Lock()
	defer u.registerMu.Unlock()
	if _, closer, err := u.db.Get(emailKey(email)); err == nil {
		closer.Close()
		return User{}, ErrExists
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return User{}, fmt.Errorf("check account %s: %w", email, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	usr := User{
		UserID:       utils.GenUserID(),
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
		IsAdmin:      hasRole(roles, "admin"),
		IsUser:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := u.put(usr); err != nil {
		return User{}, err
	}
	logger.Info("user_registered", "user_id", usr.UserID, "email", email)
	return usr, nil
}

// Authenticate verifies email and password, returning the account on
// success and ErrInvalidCredentials on any mismatch.
func (u *DB) Authenticate(email, password string) (User, error) {
	usr, err := u.ByEmail(email)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(usr.PasswordHash, []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return usr, nil
}

// ByEmail fetches the account registered under email.
func (u *DB) ByEmail(email string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	val, closer, err := u.db.Get(emailKey(email))
	if errors.Is(err, pebble.ErrNotFound) {
		return User{}, fmt.Errorf("no account for %s", email)
	}
	if err != nil {
		return User{}, fmt.Errorf("fetch account %s: %w", email, err)
	}
	defer closer.Close()
	var usr User
	if err := json.Unmarshal(val, &usr); err != nil {
		return User{}, fmt.Errorf("decode account %s: %w", email, err)
	}
	return usr, nil
}

// ByID fetches the account with the given user id.
func (u *DB) ByID(userID string) (User, error) {
	val, closer, err := u.db.Get(idKey(userID))
	if errors.Is(err, pebble.ErrNotFound) {
		return User{}, fmt.Errorf("no account %s", userID)
	}
	if err != nil {
		return User{}, fmt.Errorf("fetch account %s: %w", userID, err)
	}
	email := string(val)
	closer.Close()
	return u.ByEmail(email)
}

func (u *DB) put(usr User) error {
	data, err := json.Marshal(usr)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", usr.Email, err)
	}
	if err := u.db.Set(emailKey(usr.Email), data, pebble.Sync); err != nil {
		return fmt.Errorf("store account %s: %w", usr.Email, err)
	}
	if err := u.db.Set(idKey(usr.UserID), []byte(usr.Email), pebble.Sync); err != nil {
		return fmt.Errorf("store account id %s: %w", usr.UserID, err)
	}
	return nil
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

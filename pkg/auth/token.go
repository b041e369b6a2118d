// Package auth issues and verifies the JWTs that gate both the HTTP
// API and the websocket handshake, and provides the request gateway
// middleware (CORS, rate limiting, request logging).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatrelay/pkg/userdb"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 24 * time.Hour

var (
	ErrTokenMissing   = errors.New("token missing")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
)

// Claims is the payload carried by every issued token. Sub is the
// user id; the role flags mirror the stored account.
type Claims struct {
	Email   string   `json:"email"`
	Roles   []string `json:"roles"`
	IsAdmin bool     `json:"is_admin"`
	IsUser  bool     `json:"is_user"`
	jwt.RegisteredClaims
}

// Verifier signs and checks tokens with a shared HMAC secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("empty jwt secret")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Issue signs a token for the given account, valid for TokenTTL.
func (v *Verifier) Issue(usr userdb.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Email:   usr.Email,
		Roles:   usr.Roles,
		IsAdmin: usr.IsAdmin,
		IsUser:  usr.IsUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   usr.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates raw, mapping library failures onto the
// package's error kinds so callers can pick the right close reason.
func (v *Verifier) Verify(raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, ErrTokenMissing
	}
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	switch {
	case err == nil && tok.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Claims{}, ErrTokenSignature
	default:
		return Claims{}, ErrTokenMalformed
	}
}

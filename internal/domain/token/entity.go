package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Token is a single-use resumption credential bound to a session and user.
// A client presents it to re-attach to a session after its transport died.
type Token struct {
	Value     string
	SessionID string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at the given time.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Repository is the persistence contract for resumption tokens. Backends
// differ in how expiry is enforced: Postgres rows are reaped lazily,
// Redis keys carry a native TTL.
type Repository interface {
	Insert(ctx context.Context, tok *Token) error
	// Claim removes the token and returns it in one atomic step, so of
	// any number of concurrent redemptions exactly one can succeed.
	// Expiry is the caller's concern; a claimed-but-expired token is
	// already consumed, which is the lazy cleanup the store wants.
	Claim(ctx context.Context, value string) (*Token, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// NewValue generates a cryptographically random, URL-safe token value.
func NewValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hermes/internal/domain/token"
	"hermes/pkg/errors"
)

// TokenRepository implements token.Repository using Redis. Keys carry the
// token TTL natively, so expired tokens vanish without a sweep and
// DeleteExpired is a no-op.
type TokenRepository struct {
	client *redis.Client
}

// NewTokenRepository creates a Redis-backed token repository.
func NewTokenRepository(client *redis.Client) *TokenRepository {
	return &TokenRepository{
		client: client,
	}
}

type tokenRecord struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Insert stores the token with its remaining lifetime as the key TTL.
func (r *TokenRepository) Insert(ctx context.Context, tok *token.Token) error {
	key := r.getKey(tok.Value)

	data, err := json.Marshal(tokenRecord{
		SessionID: tok.SessionID,
		UserID:    tok.UserID,
		CreatedAt: tok.CreatedAt,
		ExpiresAt: tok.ExpiresAt,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to marshal token: session_id=%s", tok.SessionID)
	}

	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return errors.Wrap(errors.ErrInvalidInput, "token already expired")
	}

	ok, err := r.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "save token to redis: session_id=%s: %v", tok.SessionID, err)
	}
	if !ok {
		return errors.Wrap(errors.ErrAlreadyExists, "token collision")
	}

	return nil
}

// Claim fetches and deletes the token in one GETDEL, so only one of any
// number of concurrent claims can observe the value.
func (r *TokenRepository) Claim(ctx context.Context, value string) (*token.Token, error) {
	data, err := r.client.GetDel(ctx, r.getKey(value)).Result()
	if err == redis.Nil {
		return nil, errors.Wrap(errors.ErrNotFound, "token not found")
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "claim token from redis: %v", err)
	}

	var rec tokenRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal token")
	}

	return &token.Token{
		Value:     value,
		SessionID: rec.SessionID,
		UserID:    rec.UserID,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// DeleteExpired is a no-op: Redis evicts keys when their TTL lapses.
func (r *TokenRepository) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *TokenRepository) getKey(value string) string {
	return fmt.Sprintf("resume_token:%s", value)
}

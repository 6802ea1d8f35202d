package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes/internal/domain/token"
	"hermes/internal/testsupport"
	"hermes/pkg/errors"
)

func newTestToken(t *testing.T, ttl time.Duration) *token.Token {
	t.Helper()

	value, err := token.NewValue()
	require.NoError(t, err)

	now := time.Now()
	return &token.Token{
		Value:     value,
		SessionID: testsupport.UniqueSessionID(),
		UserID:    testsupport.UniqueUserID(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestTokenRepository_InsertAndClaim(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewTokenRepository(testDB.Tx())
	ctx := context.Background()

	tok := newTestToken(t, 24*time.Hour)
	require.NoError(t, repo.Insert(ctx, tok))

	got, err := repo.Claim(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, tok.SessionID, got.SessionID)
	assert.Equal(t, tok.UserID, got.UserID)
	assert.WithinDuration(t, tok.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestTokenRepository_InsertDuplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewTokenRepository(testDB.Tx())
	ctx := context.Background()

	tok := newTestToken(t, 24*time.Hour)
	require.NoError(t, repo.Insert(ctx, tok))

	err := repo.Insert(ctx, tok)
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)
}

func TestTokenRepository_ClaimUnknown(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewTokenRepository(testDB.Tx())

	_, err := repo.Claim(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestTokenRepository_ClaimConsumes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewTokenRepository(testDB.Tx())
	ctx := context.Background()

	tok := newTestToken(t, 24*time.Hour)
	require.NoError(t, repo.Insert(ctx, tok))

	_, err := repo.Claim(ctx, tok.Value)
	require.NoError(t, err)

	// The row is gone; a second claim finds nothing.
	_, err = repo.Claim(ctx, tok.Value)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestTokenRepository_DeleteExpired(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewTokenRepository(testDB.Tx())
	ctx := context.Background()

	expired := newTestToken(t, -time.Hour)
	live := newTestToken(t, 24*time.Hour)
	require.NoError(t, repo.Insert(ctx, expired))
	require.NoError(t, repo.Insert(ctx, live))

	n, err := repo.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = repo.Claim(ctx, expired.Value)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = repo.Claim(ctx, live.Value)
	assert.NoError(t, err)
}

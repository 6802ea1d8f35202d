package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes/internal/domain/connection"
	"hermes/internal/testsupport"
	"hermes/pkg/errors"
)

func newTestConnection(sessionID string) *connection.Connection {
	now := time.Now()
	return &connection.Connection{
		SessionID:    sessionID,
		ConnectionID: testsupport.UniqueConnectionID(),
		UserID:       testsupport.UniqueUserID(),
		InstanceID:   "instance-test",
		ConnectedAt:  now,
		LastActivity: now,
	}
}

func TestConnectionRepository_UpsertReplacesBinding(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewConnectionRepository(testDB.Tx())
	ctx := context.Background()

	sessionID := testsupport.UniqueSessionID()
	first := newTestConnection(sessionID)
	require.NoError(t, repo.Upsert(ctx, first))

	second := newTestConnection(sessionID)
	require.NoError(t, repo.Upsert(ctx, second))

	got, err := repo.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, second.ConnectionID, got.ConnectionID)

	// Still one row per session.
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConnectionRepository_DeleteGuardsOwnership(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewConnectionRepository(testDB.Tx())
	ctx := context.Background()

	sessionID := testsupport.UniqueSessionID()
	old := newTestConnection(sessionID)
	require.NoError(t, repo.Upsert(ctx, old))

	replacement := newTestConnection(sessionID)
	require.NoError(t, repo.Upsert(ctx, replacement))

	// The superseded transport disconnecting late must not unbind the
	// replacement.
	require.NoError(t, repo.Delete(ctx, sessionID, old.ConnectionID))

	got, err := repo.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, replacement.ConnectionID, got.ConnectionID)

	require.NoError(t, repo.Delete(ctx, sessionID, replacement.ConnectionID))
	_, err = repo.Get(ctx, sessionID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestConnectionRepository_Touch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewConnectionRepository(testDB.Tx())
	ctx := context.Background()

	sessionID := testsupport.UniqueSessionID()
	conn := newTestConnection(sessionID)
	conn.LastActivity = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Upsert(ctx, conn))

	require.NoError(t, repo.Touch(ctx, sessionID, time.Now()))

	got, err := repo.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, got.LastActivity.After(conn.LastActivity))
}

func TestConnectionRepository_DeleteByInstance(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewConnectionRepository(testDB.Tx())
	ctx := context.Background()

	mine := newTestConnection(testsupport.UniqueSessionID())
	mine.InstanceID = "instance-a"
	other := newTestConnection(testsupport.UniqueSessionID())
	other.InstanceID = "instance-b"
	require.NoError(t, repo.Upsert(ctx, mine))
	require.NoError(t, repo.Upsert(ctx, other))

	n, err := repo.DeleteByInstance(ctx, "instance-a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.Get(ctx, mine.SessionID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	_, err = repo.Get(ctx, other.SessionID)
	assert.NoError(t, err)
}

package postgres

import (
	"context"
	"database/sql"
	"time"

	"hermes/internal/domain/connection"
	"hermes/pkg/errors"
)

// ConnectionRepository implements connection.Repository on PostgreSQL.
// session_id is the primary key, so the upsert replaces any previous
// binding in one statement.
type ConnectionRepository struct {
	db DBTX
}

// NewConnectionRepository creates a PostgreSQL-backed connection repository.
func NewConnectionRepository(db DBTX) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Upsert binds a transport to a session, superseding any existing row.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *connection.Connection) error {
	query := `
		INSERT INTO active_connections (session_id, connection_id, user_id, instance_id, connected_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			user_id       = EXCLUDED.user_id,
			instance_id   = EXCLUDED.instance_id,
			connected_at  = EXCLUDED.connected_at,
			last_activity = EXCLUDED.last_activity
	`

	_, err := r.db.ExecContext(ctx, query,
		conn.SessionID,
		conn.ConnectionID,
		conn.UserID,
		conn.InstanceID,
		conn.ConnectedAt,
		conn.LastActivity,
	)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "upsert connection: %v", err)
	}

	return nil
}

// Get returns the binding for a session, if any.
func (r *ConnectionRepository) Get(ctx context.Context, sessionID string) (*connection.Connection, error) {
	query := `
		SELECT session_id, connection_id, user_id, instance_id, connected_at, last_activity
		FROM active_connections
		WHERE session_id = $1
	`

	var conn connection.Connection
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&conn.SessionID,
		&conn.ConnectionID,
		&conn.UserID,
		&conn.InstanceID,
		&conn.ConnectedAt,
		&conn.LastActivity,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "connection not found")
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "get connection: %v", err)
	}

	return &conn, nil
}

// Touch bumps last_activity for a session's binding.
func (r *ConnectionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE active_connections SET last_activity = $1 WHERE session_id = $2`
	if _, err := r.db.ExecContext(ctx, query, at, sessionID); err != nil {
		return errors.Wrapf(errors.ErrStorage, "touch connection: %v", err)
	}
	return nil
}

// Delete unbinds a session only if the row still belongs to connectionID.
func (r *ConnectionRepository) Delete(ctx context.Context, sessionID, connectionID string) error {
	query := `DELETE FROM active_connections WHERE session_id = $1 AND connection_id = $2`
	if _, err := r.db.ExecContext(ctx, query, sessionID, connectionID); err != nil {
		return errors.Wrapf(errors.ErrStorage, "delete connection: %v", err)
	}
	return nil
}

// Count returns the number of active bindings across all instances.
func (r *ConnectionRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM active_connections`).Scan(&n); err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "count connections: %v", err)
	}
	return n, nil
}

// DeleteByInstance drops all bindings owned by one gateway instance.
func (r *ConnectionRepository) DeleteByInstance(ctx context.Context, instanceID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM active_connections WHERE instance_id = $1`, instanceID)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "delete connections by instance: %v", err)
	}
	return result.RowsAffected()
}

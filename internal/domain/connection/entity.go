package connection

import (
	"context"
	"time"
)

// Connection records which transport currently owns a session. At most one
// row exists per session; binding a new transport replaces the old row.
type Connection struct {
	SessionID    string
	ConnectionID string
	UserID       string
	InstanceID   string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// Repository is the persistence contract for the connection registry.
// Upsert enforces the one-transport-per-session rule at the storage level.
type Repository interface {
	Upsert(ctx context.Context, conn *Connection) error
	Get(ctx context.Context, sessionID string) (*Connection, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	// Delete removes the row only if it still belongs to connectionID, so
	// a late disconnect of a superseded transport cannot unbind its
	// replacement.
	Delete(ctx context.Context, sessionID, connectionID string) error
	Count(ctx context.Context) (int, error)
	// DeleteByInstance clears rows owned by a gateway instance, used on
	// startup to drop bindings orphaned by a crash.
	DeleteByInstance(ctx context.Context, instanceID string) (int64, error)
}

package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"hermes/internal/domain/connection"
	"hermes/internal/metrics"
	"hermes/pkg/logger"
)

// Registry tracks which transport owns which session. It enforces the
// one-transport-per-session rule: binding a session that already has a
// transport supersedes the old one, and the superseded transport is
// force-closed so its client learns immediately.
//
// Bindings are mirrored into the connection repository for observability
// and crash recovery; the in-memory maps are authoritative.
type Registry struct {
	mu         sync.Mutex
	bySession  map[string]*binding
	sessionOf  map[string]string // connection id -> session id
	repo       connection.Repository
	instanceID string
	log        *logger.Logger
}

type binding struct {
	id          string
	userID      string
	transport   Transport
	connectedAt time.Time
}

// NewRegistry creates an empty connection registry. repo may be nil when
// no persistence mirror is wanted (tests).
func NewRegistry(repo connection.Repository, instanceID string) *Registry {
	return &Registry{
		bySession:  make(map[string]*binding),
		sessionOf:  make(map[string]string),
		repo:       repo,
		instanceID: instanceID,
		log:        logger.Get().With("component", "connection_registry"),
	}
}

// Bind attaches a transport to a session and returns the connection id.
// Any prior binding for the session is removed and its transport closed.
func (r *Registry) Bind(ctx context.Context, transport Transport, sessionID, userID string) string {
	connID := uuid.New().String()
	now := time.Now()

	r.mu.Lock()
	old := r.bySession[sessionID]
	if old != nil {
		delete(r.sessionOf, old.id)
	}
	b := &binding{
		id:          connID,
		userID:      userID,
		transport:   transport,
		connectedAt: now,
	}
	r.bySession[sessionID] = b
	r.sessionOf[connID] = sessionID
	total := len(r.bySession)
	r.mu.Unlock()

	if old != nil {
		metrics.ConnectionsSuperseded.Inc()
		r.log.Infow("superseding transport", "session_id", sessionID, "old_connection_id", old.id)
		if err := old.transport.Close(); err != nil {
			r.log.Debugw("superseded transport close failed", "err", err)
		}
	}

	metrics.ConnectionsOpened.WithLabelValues(transport.Kind()).Inc()
	metrics.ActiveConnections.Set(float64(total))

	if r.repo != nil {
		err := r.repo.Upsert(ctx, &connection.Connection{
			SessionID:    sessionID,
			ConnectionID: connID,
			UserID:       userID,
			InstanceID:   r.instanceID,
			ConnectedAt:  now,
			LastActivity: now,
		})
		if err != nil {
			// The mirror is best-effort; the in-memory binding stands.
			r.log.Warnw("connection mirror upsert failed", "session_id", sessionID, "err", err)
		}
	}

	r.log.Infow("transport bound", "session_id", sessionID, "connection_id", connID, "transport", transport.Kind())
	return connID
}

// Unbind detaches a connection from its session. A stale connection id
// (already superseded) is ignored, so a late disconnect cannot evict the
// current transport.
func (r *Registry) Unbind(ctx context.Context, connID, sessionID string) {
	r.mu.Lock()
	current := r.bySession[sessionID]
	if current == nil || current.id != connID {
		r.mu.Unlock()
		return
	}
	delete(r.bySession, sessionID)
	delete(r.sessionOf, connID)
	total := len(r.bySession)
	r.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))

	if r.repo != nil {
		if err := r.repo.Delete(ctx, sessionID, connID); err != nil {
			r.log.Warnw("connection mirror delete failed", "session_id", sessionID, "err", err)
		}
	}

	r.log.Infow("transport unbound", "session_id", sessionID, "connection_id", connID)
}

// Send delivers a wire message to the session's bound transport. Returns
// false when no transport is bound or the send failed; a failed transport
// is unbound as a side effect. Callers persist independently, so a false
// return is not an error condition.
func (r *Registry) Send(ctx context.Context, sessionID string, msg WireMessage) bool {
	r.mu.Lock()
	b := r.bySession[sessionID]
	r.mu.Unlock()

	if b == nil {
		metrics.RecordWireMessage(string(msg.Type), false)
		return false
	}

	if err := b.transport.Send(msg); err != nil {
		r.log.Infow("send failed, unbinding transport", "session_id", sessionID, "connection_id", b.id, "err", err)
		r.Unbind(ctx, b.id, sessionID)
		_ = b.transport.Close()
		metrics.RecordWireMessage(string(msg.Type), false)
		return false
	}

	metrics.RecordWireMessage(string(msg.Type), true)
	return true
}

// Touch refreshes the last-activity mark for a session's binding.
func (r *Registry) Touch(ctx context.Context, sessionID string) {
	r.mu.Lock()
	_, bound := r.bySession[sessionID]
	r.mu.Unlock()

	if !bound || r.repo == nil {
		return
	}
	if err := r.repo.Touch(ctx, sessionID, time.Now()); err != nil {
		r.log.Debugw("connection touch failed", "session_id", sessionID, "err", err)
	}
}

// Owner reports the connection id currently bound to a session, if any.
func (r *Registry) Owner(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bySession[sessionID]
	if b == nil {
		return "", false
	}
	return b.id, true
}

// Count returns the number of live bindings on this instance.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySession)
}

// Shutdown closes every bound transport and clears the registry. Called
// once at process stop.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	bindings := make([]*binding, 0, len(r.bySession))
	for _, b := range r.bySession {
		bindings = append(bindings, b)
	}
	r.bySession = make(map[string]*binding)
	r.sessionOf = make(map[string]string)
	r.mu.Unlock()

	for _, b := range bindings {
		_ = b.transport.Close()
	}
	metrics.ActiveConnections.Set(0)

	if r.repo != nil {
		if n, err := r.repo.DeleteByInstance(ctx, r.instanceID); err != nil {
			r.log.Warnw("connection mirror cleanup failed", "err", err)
		} else if n > 0 {
			r.log.Infow("connection mirror cleared", "count", n)
		}
	}

	r.log.Infow("connection registry shut down", "closed", len(bindings))
}

// RecoverOrphans drops mirror rows left behind by a previous run of this
// instance. Called once at startup before accepting connections.
func (r *Registry) RecoverOrphans(ctx context.Context) {
	if r.repo == nil {
		return
	}
	n, err := r.repo.DeleteByInstance(ctx, r.instanceID)
	if err != nil {
		r.log.Warnw("orphaned connection cleanup failed", "err", err)
		return
	}
	if n > 0 {
		r.log.Infow("orphaned connection rows removed", "count", n)
	}
}

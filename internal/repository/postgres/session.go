package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"hermes/internal/domain/session"
	"hermes/pkg/errors"
	"hermes/pkg/logger"
)

// SessionRepository implements session.Repository on PostgreSQL.
// Events carry a monotonic seq assigned by the database, so transcript
// order is stable even when timestamps collide.
type SessionRepository struct {
	db  DBTX
	log *logger.Logger
}

// NewSessionRepository creates a PostgreSQL-backed session repository.
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{
		db:  db,
		log: logger.Get().With("component", "session_repository"),
	}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}

	query := `
		INSERT INTO adk_sessions (id, app_name, user_id, session_id, state, updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		sess.ID,
		sess.AppName,
		sess.UserID,
		sess.SessionID,
		stateJSON,
		sess.UpdatedAt,
		sess.CreatedAt,
	)
	if err != nil {
		// A concurrent create of the same (app, user, session) triple hits
		// the unique constraint; callers resolve it by re-reading the row.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.Wrap(errors.ErrAlreadyExists, "session already exists")
		}
		return errors.Wrapf(errors.ErrStorage, "insert session: %v", err)
	}

	return nil
}

// Get loads a session row plus its events, filtered by opts.
func (r *SessionRepository) Get(ctx context.Context, appName, userID, sessionID string, opts *session.GetOptions) (*session.Session, error) {
	if opts == nil {
		opts = &session.GetOptions{}
	}

	query := `
		SELECT id, app_name, user_id, session_id, state, updated_at, created_at
		FROM adk_sessions
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3
	`

	var sess session.Session
	var stateJSON []byte

	err := r.db.QueryRowContext(ctx, query, appName, userID, sessionID).Scan(
		&sess.ID,
		&sess.AppName,
		&sess.UserID,
		&sess.SessionID,
		&stateJSON,
		&sess.UpdatedAt,
		&sess.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "session not found")
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "get session: %v", err)
	}

	if err := json.Unmarshal(stateJSON, &sess.State); err != nil {
		return nil, errors.Wrap(err, "unmarshal state")
	}

	events, err := r.GetEvents(ctx, sess.ID, &session.GetEventsOptions{
		Limit: opts.NumRecentEvents,
		After: opts.After,
	})
	if err != nil {
		return nil, err
	}

	sess.Events = make([]session.Event, len(events))
	for i, e := range events {
		sess.Events[i] = *e
	}

	return &sess, nil
}

// List returns session rows for an app (optionally one user), newest
// activity first. Events are not loaded.
func (r *SessionRepository) List(ctx context.Context, appName, userID string) ([]*session.Session, error) {
	query := `
		SELECT id, app_name, user_id, session_id, state, updated_at, created_at
		FROM adk_sessions
		WHERE app_name = $1
	`
	args := []interface{}{appName}

	if userID != "" {
		query += ` AND user_id = $2`
		args = append(args, userID)
	}

	query += ` ORDER BY updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "list sessions: %v", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		var sess session.Session
		var stateJSON []byte

		if err := rows.Scan(
			&sess.ID,
			&sess.AppName,
			&sess.UserID,
			&sess.SessionID,
			&stateJSON,
			&sess.UpdatedAt,
			&sess.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan session")
		}

		if err := json.Unmarshal(stateJSON, &sess.State); err != nil {
			return nil, errors.Wrap(err, "unmarshal state")
		}

		sess.Events = []session.Event{}
		sessions = append(sessions, &sess)
	}

	return sessions, rows.Err()
}

// Delete removes a session; events follow via ON DELETE CASCADE.
func (r *SessionRepository) Delete(ctx context.Context, appName, userID, sessionID string) error {
	query := `
		DELETE FROM adk_sessions
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, appName, userID, sessionID)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "delete session: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if rows == 0 {
		return errors.Wrap(errors.ErrNotFound, "session not found")
	}

	return nil
}

// UpdateState replaces the session state blob and bumps updated_at.
func (r *SessionRepository) UpdateState(ctx context.Context, appName, userID, sessionID string, state map[string]interface{}) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}

	query := `
		UPDATE adk_sessions
		SET state = $1, updated_at = $2
		WHERE app_name = $3 AND user_id = $4 AND session_id = $5
	`

	if _, err := r.db.ExecContext(ctx, query, stateJSON, time.Now(), appName, userID, sessionID); err != nil {
		return errors.Wrapf(errors.ErrStorage, "update state: %v", err)
	}

	return nil
}

// AppendEvent inserts a transcript event. seq is assigned by the database.
func (r *SessionRepository) AppendEvent(ctx context.Context, sessionUUID uuid.UUID, event *session.Event) error {
	contentJSON, err := json.Marshal(event.Content)
	if err != nil {
		return errors.Wrap(err, "marshal content")
	}

	actionsJSON, err := json.Marshal(event.Actions)
	if err != nil {
		return errors.Wrap(err, "marshal actions")
	}

	var usageJSON []byte
	if event.UsageMetadata != nil {
		usageJSON, err = json.Marshal(event.UsageMetadata)
		if err != nil {
			return errors.Wrap(err, "marshal usage metadata")
		}
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	query := `
		INSERT INTO adk_events (
			id, session_uuid, event_id, author, content, timestamp, branch,
			partial, turn_complete, actions, usage_metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		sessionUUID,
		event.EventID,
		event.Author,
		contentJSON,
		event.Timestamp,
		event.Branch,
		event.Partial,
		event.TurnComplete,
		actionsJSON,
		usageJSON,
	)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "insert event: %v", err)
	}

	return nil
}

// GetEvents returns a session's events in append order. With a limit, the
// most recent events are returned, still oldest-first.
func (r *SessionRepository) GetEvents(ctx context.Context, sessionUUID uuid.UUID, opts *session.GetEventsOptions) ([]*session.Event, error) {
	if opts == nil {
		opts = &session.GetEventsOptions{}
	}

	query := `
		SELECT id, session_uuid, event_id, author, content, timestamp, branch,
		       partial, turn_complete, actions, usage_metadata
		FROM adk_events
		WHERE session_uuid = $1
	`
	args := []interface{}{sessionUUID}

	if !opts.After.IsZero() {
		query += fmt.Sprintf(` AND timestamp >= $%d`, len(args)+1)
		args = append(args, opts.After)
	}

	// Fetch newest-first so LIMIT keeps the tail, then reverse below.
	query += ` ORDER BY seq DESC`

	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "get events: %v", err)
	}
	defer rows.Close()

	var events []*session.Event
	for rows.Next() {
		var event session.Event
		var contentJSON, actionsJSON, usageJSON []byte

		if err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.EventID,
			&event.Author,
			&contentJSON,
			&event.Timestamp,
			&event.Branch,
			&event.Partial,
			&event.TurnComplete,
			&actionsJSON,
			&usageJSON,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}

		if err := json.Unmarshal(contentJSON, &event.Content); err != nil {
			return nil, errors.Wrap(err, "unmarshal content")
		}
		if err := json.Unmarshal(actionsJSON, &event.Actions); err != nil {
			return nil, errors.Wrap(err, "unmarshal actions")
		}
		if len(usageJSON) > 0 {
			var usage session.UsageMetadata
			if err := json.Unmarshal(usageJSON, &usage); err != nil {
				return nil, errors.Wrap(err, "unmarshal usage metadata")
			}
			event.UsageMetadata = &usage
		}

		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "iterate events: %v", err)
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	return events, nil
}

// GetAppState retrieves application-level state.
func (r *SessionRepository) GetAppState(ctx context.Context, appName string) (*session.AppState, error) {
	query := `SELECT app_name, state FROM adk_app_state WHERE app_name = $1`

	var appState session.AppState
	var stateJSON []byte

	err := r.db.QueryRowContext(ctx, query, appName).Scan(&appState.AppName, &stateJSON)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "app state not found")
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "get app state: %v", err)
	}

	if err := json.Unmarshal(stateJSON, &appState.State); err != nil {
		return nil, errors.Wrap(err, "unmarshal state")
	}

	return &appState, nil
}

// SetAppState upserts application-level state.
func (r *SessionRepository) SetAppState(ctx context.Context, appName string, state map[string]interface{}) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}

	query := `
		INSERT INTO adk_app_state (app_name, state)
		VALUES ($1, $2)
		ON CONFLICT (app_name) DO UPDATE SET state = $2
	`

	if _, err := r.db.ExecContext(ctx, query, appName, stateJSON); err != nil {
		return errors.Wrapf(errors.ErrStorage, "set app state: %v", err)
	}

	return nil
}

// GetUserState retrieves user-level state.
func (r *SessionRepository) GetUserState(ctx context.Context, appName, userID string) (*session.UserState, error) {
	query := `SELECT app_name, user_id, state FROM adk_user_state WHERE app_name = $1 AND user_id = $2`

	var userState session.UserState
	var stateJSON []byte

	err := r.db.QueryRowContext(ctx, query, appName, userID).Scan(&userState.AppName, &userState.UserID, &stateJSON)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "user state not found")
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "get user state: %v", err)
	}

	if err := json.Unmarshal(stateJSON, &userState.State); err != nil {
		return nil, errors.Wrap(err, "unmarshal state")
	}

	return &userState, nil
}

// SetUserState upserts user-level state.
func (r *SessionRepository) SetUserState(ctx context.Context, appName, userID string, state map[string]interface{}) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}

	query := `
		INSERT INTO adk_user_state (app_name, user_id, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (app_name, user_id) DO UPDATE SET state = $3
	`

	if _, err := r.db.ExecContext(ctx, query, appName, userID, stateJSON); err != nil {
		return errors.Wrapf(errors.ErrStorage, "set user state: %v", err)
	}

	return nil
}

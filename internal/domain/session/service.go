package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"hermes/pkg/errors"
	"hermes/pkg/logger"
)

// Service holds session business logic: creation, retrieval with merged
// multi-level state, listing, deletion and transcript appends.
type Service struct {
	repo Repository
	log  *logger.Logger
}

// NewService creates a session service on top of a repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		log:  logger.Get().With("component", "session_service"),
	}
}

// Create creates a session. An empty sessionID gets a generated UUID.
// Keys in initialState prefixed with _app_ / _user_ are routed to the
// corresponding state level; _temp_ keys are dropped.
func (s *Service) Create(ctx context.Context, appName, userID, sessionID string, initialState map[string]interface{}) (*Session, error) {
	if appName == "" || userID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "app_name and user_id are required")
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	appDelta, userDelta, sessionState := splitStateDeltas(initialState)

	if len(appDelta) > 0 {
		if err := s.applyAppDelta(ctx, appName, appDelta); err != nil {
			return nil, err
		}
	}
	if len(userDelta) > 0 {
		if err := s.applyUserDelta(ctx, appName, userID, userDelta); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	sess := &Session{
		ID:        uuid.New(),
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
		State:     sessionState,
		Events:    []Event{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "create session")
	}

	s.log.Infow("session created", "app", appName, "user_id", userID, "session_id", sessionID)
	return sess, nil
}

// Get loads a session with its events and merges app/user state back in
// under their prefixes.
func (s *Service) Get(ctx context.Context, appName, userID, sessionID string, opts *GetOptions) (*Session, error) {
	if appName == "" || userID == "" || sessionID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "app_name, user_id and session_id are required")
	}

	sess, err := s.repo.Get(ctx, appName, userID, sessionID, opts)
	if err != nil {
		return nil, err
	}

	if err := s.mergeStates(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns all sessions for a user, most recently active first.
func (s *Service) List(ctx context.Context, appName, userID string) ([]*Session, error) {
	if appName == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "app_name is required")
	}

	sessions, err := s.repo.List(ctx, appName, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}

	for _, sess := range sessions {
		if err := s.mergeStates(ctx, sess); err != nil {
			s.log.Warnw("state merge failed", "session_id", sess.SessionID, "err", err)
		}
	}
	return sessions, nil
}

// Delete removes a session and its transcript.
func (s *Service) Delete(ctx context.Context, appName, userID, sessionID string) error {
	if appName == "" || userID == "" || sessionID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "app_name, user_id and session_id are required")
	}

	if err := s.repo.Delete(ctx, appName, userID, sessionID); err != nil {
		return errors.Wrap(err, "delete session")
	}

	s.log.Infow("session deleted", "app", appName, "user_id", userID, "session_id", sessionID)
	return nil
}

// AppendEvent persists an event and applies its state delta across levels.
// Partial (streaming) events are skipped; only complete events reach storage.
func (s *Service) AppendEvent(ctx context.Context, sess *Session, event *Event) error {
	if sess == nil || event == nil {
		return errors.Wrap(errors.ErrInvalidInput, "session and event are required")
	}

	if event.Partial {
		return nil
	}

	if len(event.Actions.StateDelta) > 0 {
		appDelta, userDelta, sessionDelta := splitStateDeltas(event.Actions.StateDelta)

		if len(appDelta) > 0 {
			if err := s.applyAppDelta(ctx, sess.AppName, appDelta); err != nil {
				return err
			}
		}
		if len(userDelta) > 0 {
			if err := s.applyUserDelta(ctx, sess.AppName, sess.UserID, userDelta); err != nil {
				return err
			}
		}
		if len(sessionDelta) > 0 {
			if sess.State == nil {
				sess.State = make(map[string]interface{})
			}
			for k, v := range sessionDelta {
				sess.State[k] = v
			}
			if err := s.repo.UpdateState(ctx, sess.AppName, sess.UserID, sess.SessionID, sess.State); err != nil {
				return errors.Wrap(err, "update session state")
			}
		}
	}

	if err := s.repo.AppendEvent(ctx, sess.ID, event); err != nil {
		return errors.Wrap(err, "append event")
	}

	sess.Events = append(sess.Events, *event)
	sess.UpdatedAt = time.Now()
	return nil
}

// splitStateDeltas routes state keys to their level by prefix. Temp keys
// are never persisted.
func splitStateDeltas(state map[string]interface{}) (app, user, session map[string]interface{}) {
	app = make(map[string]interface{})
	user = make(map[string]interface{})
	session = make(map[string]interface{})

	for key, value := range state {
		switch {
		case strings.HasPrefix(key, KeyPrefixApp):
			app[strings.TrimPrefix(key, KeyPrefixApp)] = value
		case strings.HasPrefix(key, KeyPrefixUser):
			user[strings.TrimPrefix(key, KeyPrefixUser)] = value
		case strings.HasPrefix(key, KeyPrefixTemp):
			// not persisted
		default:
			session[key] = value
		}
	}
	return app, user, session
}

func (s *Service) mergeStates(ctx context.Context, sess *Session) error {
	appState, err := s.repo.GetAppState(ctx, sess.AppName)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return errors.Wrap(err, "get app state")
	}
	userState, err := s.repo.GetUserState(ctx, sess.AppName, sess.UserID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return errors.Wrap(err, "get user state")
	}

	merged := make(map[string]interface{}, len(sess.State))
	for k, v := range sess.State {
		merged[k] = v
	}
	if appState != nil {
		for k, v := range appState.State {
			merged[KeyPrefixApp+k] = v
		}
	}
	if userState != nil {
		for k, v := range userState.State {
			merged[KeyPrefixUser+k] = v
		}
	}

	sess.State = merged
	return nil
}

func (s *Service) applyAppDelta(ctx context.Context, appName string, delta map[string]interface{}) error {
	appState, err := s.repo.GetAppState(ctx, appName)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return errors.Wrap(err, "get app state")
	}
	if appState == nil {
		appState = &AppState{AppName: appName, State: make(map[string]interface{})}
	}
	for k, v := range delta {
		appState.State[k] = v
	}
	return s.repo.SetAppState(ctx, appName, appState.State)
}

func (s *Service) applyUserDelta(ctx context.Context, appName, userID string, delta map[string]interface{}) error {
	userState, err := s.repo.GetUserState(ctx, appName, userID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return errors.Wrap(err, "get user state")
	}
	if userState == nil {
		userState = &UserState{AppName: appName, UserID: userID, State: make(map[string]interface{})}
	}
	for k, v := range delta {
		userState.State[k] = v
	}
	return s.repo.SetUserState(ctx, appName, userID, userState.State)
}

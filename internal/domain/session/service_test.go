package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes/pkg/errors"
)

type fakeRepo struct {
	sessions  map[string]*Session
	events    map[uuid.UUID][]*Event
	appState  map[string]map[string]interface{}
	userState map[string]map[string]interface{}
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions:  make(map[string]*Session),
		events:    make(map[uuid.UUID][]*Event),
		appState:  make(map[string]map[string]interface{}),
		userState: make(map[string]map[string]interface{}),
	}
}

func key(appName, userID, sessionID string) string {
	return appName + "/" + userID + "/" + sessionID
}

func (r *fakeRepo) Create(_ context.Context, s *Session) error {
	r.sessions[key(s.AppName, s.UserID, s.SessionID)] = s
	return nil
}

func (r *fakeRepo) Get(_ context.Context, appName, userID, sessionID string, _ *GetOptions) (*Session, error) {
	s, ok := r.sessions[key(appName, userID, sessionID)]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context, appName, userID string) ([]*Session, error) {
	var out []*Session
	for _, s := range r.sessions {
		if s.AppName == appName && (userID == "" || s.UserID == userID) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) Delete(_ context.Context, appName, userID, sessionID string) error {
	delete(r.sessions, key(appName, userID, sessionID))
	return nil
}

func (r *fakeRepo) UpdateState(_ context.Context, appName, userID, sessionID string, state map[string]interface{}) error {
	s, ok := r.sessions[key(appName, userID, sessionID)]
	if !ok {
		return errors.ErrNotFound
	}
	s.State = state
	return nil
}

func (r *fakeRepo) AppendEvent(_ context.Context, sessionUUID uuid.UUID, event *Event) error {
	r.events[sessionUUID] = append(r.events[sessionUUID], event)
	return nil
}

func (r *fakeRepo) GetEvents(_ context.Context, sessionUUID uuid.UUID, _ *GetEventsOptions) ([]*Event, error) {
	return r.events[sessionUUID], nil
}

func (r *fakeRepo) GetAppState(_ context.Context, appName string) (*AppState, error) {
	st, ok := r.appState[appName]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &AppState{AppName: appName, State: st}, nil
}

func (r *fakeRepo) SetAppState(_ context.Context, appName string, state map[string]interface{}) error {
	r.appState[appName] = state
	return nil
}

func (r *fakeRepo) GetUserState(_ context.Context, appName, userID string) (*UserState, error) {
	st, ok := r.userState[appName+"/"+userID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &UserState{AppName: appName, UserID: userID, State: st}, nil
}

func (r *fakeRepo) SetUserState(_ context.Context, appName, userID string, state map[string]interface{}) error {
	r.userState[appName+"/"+userID] = state
	return nil
}

func TestServiceCreate(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	sess, err := svc.Create(ctx, "hermes", "user-1", "", InitialState())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, true, sess.State["initialized"])
	assert.NotEmpty(t, sess.State["created_at"])
}

func TestServiceCreateValidation(t *testing.T) {
	svc := NewService(newFakeRepo())

	_, err := svc.Create(context.Background(), "", "user-1", "s1", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = svc.Create(context.Background(), "hermes", "", "s1", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestServiceCreateRoutesStateLevels(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, "hermes", "user-1", "s1", map[string]interface{}{
		"_app_version":  "1.2.0",
		"_user_theme":   "dark",
		"_temp_scratch": "gone",
		"topic":         "deploys",
	})
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", repo.appState["hermes"]["version"])
	assert.Equal(t, "dark", repo.userState["hermes/user-1"]["theme"])

	sess := repo.sessions[key("hermes", "user-1", "s1")]
	assert.Equal(t, "deploys", sess.State["topic"])
	assert.NotContains(t, sess.State, "_temp_scratch")
}

func TestServiceGetMergesStates(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, "hermes", "user-1", "s1", map[string]interface{}{
		"_app_version": "1.2.0",
		"_user_theme":  "dark",
		"topic":        "deploys",
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "hermes", "user-1", "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, "deploys", got.State["topic"])
	assert.Equal(t, "1.2.0", got.State["_app_version"])
	assert.Equal(t, "dark", got.State["_user_theme"])
}

func TestServiceGetNotFound(t *testing.T) {
	svc := NewService(newFakeRepo())

	_, err := svc.Get(context.Background(), "hermes", "user-1", "missing", nil)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestServiceAppendEvent(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "hermes", "user-1", "s1", nil)
	require.NoError(t, err)

	ev := &Event{
		ID:        uuid.New(),
		SessionID: sess.ID,
		EventID:   "ev-1",
		Author:    "user",
		Content:   map[string]interface{}{"role": "user"},
		Timestamp: time.Now(),
		Actions: EventActions{
			StateDelta: map[string]interface{}{"last_topic": "deploys"},
		},
	}
	require.NoError(t, svc.AppendEvent(ctx, sess, ev))

	stored := repo.events[sess.ID]
	require.Len(t, stored, 1)
	assert.Equal(t, "ev-1", stored[0].EventID)
	assert.Equal(t, "deploys", sess.State["last_topic"])
	assert.Len(t, sess.Events, 1)
}

func TestServiceAppendEventSkipsPartial(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "hermes", "user-1", "s1", nil)
	require.NoError(t, err)

	ev := &Event{ID: uuid.New(), SessionID: sess.ID, EventID: "ev-partial", Partial: true}
	require.NoError(t, svc.AppendEvent(ctx, sess, ev))
	assert.Empty(t, repo.events[sess.ID])
}

func TestServiceDelete(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, "hermes", "user-1", "s1", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "hermes", "user-1", "s1"))

	_, err = svc.Get(ctx, "hermes", "user-1", "s1", nil)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

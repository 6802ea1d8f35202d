package adk

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/session"

	domainsession "hermes/internal/domain/session"
	"hermes/pkg/errors"
)

func TestSessionService_Create(t *testing.T) {
	repo := newMockSessionRepo()
	domainService := domainsession.NewService(repo)
	adkService := NewSessionService(domainService)

	ctx := context.Background()

	req := &session.CreateRequest{
		AppName:   "devops_orchestrator",
		UserID:    "user123",
		SessionID: "session456",
		State: map[string]interface{}{
			"initialized": true,
		},
	}

	resp, err := adkService.Create(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Session)

	assert.Equal(t, "devops_orchestrator", resp.Session.AppName())
	assert.Equal(t, "user123", resp.Session.UserID())
	assert.Equal(t, "session456", resp.Session.ID())

	val, err := resp.Session.State().Get("initialized")
	require.NoError(t, err)
	assert.Equal(t, true, val)
}

func TestSessionService_CreateValidation(t *testing.T) {
	adkService := NewSessionService(domainsession.NewService(newMockSessionRepo()))

	_, err := adkService.Create(context.Background(), &session.CreateRequest{UserID: "u"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestSessionService_AppendEventLinksStoredRow(t *testing.T) {
	repo := newMockSessionRepo()
	domainService := domainsession.NewService(repo)
	adkService := NewSessionService(domainService)

	ctx := context.Background()

	resp, err := adkService.Create(ctx, &session.CreateRequest{
		AppName: "devops_orchestrator",
		UserID:  "user123",
	})
	require.NoError(t, err)

	ev := &session.Event{
		ID:     "ev-1",
		Author: "user",
	}
	ev.LLMResponse.TurnComplete = true

	require.NoError(t, adkService.AppendEvent(ctx, resp.Session, ev))

	// The event landed under the stored session's UUID.
	stored := repo.sessions["devops_orchestrator:user123:"+resp.Session.ID()]
	require.NotNil(t, stored)
	require.Len(t, repo.events[stored.ID], 1)
	assert.Equal(t, "ev-1", repo.events[stored.ID][0].EventID)
	assert.True(t, repo.events[stored.ID][0].TurnComplete)
}

func TestSessionService_ImplementsInterface(t *testing.T) {
	adkService := NewSessionService(domainsession.NewService(newMockSessionRepo()))
	var _ session.Service = adkService
	assert.NotNil(t, adkService)
}

// Mock repository for unit testing

type mockSessionRepo struct {
	sessions  map[string]*domainsession.Session
	events    map[uuid.UUID][]*domainsession.Event
	appState  map[string]*domainsession.AppState
	userState map[string]*domainsession.UserState
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{
		sessions:  make(map[string]*domainsession.Session),
		events:    make(map[uuid.UUID][]*domainsession.Event),
		appState:  make(map[string]*domainsession.AppState),
		userState: make(map[string]*domainsession.UserState),
	}
}

func (m *mockSessionRepo) Create(_ context.Context, sess *domainsession.Session) error {
	key := sess.AppName + ":" + sess.UserID + ":" + sess.SessionID
	m.sessions[key] = sess
	return nil
}

func (m *mockSessionRepo) Get(_ context.Context, appName, userID, sessionID string, _ *domainsession.GetOptions) (*domainsession.Session, error) {
	key := appName + ":" + userID + ":" + sessionID
	if sess, ok := m.sessions[key]; ok {
		return sess, nil
	}
	return nil, errors.ErrNotFound
}

func (m *mockSessionRepo) List(_ context.Context, appName, userID string) ([]*domainsession.Session, error) {
	var sessions []*domainsession.Session
	for _, sess := range m.sessions {
		if sess.AppName == appName && (userID == "" || sess.UserID == userID) {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

func (m *mockSessionRepo) Delete(_ context.Context, appName, userID, sessionID string) error {
	delete(m.sessions, appName+":"+userID+":"+sessionID)
	return nil
}

func (m *mockSessionRepo) UpdateState(_ context.Context, appName, userID, sessionID string, state map[string]interface{}) error {
	if sess, ok := m.sessions[appName+":"+userID+":"+sessionID]; ok {
		sess.State = state
	}
	return nil
}

func (m *mockSessionRepo) AppendEvent(_ context.Context, sessionUUID uuid.UUID, event *domainsession.Event) error {
	m.events[sessionUUID] = append(m.events[sessionUUID], event)
	return nil
}

func (m *mockSessionRepo) GetEvents(_ context.Context, sessionUUID uuid.UUID, _ *domainsession.GetEventsOptions) ([]*domainsession.Event, error) {
	return m.events[sessionUUID], nil
}

func (m *mockSessionRepo) GetAppState(_ context.Context, appName string) (*domainsession.AppState, error) {
	if state, ok := m.appState[appName]; ok {
		return state, nil
	}
	return nil, errors.ErrNotFound
}

func (m *mockSessionRepo) SetAppState(_ context.Context, appName string, state map[string]interface{}) error {
	m.appState[appName] = &domainsession.AppState{AppName: appName, State: state}
	return nil
}

func (m *mockSessionRepo) GetUserState(_ context.Context, appName, userID string) (*domainsession.UserState, error) {
	if state, ok := m.userState[appName+":"+userID]; ok {
		return state, nil
	}
	return nil, errors.ErrNotFound
}

func (m *mockSessionRepo) SetUserState(_ context.Context, appName, userID string, state map[string]interface{}) error {
	m.userState[appName+":"+userID] = &domainsession.UserState{AppName: appName, UserID: userID, State: state}
	return nil
}

package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"hermes/internal/domain/session"
	"hermes/internal/domain/token"
	"hermes/internal/metrics"
	"hermes/internal/runtime"
	"hermes/pkg/errors"
	"hermes/pkg/logger"
)

// Orchestrator owns the request lifecycle: resolve-or-create session,
// dispatch the user message into the runtime, stream translated events to
// the bound transport, and collect the final response. Turns on the same
// session are serialized; concurrent turns queue, they are never dropped.
type Orchestrator struct {
	sessions    *session.Service
	tokens      *token.Registry
	registry    *Registry
	runtime     runtime.Runtime
	translator  *Translator
	turnTimeout time.Duration
	log         *logger.Logger

	mu    sync.Mutex
	turns map[string]*turnLock
}

type turnLock struct {
	mu   sync.Mutex
	refs int
}

// NewOrchestrator wires the gateway components together.
func NewOrchestrator(sessions *session.Service, tokens *token.Registry, registry *Registry, rt runtime.Runtime, turnTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		sessions:    sessions,
		tokens:      tokens,
		registry:    registry,
		runtime:     rt,
		translator:  NewTranslator(),
		turnTimeout: turnTimeout,
		log:         logger.Get().With("component", "orchestrator"),
		turns:       make(map[string]*turnLock),
	}
}

// Resolution is the outcome of resolving a connection request to a session.
type Resolution struct {
	Session *session.Session
	UserID  string
	Resumed bool
	Created bool
}

// Resolve turns (userID, sessionID, resumeToken) into a live session. A
// resume token is redeemed first and overrides both ids; a token pointing
// at a deleted session fails with ErrNotFound. Without a token, a missing
// session is created, generating a session id when none was given.
func (o *Orchestrator) Resolve(ctx context.Context, userID, sessionID, resumeToken string) (*Resolution, error) {
	appName := o.runtime.AppName()
	resumed := false

	if resumeToken != "" {
		tok, err := o.tokens.Redeem(ctx, resumeToken)
		if err != nil {
			switch {
			case errors.Is(err, errors.ErrTokenExpired):
				metrics.RecordTokenRedemption("expired")
			case errors.Is(err, errors.ErrNotFound):
				metrics.RecordTokenRedemption("not_found")
			default:
				metrics.RecordTokenRedemption("error")
			}
			return nil, err
		}
		metrics.RecordTokenRedemption("success")
		sessionID = tok.SessionID
		userID = tok.UserID
		resumed = true
	}

	if userID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "user_id is required")
	}

	if sessionID != "" {
		sess, err := o.sessions.Get(ctx, appName, userID, sessionID, nil)
		if err == nil {
			return &Resolution{Session: sess, UserID: userID, Resumed: resumed}, nil
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		if resumed {
			// Token outlived its session.
			return nil, errors.Wrapf(errors.ErrNotFound, "resumed session %s no longer exists", sessionID)
		}
	}

	sess, err := o.sessions.Create(ctx, appName, userID, sessionID, session.InitialState())
	if err != nil {
		// Lost a create race; the winner's row is the session we want.
		if errors.Is(err, errors.ErrAlreadyExists) && sessionID != "" {
			existing, getErr := o.sessions.Get(ctx, appName, userID, sessionID, nil)
			if getErr != nil {
				return nil, getErr
			}
			return &Resolution{Session: existing, UserID: userID, Resumed: resumed}, nil
		}
		return nil, err
	}
	metrics.SessionsCreated.Inc()

	o.log.Infow("session resolved by creation", "user_id", userID, "session_id", sess.SessionID)
	return &Resolution{Session: sess, UserID: userID, Created: true}, nil
}

// ProcessTurn runs one user message through the runtime and streams the
// translated events to whatever transport is bound to the session. Returns
// the collected final response text. The runtime persists both the user
// message and the agent events through the session service, so no explicit
// append happens here.
func (o *Orchestrator) ProcessTurn(ctx context.Context, userID, sessionID, text string) (string, error) {
	if text == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "message text is required")
	}

	unlock := o.lockTurn(sessionID)
	defer unlock()

	started := time.Now()
	o.registry.Send(ctx, sessionID, NewWireMessage(TypeAgentThinking, "Agent is processing your request...", sessionID))

	turnCtx := ctx
	var cancel context.CancelFunc
	if o.turnTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	userContent := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: text}},
	}

	collector := NewTurnCollector()
	var runErr error

	for event, err := range o.runtime.Run(turnCtx, userID, sessionID, userContent) {
		if err != nil {
			runErr = err
			break
		}
		if event == nil || event.LLMResponse.Partial {
			continue
		}

		collector.Observe(event)
		if msg, ok := o.translator.Translate(event, sessionID); ok {
			o.registry.Send(ctx, sessionID, msg)
		}
	}

	if runErr != nil {
		status := "error"
		wrapped := errors.Wrap(errors.ErrAgentDispatch, runErr.Error())
		if turnCtx.Err() == context.DeadlineExceeded {
			status = "timeout"
			wrapped = errors.Wrapf(errors.ErrTurnTimeout, "turn exceeded %s", o.turnTimeout)
		}

		o.log.Errorw("turn failed", "session_id", sessionID, "status", status, "err", runErr)
		errMsg := NewWireMessage(TypeError, "Error processing your message. Please try again.", sessionID)
		errMsg.Metadata = map[string]interface{}{"error": runErr.Error()}
		o.registry.Send(ctx, sessionID, errMsg)

		metrics.RecordTurn(time.Since(started), status)
		return "", wrapped
	}

	o.registry.Touch(ctx, sessionID)
	metrics.RecordTurn(time.Since(started), "success")

	final := collector.Final()
	o.log.Infow("turn complete", "session_id", sessionID, "duration", time.Since(started), "tool_calls", collector.ToolCalls())
	return final, nil
}

// HistoryEntry is one prior turn item in the shape clients consume.
type HistoryEntry struct {
	Author    string  `json:"author"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

// History returns the session's transcript as flat author/content entries.
// Events without content are skipped.
func (o *Orchestrator) History(ctx context.Context, userID, sessionID string) ([]HistoryEntry, error) {
	sess, err := o.sessions.Get(ctx, o.runtime.AppName(), userID, sessionID, nil)
	if err != nil {
		return nil, err
	}

	history := make([]HistoryEntry, 0, len(sess.Events))
	for _, event := range sess.Events {
		text := contentText(event.Content)
		if text == "" {
			continue
		}
		history = append(history, HistoryEntry{
			Author:    event.Author,
			Content:   text,
			Timestamp: unixSeconds(event.Timestamp),
		})
	}
	return history, nil
}

// SendSessionInfo pushes the session_info greeting a client must receive
// before its input is accepted.
func (o *Orchestrator) SendSessionInfo(ctx context.Context, sessionID, userID, connectionID string) {
	msg := NewWireMessage(TypeSessionInfo, "Connected to session "+sessionID, sessionID)
	msg.Metadata = map[string]interface{}{
		"user_id":       userID,
		"connection_id": connectionID,
	}
	o.registry.Send(ctx, sessionID, msg)
}

// SendSessionHistory pushes the prior transcript to a resumed client. An
// empty history sends nothing.
func (o *Orchestrator) SendSessionHistory(ctx context.Context, sessionID, userID string) {
	history, err := o.History(ctx, userID, sessionID)
	if err != nil {
		o.log.Warnw("history fetch for resume failed", "session_id", sessionID, "err", err)
		return
	}
	if len(history) == 0 {
		return
	}

	msg := NewWireMessage(TypeSessionHistory,
		"Session resumed with "+strconv.Itoa(len(history))+" previous messages", sessionID)
	msg.Metadata = map[string]interface{}{
		"history": history,
		"resumed": true,
	}
	o.registry.Send(ctx, sessionID, msg)
}

// IssueToken mints a resumption token for a session after verifying the
// session exists.
func (o *Orchestrator) IssueToken(ctx context.Context, userID, sessionID string) (*token.Token, error) {
	if _, err := o.sessions.Get(ctx, o.runtime.AppName(), userID, sessionID, &session.GetOptions{NumRecentEvents: 1}); err != nil {
		return nil, err
	}

	tok, err := o.tokens.Issue(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssued.Inc()
	return tok, nil
}

// DeleteSession removes a session and its transcript.
func (o *Orchestrator) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := o.sessions.Delete(ctx, o.runtime.AppName(), userID, sessionID); err != nil {
		return err
	}
	metrics.SessionsDeleted.Inc()
	return nil
}

// ListSessions returns the user's sessions, most recently active first.
func (o *Orchestrator) ListSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	return o.sessions.List(ctx, o.runtime.AppName(), userID)
}

// lockTurn acquires the per-session turn lock and returns its release
// function. Lock entries are reference counted so idle sessions do not
// accumulate in the map.
func (o *Orchestrator) lockTurn(sessionID string) func() {
	o.mu.Lock()
	tl := o.turns[sessionID]
	if tl == nil {
		tl = &turnLock{}
		o.turns[sessionID] = tl
	}
	tl.refs++
	o.mu.Unlock()

	tl.mu.Lock()

	return func() {
		tl.mu.Unlock()

		o.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(o.turns, sessionID)
		}
		o.mu.Unlock()
	}
}

// contentText flattens a stored runtime content blob into its text parts.
func contentText(content map[string]interface{}) string {
	if len(content) == 0 {
		return ""
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	var parsed genai.Content
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range parsed.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"hermes/internal/gateway"
	"hermes/pkg/errors"
	"hermes/pkg/logger"
)

// HandlersConfig carries the per-connection knobs the HTTP layer needs.
type HandlersConfig struct {
	MaxConnections int
	MessageRate    float64
	MessageBurst   int
	WriteTimeout   time.Duration
	TokenTTL       time.Duration
}

// Handlers exposes the gateway over HTTP: WebSocket and SSE chat transports
// plus the session management REST surface.
type Handlers struct {
	orch     *gateway.Orchestrator
	registry *gateway.Registry
	cfg      HandlersConfig
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(orch *gateway.Orchestrator, registry *gateway.Registry, cfg HandlersConfig) *Handlers {
	return &Handlers{
		orch:     orch,
		registry: registry,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; auth is out
			// of scope for the gateway.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.Get().With("component", "api"),
	}
}

// sessionSummary is one row of the session browsing list.
type sessionSummary struct {
	ID             string  `json:"id"`
	AppName        string  `json:"app_name"`
	UserID         string  `json:"user_id"`
	LastUpdateTime float64 `json:"last_update_time"`
	LastActivity   string  `json:"last_activity"`
}

// HandleListSessions returns all sessions for a user, most recent first.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	sessions, err := h.orch.ListSessions(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	list := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		list = append(list, sessionSummary{
			ID:             sess.SessionID,
			AppName:        sess.AppName,
			UserID:         sess.UserID,
			LastUpdateTime: float64(sess.UpdatedAt.UnixNano()) / float64(time.Second),
			LastActivity:   humanize.Time(sess.UpdatedAt),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": list})
}

// HandleSessionHistory returns the transcript for one session.
func (h *Handlers) HandleSessionHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	sessionID := r.PathValue("session_id")

	history, err := h.orch.History(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"history":    history,
	})
}

// HandleDeleteSession removes a session. Deleting a session that does not
// exist reports success; the end state is the same.
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	sessionID := r.PathValue("session_id")

	if err := h.orch.DeleteSession(r.Context(), userID, sessionID); err != nil && !errors.Is(err, errors.ErrNotFound) {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "deleted",
		"session_id": sessionID,
	})
}

// HandleIssueToken mints a resumption token for an existing session.
func (h *Handlers) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	sessionID := r.PathValue("session_id")

	tok, err := h.orch.IssueToken(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      tok.Value,
		"session_id": tok.SessionID,
		"expires_in": int(time.Until(tok.ExpiresAt).Seconds()),
	})
}

type redeemRequest struct {
	Token string `json:"token"`
}

// HandleRedeemToken consumes a resumption token and returns the session
// binding plus its history. The token is single-use; this call invalidates it.
func (h *Handlers) HandleRedeemToken(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalidInput, "invalid request body"))
		return
	}

	res, err := h.orch.Resolve(r.Context(), "", "", req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	history, err := h.orch.History(r.Context(), res.UserID, res.Session.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": res.Session.SessionID,
		"user_id":    res.UserID,
		"history":    history,
		"resumed":    true,
	})
}

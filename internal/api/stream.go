package api

import (
	"encoding/json"
	"net/http"

	"hermes/internal/gateway"
	"hermes/pkg/errors"
)

// chatRequest is the body of a single streaming exchange.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// HandleChatStream runs one query/response exchange, pushing the turn's
// events as server-sent events. The stream ends when the turn completes.
func (h *Handlers) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalidInput, "invalid request body"))
		return
	}
	if req.Message == "" {
		writeError(w, errors.Wrap(errors.ErrInvalidInput, "message is required"))
		return
	}
	if req.UserID == "" {
		req.UserID = "default_user"
	}

	ctx := r.Context()

	res, err := h.orch.Resolve(ctx, req.UserID, req.SessionID, "")
	if err != nil {
		writeError(w, err)
		return
	}
	sessionID := res.Session.SessionID

	transport, err := gateway.NewSSETransport(w)
	if err != nil {
		writeError(w, err)
		return
	}

	connID := h.registry.Bind(ctx, transport, sessionID, res.UserID)
	defer func() {
		h.registry.Unbind(ctx, connID, sessionID)
		_ = transport.Close()
	}()

	h.orch.SendSessionInfo(ctx, sessionID, res.UserID, connID)

	final, err := h.orch.ProcessTurn(ctx, res.UserID, sessionID, req.Message)
	if err != nil {
		// The error already went out as an error event on the stream.
		h.log.Warnw("streamed turn failed", "session_id", sessionID, "err", err)
		return
	}

	reply := gateway.NewWireMessage(gateway.TypeMessage, final, sessionID)
	reply.Metadata = map[string]interface{}{"user_message": req.Message}
	h.registry.Send(ctx, sessionID, reply)
}

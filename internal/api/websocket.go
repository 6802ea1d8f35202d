package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"hermes/internal/gateway"
)

// clientMessage is the JSON payload clients send over the WebSocket.
// Audio arrives either as base64 in Data with an audio mime type, or as a
// raw binary frame.
type clientMessage struct {
	Message  string `json:"message"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// HandleWebSocket runs the duplex chat loop for one client. The session id
// comes from the path (absent for a fresh session); user_id and
// resume_token are query parameters.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "default_user"
	}
	resumeToken := r.URL.Query().Get("resume_token")

	if h.cfg.MaxConnections > 0 && h.registry.Count() >= h.cfg.MaxConnections {
		http.Error(w, "instance at connection capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "err", err)
		return
	}

	ctx := r.Context()
	transport := gateway.NewWebSocketTransport(conn, h.cfg.WriteTimeout)

	res, err := h.orch.Resolve(ctx, userID, sessionID, resumeToken)
	if err != nil {
		// The socket is already open; deliver the failure as a wire
		// message so the client sees why it was rejected.
		errMsg := gateway.NewWireMessage(gateway.TypeError, "Unable to join session: "+err.Error(), sessionID)
		_ = transport.Send(errMsg)
		_ = transport.Close()
		return
	}

	sessionID = res.Session.SessionID
	userID = res.UserID

	connID := h.registry.Bind(ctx, transport, sessionID, userID)
	defer func() {
		h.registry.Unbind(ctx, connID, sessionID)
		_ = transport.Close()
	}()

	h.orch.SendSessionInfo(ctx, sessionID, userID, connID)
	if res.Resumed {
		h.orch.SendSessionHistory(ctx, sessionID, userID)
	}

	limiter := rate.NewLimiter(rate.Limit(h.cfg.MessageRate), h.cfg.MessageBurst)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Infow("websocket closed unexpectedly", "session_id", sessionID, "err", err)
			}
			return
		}

		h.registry.Touch(ctx, sessionID)

		if !limiter.Allow() {
			h.registry.Send(ctx, sessionID, gateway.NewWireMessage(
				gateway.TypeError, "Rate limit exceeded, please slow down", sessionID))
			continue
		}

		if msgType == websocket.BinaryMessage {
			h.ackAudio(ctx, sessionID, base64.StdEncoding.EncodeToString(data), len(data))
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.registry.Send(ctx, sessionID, gateway.NewWireMessage(
				gateway.TypeError, "Invalid message format", sessionID))
			continue
		}

		switch {
		case msg.MimeType == "audio/pcm" && msg.Data != "":
			h.ackAudio(ctx, sessionID, msg.Data, len(msg.Data))

		case msg.Message != "":
			final, err := h.orch.ProcessTurn(ctx, userID, sessionID, msg.Message)
			if err != nil {
				// The orchestrator already delivered an error wire message.
				h.log.Warnw("turn failed", "session_id", sessionID, "err", err)
				continue
			}

			reply := gateway.NewWireMessage(gateway.TypeMessage, final, sessionID)
			reply.Metadata = map[string]interface{}{"user_message": msg.Message}
			h.registry.Send(ctx, sessionID, reply)
		}
	}
}

// ackAudio confirms receipt of an audio chunk. Audio is acknowledged, not
// dispatched into the runtime as a turn.
func (h *Handlers) ackAudio(ctx context.Context, sessionID, payload string, size int) {
	ack := gateway.NewWireMessage(gateway.TypeAudioReceived,
		fmt.Sprintf("Received audio data: %d bytes", size), sessionID)
	ack.MimeType = "audio/pcm"
	ack.Data = payload
	h.registry.Send(ctx, sessionID, ack)
}

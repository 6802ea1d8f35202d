package gateway

import (
	"time"
)

// MessageType enumerates the closed set of wire message kinds delivered to
// clients. Every payload carries exactly one of these.
type MessageType string

const (
	TypeMessage        MessageType = "message"
	TypeAgentThinking  MessageType = "agent_thinking"
	TypeAgentResponse  MessageType = "agent_response"
	TypeToolCall       MessageType = "tool_call"
	TypeToolResponse   MessageType = "tool_response"
	TypeAgentTransfer  MessageType = "agent_transfer"
	TypeAudio          MessageType = "audio"
	TypeAudioReceived  MessageType = "audio_received"
	TypeSessionInfo    MessageType = "session_info"
	TypeSessionHistory MessageType = "session_history"
	TypeError          MessageType = "error"
)

// WireMessage is the JSON payload pushed over WebSocket and SSE transports.
// Data and MimeType are populated only for audio variants.
type WireMessage struct {
	Type      MessageType            `json:"type"`
	Content   string                 `json:"content"`
	SessionID string                 `json:"session_id,omitempty"`
	Timestamp float64                `json:"timestamp,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	MimeType  string                 `json:"mime_type,omitempty"`
	Data      string                 `json:"data,omitempty"`
}

// NewWireMessage builds a message stamped with the current time.
func NewWireMessage(msgType MessageType, content, sessionID string) WireMessage {
	return WireMessage{
		Type:      msgType,
		Content:   content,
		SessionID: sessionID,
		Timestamp: unixSeconds(time.Now()),
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

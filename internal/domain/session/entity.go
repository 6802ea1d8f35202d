package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is a persisted agent conversation scoped to (AppName, UserID, SessionID).
type Session struct {
	ID        uuid.UUID
	AppName   string
	UserID    string
	SessionID string
	State     map[string]interface{}
	Events    []Event
	UpdatedAt time.Time
	CreatedAt time.Time
}

// Event is one item of a session's transcript: a user message, an agent
// response, or a tool interaction. Content holds the raw runtime payload.
type Event struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	EventID       string // runtime-assigned event ID
	Author        string // agent name or "user"
	Content       map[string]interface{}
	Timestamp     time.Time
	Branch        string
	Partial       bool
	TurnComplete  bool
	Actions       EventActions
	UsageMetadata *UsageMetadata
}

// EventActions carries side effects attached to an event by the runtime.
type EventActions struct {
	TransferToAgent   string
	Escalate          bool
	SkipSummarization bool
	StateDelta        map[string]interface{}
}

// UsageMetadata tracks model token usage for an event.
type UsageMetadata struct {
	PromptTokenCount     int32
	CandidatesTokenCount int32
	TotalTokenCount      int32
}

// AppState is application-level state shared across all users.
type AppState struct {
	AppName string
	State   map[string]interface{}
}

// UserState is user-level state shared across one user's sessions.
type UserState struct {
	AppName string
	UserID  string
	State   map[string]interface{}
}

// State key prefixes for multi-level state routing.
const (
	KeyPrefixApp  = "_app_"
	KeyPrefixUser = "_user_"
	KeyPrefixTemp = "_temp_"
)

// InitialState is the state every freshly created session starts with.
func InitialState() map[string]interface{} {
	return map[string]interface{}{
		"initialized": true,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}
}

// Package stream implements the chunked streaming protocol between the
// agent core and its clients: mode announcement, token chunks,
// structured messages, and the end marker, plus the client-side reducer
// that folds chunks into a message list.
package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Meta carries action-specific context alongside a message.
type Meta struct {
	TaskID     string          `json:"task_id,omitempty"`
	ActionType string          `json:"action_type,omitempty"`
	Filepath   string          `json:"filepath,omitempty"`
	URL        string          `json:"url,omitempty"`
	JSON       json.RawMessage `json:"json,omitempty"`
	Content    string          `json:"content,omitempty"`
}

// Message is the structured unit emitted during an agent run and
// persisted to conversation history.
type Message struct {
	Role      string `json:"role"`
	UUID      string `json:"uuid"`
	Status    string `json:"status"`
	Content   string `json:"content"`
	Comments  string `json:"comments,omitempty"`
	Memorized bool   `json:"memorized"`
	Timestamp int64  `json:"timestamp"`
	IsTemp    bool   `json:"is_temp,omitempty"`
	Meta      *Meta  `json:"meta,omitempty"`
}

// NewMessage builds an assistant message with a fresh UUID and the
// current timestamp.
func NewMessage(status, content string) *Message {
	return &Message{
		Role:      RoleAssistant,
		UUID:      uuid.NewString(),
		Status:    status,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Running builds an in-progress assistant message describing an action
// under way. The caller supplies the UUID so a later result message can
// be correlated with it.
func Running(msgUUID, content string, meta *Meta) *Message {
	return &Message{
		Role:      RoleAssistant,
		UUID:      msgUUID,
		Status:    StatusRunning,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Meta:      meta,
	}
}

// Encode renders the message as a single JSON chunk.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

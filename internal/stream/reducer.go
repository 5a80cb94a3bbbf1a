package stream

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/citric-ai/citron/internal/logger"
)

// State is the client-side view of a streamed run: the announced mode
// and the accumulated message list. At most one message is provisional
// at any time.
type State struct {
	Mode     string
	Messages []*Message
	Done     bool
}

// NewState returns an empty reducer state.
func NewState() *State {
	return &State{}
}

// Reducer folds raw chunks into a State. Every chunk goes through
// Apply; the resulting state is what a client would render.
type Reducer struct {
	log *logger.Logger
}

// NewReducer creates a reducer. A nil logger drops malformed-chunk
// diagnostics silently.
func NewReducer(log *logger.Logger) *Reducer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reducer{log: log}
}

// Apply consumes one chunk and returns the updated state. The input
// state is mutated and returned for chaining.
func (r *Reducer) Apply(state *State, chunk string) *State {
	if state.Done {
		return state
	}

	if mode, ok := DecodeMode(chunk); ok {
		state.Mode = mode
		r.resetProvisional(state, mode)
		return state
	}

	if chunk == EndMarker {
		r.finalizeProvisional(state)
		state.Done = true
		return state
	}

	switch state.Mode {
	case ModeAgent:
		return r.applyAgent(state, chunk)
	default:
		// Chat is also the fallback for chunks arriving before any
		// mode announcement.
		return r.applyChat(state, chunk)
	}
}

// applyChat appends the token to the provisional assistant message,
// creating it on the first token.
func (r *Reducer) applyChat(state *State, token string) *State {
	if msg := r.provisional(state); msg != nil {
		msg.Content += token
		return state
	}
	state.Messages = append(state.Messages, &Message{
		Role:      RoleAssistant,
		UUID:      uuid.NewString(),
		Status:    StatusRunning,
		Content:   token,
		Timestamp: time.Now().UnixMilli(),
		IsTemp:    true,
	})
	return state
}

// applyAgent handles agent-mode chunks: structured JSON messages
// replace the provisional, and anything else is logged and dropped.
func (r *Reducer) applyAgent(state *State, chunk string) *State {
	trimmed := strings.TrimSpace(chunk)
	if !strings.HasPrefix(trimmed, "{") {
		r.log.Warn("dropping non-JSON agent chunk", "chunk_len", len(chunk))
		return state
	}

	var msg Message
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		r.log.Warn("dropping malformed agent chunk", "error", err, "chunk_len", len(chunk))
		return state
	}
	if msg.UUID == "" {
		msg.UUID = uuid.NewString()
	}

	r.dropProvisional(state)
	msg.IsTemp = false
	state.Messages = append(state.Messages, &msg)
	return state
}

// agentPlaceholder is shown on the provisional message while the agent
// is between structured updates.
const agentPlaceholder = "Thinking..."

// resetProvisional reacts to a mode announcement: the provisional
// assistant message is cleared (chat) or given placeholder content
// (agent), and created when absent, so exactly one provisional exists
// after every mode chunk.
func (r *Reducer) resetProvisional(state *State, mode string) {
	msg := r.provisional(state)
	if msg == nil {
		msg = &Message{
			Role:      RoleAssistant,
			UUID:      uuid.NewString(),
			Status:    StatusRunning,
			Timestamp: time.Now().UnixMilli(),
			IsTemp:    true,
		}
		state.Messages = append(state.Messages, msg)
	}
	if mode == ModeAgent {
		msg.Content = agentPlaceholder
	} else {
		msg.Content = ""
	}
}

// provisional returns the current provisional message, if any. It is
// always the last message in the list.
func (r *Reducer) provisional(state *State) *Message {
	if n := len(state.Messages); n > 0 && state.Messages[n-1].IsTemp {
		return state.Messages[n-1]
	}
	return nil
}

func (r *Reducer) dropProvisional(state *State) {
	if n := len(state.Messages); n > 0 && state.Messages[n-1].IsTemp {
		state.Messages = state.Messages[:n-1]
	}
}

// finalizeProvisional promotes a trailing provisional message into a
// finished one. A provisional that never got real content is dropped
// instead.
func (r *Reducer) finalizeProvisional(state *State) {
	msg := r.provisional(state)
	if msg == nil {
		return
	}
	if msg.Content == "" || msg.Content == agentPlaceholder {
		r.dropProvisional(state)
		return
	}
	msg.IsTemp = false
	msg.Status = StatusSuccess
}

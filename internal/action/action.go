// Package action defines typed agent actions, their results, and the
// registry/dispatcher that routes them to handlers.
package action

import "encoding/json"

// Status of an executed action. Authoritative for control flow.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Action is a typed instruction produced by the agent. Type selects a
// handler; Params is handler-specific. An Action is immutable once
// dispatched; path rewriting happens on a copy.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Clone returns a copy of the action with its own params map, so the
// dispatcher can rewrite paths without mutating the caller's value.
func (a Action) Clone() Action {
	params := make(map[string]any, len(a.Params))
	for k, v := range a.Params {
		params[k] = v
	}
	return Action{Type: a.Type, Params: params}
}

// StringParam returns the named param as a string, or "" if absent or
// of another type.
func (a Action) StringParam(key string) string {
	if v, ok := a.Params[key].(string); ok {
		return v
	}
	return ""
}

// Meta carries structured side-channel data alongside a result.
type Meta struct {
	URL      string          `json:"url,omitempty"`
	JSON     json.RawMessage `json:"json,omitempty"`
	Filepath string          `json:"filepath,omitempty"`
	Content  string          `json:"content,omitempty"`
}

// Result is the outcome of executing an Action.
type Result struct {
	UUID      string `json:"uuid,omitempty"`
	Status    string `json:"status"`
	Content   string `json:"content"`
	Error     string `json:"error,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	Comments  string `json:"comments,omitempty"`
	Memorized bool   `json:"memorized,omitempty"`
	Meta      *Meta  `json:"meta,omitempty"`
}

// Failure builds a failure result with the given human-readable error.
func Failure(uuid, errMsg string) *Result {
	return &Result{UUID: uuid, Status: StatusFailure, Error: errMsg}
}

// Success builds a success result with the given content.
func Success(uuid, content string) *Result {
	return &Result{UUID: uuid, Status: StatusSuccess, Content: content}
}

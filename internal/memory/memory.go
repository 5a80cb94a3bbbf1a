// Package memory implements the append-only conversational memory
// consumed as LLM context.
package memory

import (
	"sync"
)

// Entry is one unit of conversational context. Entries are never
// mutated after append; order is the conversation's causal order.
type Entry struct {
	Role       string
	Content    string
	ActionType string
	Memorized  bool
	Meta       map[string]any
	Sequence   int
}

// ContextMessage is the shape handed to the LLM call.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Memory is an ordered log of entries for one conversation turn.
// Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	seq     int
}

// New returns an empty memory.
func New() *Memory {
	return &Memory{}
}

// AddMessage appends an entry and returns its sequence number.
// Sequence numbers are strictly increasing in append order.
func (m *Memory) AddMessage(role, content, actionType string, memorized bool, meta map[string]any) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.entries = append(m.entries, Entry{
		Role:       role,
		Content:    content,
		ActionType: actionType,
		Memorized:  memorized,
		Meta:       meta,
		Sequence:   m.seq,
	})
	return m.seq
}

// Entries returns a snapshot of all entries in append order.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Last returns the most recent entry, or false if the memory is empty.
func (m *Memory) Last() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return Entry{}, false
	}
	return m.entries[len(m.entries)-1], true
}

// Messages returns the ordered {role, content} pairs supplied to the
// LLM call.
func (m *Memory) Messages() []ContextMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ContextMessage, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, ContextMessage{Role: e.Role, Content: e.Content})
	}
	return out
}

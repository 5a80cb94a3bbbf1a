package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMessageSequencesStrictlyIncrease(t *testing.T) {
	m := New()

	s1 := m.AddMessage("user", "first", "", true, nil)
	s2 := m.AddMessage("assistant", "second", "terminal_run", true, nil)
	s3 := m.AddMessage("user", "third", "", false, nil)

	assert.Less(t, s1, s2)
	assert.Less(t, s2, s3)
	assert.Equal(t, 3, m.Len())
}

func TestEntriesPreserveOrderAndContent(t *testing.T) {
	m := New()
	m.AddMessage("user", "do the thing", "", true, nil)
	m.AddMessage("user", "<terminal_run command=\"ls\">\nout\n</terminal_run>", "terminal_run", true,
		map[string]any{"filepath": "x"})

	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "do the thing", entries[0].Content)
	assert.Equal(t, "terminal_run", entries[1].ActionType)
	assert.Equal(t, "x", entries[1].Meta["filepath"])

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, entries[1].Sequence, last.Sequence)
}

func TestMessagesProjectRoleAndContent(t *testing.T) {
	m := New()
	m.AddMessage("user", "question", "", true, nil)
	m.AddMessage("assistant", "answer", "", true, nil)

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, ContextMessage{Role: "user", Content: "question"}, msgs[0])
	assert.Equal(t, ContextMessage{Role: "assistant", Content: "answer"}, msgs[1])
}

func TestLastOnEmpty(t *testing.T) {
	m := New()
	_, ok := m.Last()
	assert.False(t, ok)
}

func TestConcurrentAppendsKeepUniqueSequences(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.AddMessage("user", "entry", "", true, nil)
		}()
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, e := range m.Entries() {
		assert.False(t, seen[e.Sequence], "duplicate sequence %d", e.Sequence)
		seen[e.Sequence] = true
	}
	assert.Equal(t, 50, m.Len())
}

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, chunks ...string) *State {
	t.Helper()
	r := NewReducer(nil)
	state := NewState()
	for _, c := range chunks {
		state = r.Apply(state, c)
	}
	return state
}

func countProvisional(state *State) int {
	n := 0
	for _, m := range state.Messages {
		if m.IsTemp {
			n++
		}
	}
	return n
}

func TestChatStreamAssemblesTokens(t *testing.T) {
	state := apply(t, EncodeMode(ModeChat), "He", "llo", EndMarker)

	assert.Equal(t, ModeChat, state.Mode)
	assert.True(t, state.Done)
	require.Len(t, state.Messages, 1)

	msg := state.Messages[0]
	assert.Equal(t, "Hello", msg.Content)
	assert.False(t, msg.IsTemp)
	assert.Equal(t, StatusSuccess, msg.Status)
}

func TestChatProvisionalInvariant(t *testing.T) {
	r := NewReducer(nil)
	state := NewState()

	state = r.Apply(state, EncodeMode(ModeChat))
	state = r.Apply(state, "He")
	assert.Equal(t, 1, countProvisional(state))

	state = r.Apply(state, "llo")
	assert.Equal(t, 1, countProvisional(state))

	state = r.Apply(state, EndMarker)
	assert.Equal(t, 0, countProvisional(state))
}

func TestModeAnnouncementCreatesProvisional(t *testing.T) {
	r := NewReducer(nil)

	chat := r.Apply(NewState(), EncodeMode(ModeChat))
	require.Equal(t, 1, countProvisional(chat))
	assert.Equal(t, "", chat.Messages[0].Content)

	agent := r.Apply(NewState(), EncodeMode(ModeAgent))
	require.Equal(t, 1, countProvisional(agent))
	assert.NotEmpty(t, agent.Messages[0].Content)

	// A repeated announcement resets the existing provisional rather
	// than stacking a second one.
	agent = r.Apply(agent, EncodeMode(ModeAgent))
	assert.Equal(t, 1, countProvisional(agent))
}

func TestAgentNonJSONChunkDropped(t *testing.T) {
	r := NewReducer(nil)
	state := r.Apply(NewState(), EncodeMode(ModeAgent))
	before := state.Messages[0].Content

	state = r.Apply(state, "stray token")
	require.Equal(t, 1, countProvisional(state))
	assert.Equal(t, before, state.Messages[0].Content)
}

func TestAgentStructuredChunkReplacesProvisional(t *testing.T) {
	r := NewReducer(nil)
	state := NewState()

	state = r.Apply(state, EncodeMode(ModeAgent))
	require.Equal(t, 1, countProvisional(state))

	structured := &Message{
		Role:    RoleAssistant,
		UUID:    "u-1",
		Status:  StatusRunning,
		Content: "Running `echo hi`",
	}
	data, err := structured.Encode()
	require.NoError(t, err)

	state = r.Apply(state, string(data))
	assert.Equal(t, 0, countProvisional(state))
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "u-1", state.Messages[0].UUID)
	assert.Equal(t, "Running `echo hi`", state.Messages[0].Content)
}

func TestAgentMalformedChunkDropped(t *testing.T) {
	state := apply(t, EncodeMode(ModeAgent), `{"status": "running", truncated`, EndMarker)
	assert.Empty(t, state.Messages)
}

func TestAgentStreamContinuesAfterMalformedChunk(t *testing.T) {
	valid := &Message{Role: RoleAssistant, UUID: "u-2", Status: StatusSuccess, Content: "done"}
	data, err := valid.Encode()
	require.NoError(t, err)

	state := apply(t, EncodeMode(ModeAgent), `{broken}`, string(data), EndMarker)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "u-2", state.Messages[0].UUID)
	assert.True(t, state.Done)
}

func TestEmptyProvisionalDroppedOnEnd(t *testing.T) {
	state := apply(t, EncodeMode(ModeChat), EndMarker)
	assert.Empty(t, state.Messages)
}

func TestChunksAfterEndIgnored(t *testing.T) {
	state := apply(t, EncodeMode(ModeChat), "Hi", EndMarker, "more")
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "Hi", state.Messages[0].Content)
}

func TestDecodeMode(t *testing.T) {
	mode, ok := DecodeMode(`__mode__{"mode":"agent"}`)
	require.True(t, ok)
	assert.Equal(t, ModeAgent, mode)

	_, ok = DecodeMode("plain text")
	assert.False(t, ok)

	_, ok = DecodeMode("__mode__not json")
	assert.False(t, ok)
}

func TestEmitterFraming(t *testing.T) {
	sink := NewChanSink(8)
	e := NewEmitter(sink)

	require.NoError(t, e.AnnounceMode(ModeChat))
	require.NoError(t, e.SendToken("Hi"))
	require.NoError(t, e.End())
	// Sends after End are dropped.
	require.NoError(t, e.SendToken("late"))

	assert.Equal(t, `__mode__{"mode":"chat"}`, <-sink.C)
	assert.Equal(t, "Hi", <-sink.C)
	assert.Equal(t, EndMarker, <-sink.C)
	assert.Empty(t, sink.C)
}

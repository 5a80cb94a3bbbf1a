package action_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citric-ai/citron/internal/action"
	"github.com/citric-ai/citron/internal/llm"
	"github.com/citric-ai/citron/internal/logger"
	"github.com/citric-ai/citron/internal/memory"
	"github.com/citric-ai/citron/internal/stream"
)

type fakeRemote struct {
	last   action.Action
	result *action.Result
}

func (f *fakeRemote) DoAction(ctx context.Context, execURL string, act action.Action, uuid string) *action.Result {
	f.last = act
	if f.result != nil {
		r := *f.result
		r.UUID = uuid
		return &r
	}
	return action.Success(uuid, "ok")
}

type recordingPersister struct {
	messages []*stream.Message
}

func (p *recordingPersister) PersistMessage(ctx context.Context, conversationID string, msg *stream.Message) error {
	p.messages = append(p.messages, msg)
	return nil
}

type panicHandler struct{}

func (panicHandler) Name() string { return "exploder" }
func (panicHandler) Execute(ctx context.Context, inv *action.Invocation, act action.Action) (*action.Result, error) {
	panic("boom")
}

func newTestDispatcher(t *testing.T, remote action.RemoteExecutor) (*action.Dispatcher, *recordingPersister) {
	t.Helper()
	registry := action.NewRegistry()
	action.RegisterBuiltins(registry, remote)
	registry.Register(panicHandler{})
	persister := &recordingPersister{}
	d := action.NewDispatcher(registry, persister, logger.NewNop(), "/srv/workspace",
		map[string]string{"gpt-5-chat": "deepseek-v3-250324"})
	d.SetDescribeDelay(0)
	return d, persister
}

func newInvocation(conversationID string) *action.Invocation {
	return &action.Invocation{
		ConversationID: conversationID,
		UserID:         "user-1",
		TaskID:         "task-1",
		DirName:        action.DirName(conversationID),
		ExecURL:        "https://sandbox.example",
		UUID:           "uuid-1",
		Memory:         memory.New(),
	}
}

func TestExecuteUnknownTypeReturnsFailure(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeRemote{})
	inv := newInvocation("conv-1")

	result := d.Execute(context.Background(), inv, action.Action{Type: "no_such_tool"})

	require.NotNil(t, result)
	assert.Equal(t, action.StatusFailure, result.Status)
	assert.Contains(t, result.Error, "Unknown action type: no_such_tool")
	assert.Equal(t, 0, inv.Memory.Len())
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeRemote{})
	inv := newInvocation("conv-1")

	result := d.Execute(context.Background(), inv, action.Action{Type: "exploder"})

	require.NotNil(t, result)
	assert.Equal(t, action.StatusFailure, result.Status)
	assert.Contains(t, result.Error, "boom")
}

func TestWriteCodePathRewrite(t *testing.T) {
	remote := &fakeRemote{}
	d, _ := newTestDispatcher(t, remote)
	inv := newInvocation("abcdef1234")

	original := action.Action{Type: action.TypeWriteCode, Params: map[string]any{
		"path":    "src/main.py",
		"content": "print('hi')",
	}}
	result := d.Execute(context.Background(), inv, original)

	assert.Equal(t, action.StatusSuccess, result.Status)
	assert.Equal(t, "Conversation_abcdef/src/main.py", remote.last.Params["path"])
	// The caller's action is untouched.
	assert.Equal(t, "src/main.py", original.Params["path"])
}

func TestTerminalRunCwdRewrite(t *testing.T) {
	remote := &fakeRemote{}
	d, _ := newTestDispatcher(t, remote)
	inv := newInvocation("abcdef1234")

	d.Execute(context.Background(), inv, action.Action{Type: action.TypeTerminalRun, Params: map[string]any{
		"command": "ls",
	}})
	assert.Equal(t, "../../workspace/Conversation_abcdef", remote.last.Params["cwd"])

	d.Execute(context.Background(), inv, action.Action{Type: action.TypeTerminalRun, Params: map[string]any{
		"command": "ls",
		"cwd":     "src",
	}})
	assert.Equal(t, "../../workspace/Conversation_abcdef/src", remote.last.Params["cwd"])
}

func TestBrowserModelFallback(t *testing.T) {
	remote := &fakeRemote{}
	d, _ := newTestDispatcher(t, remote)
	inv := newInvocation("conv-1")
	inv.Model = &llm.ModelInfo{ModelName: "gpt-5-chat", BaseURL: "https://api.example", APIKey: "sk-test"}

	d.Execute(context.Background(), inv, action.Action{Type: action.TypeBrowser, Params: map[string]any{
		"question": "latest Go release",
	}})

	cfg, ok := remote.last.Params["llm_config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "deepseek-v3-250324", cfg["model_name"])
	assert.Equal(t, "https://api.example", cfg["api_url"])
	assert.Equal(t, "sk-test", cfg["api_key"])
	assert.Equal(t, inv.ConversationID, remote.last.Params["conversation_id"])
}

func TestGenericFilePathRewrite(t *testing.T) {
	remote := &fakeRemote{}
	registry := action.NewRegistry()
	registry.Register(&genericTool{remote: remote})
	d := action.NewDispatcher(registry, &recordingPersister{}, logger.NewNop(), "/srv/workspace", nil)
	d.SetDescribeDelay(0)

	inv := newInvocation("abcdef1234")
	d.Execute(context.Background(), inv, action.Action{Type: "convert_pdf", Params: map[string]any{
		"file_path": "report.pdf",
	}})

	assert.Equal(t, "/srv/workspace/user_user-1/Conversation_abcdef/report.pdf", remote.last.Params["file_path"])
}

type genericTool struct {
	remote action.RemoteExecutor
}

func (g *genericTool) Name() string { return "convert_pdf" }
func (g *genericTool) Execute(ctx context.Context, inv *action.Invocation, act action.Action) (*action.Result, error) {
	return g.remote.DoAction(ctx, inv.ExecURL, act, inv.UUID), nil
}

func TestMemoryAppendedForAlwaysMemorizedTypes(t *testing.T) {
	remote := &fakeRemote{result: &action.Result{Status: action.StatusSuccess, Content: "hi\n"}}
	d, _ := newTestDispatcher(t, remote)
	inv := newInvocation("conv-1")

	d.Execute(context.Background(), inv, action.Action{Type: action.TypeTerminalRun, Params: map[string]any{
		"command": "echo hi",
	}})

	require.Equal(t, 1, inv.Memory.Len())
	entry, ok := inv.Memory.Last()
	require.True(t, ok)
	assert.Equal(t, action.TypeTerminalRun, entry.ActionType)
	assert.Contains(t, entry.Content, "echo hi")
	assert.Contains(t, entry.Content, "hi\n")
}

func TestMemorySequenceStrictlyIncreasing(t *testing.T) {
	remote := &fakeRemote{}
	d, _ := newTestDispatcher(t, remote)
	inv := newInvocation("conv-1")

	for i := 0; i < 3; i++ {
		d.Execute(context.Background(), inv, action.Action{Type: action.TypeTerminalRun, Params: map[string]any{
			"command": "true",
		}})
	}

	entries := inv.Memory.Entries()
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Sequence, entries[i-1].Sequence)
	}
}

func TestRunningAndTerminalMessagesShareUUID(t *testing.T) {
	remote := &fakeRemote{}
	d, persister := newTestDispatcher(t, remote)

	sink := stream.NewChanSink(16)
	inv := newInvocation("conv-1")
	inv.Emitter = stream.NewEmitter(sink)

	d.Execute(context.Background(), inv, action.Action{Type: action.TypeWriteCode, Params: map[string]any{
		"path":    "a.txt",
		"content": "x",
	}})

	require.Len(t, persister.messages, 2)
	running, terminal := persister.messages[0], persister.messages[1]
	assert.Equal(t, stream.StatusRunning, running.Status)
	assert.Equal(t, action.StatusSuccess, terminal.Status)
	assert.Equal(t, running.UUID, terminal.UUID)
	assert.Equal(t, "a.txt", running.Meta.Filepath)

	// The same two frames reached the client stream.
	require.Len(t, sink.C, 2)
	var streamed stream.Message
	require.NoError(t, json.Unmarshal([]byte(<-sink.C), &streamed))
	assert.Equal(t, stream.StatusRunning, streamed.Status)
}

func TestResultOptInMemorization(t *testing.T) {
	remote := &fakeRemote{result: &action.Result{Status: action.StatusSuccess, Content: "page text", Memorized: true}}
	d, _ := newTestDispatcher(t, remote)
	inv := newInvocation("conv-1")

	d.Execute(context.Background(), inv, action.Action{Type: action.TypeBrowser, Params: map[string]any{
		"url": "https://example.com",
	}})
	assert.Equal(t, 1, inv.Memory.Len())

	// Without the opt-in flag, browser results stay out of memory.
	remote.result = &action.Result{Status: action.StatusSuccess, Content: "page text"}
	d.Execute(context.Background(), inv, action.Action{Type: action.TypeBrowser, Params: map[string]any{
		"url": "https://example.com",
	}})
	assert.Equal(t, 1, inv.Memory.Len())
}

package action

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/citric-ai/citron/internal/logger"
	"github.com/citric-ai/citron/internal/stream"
)

// Built-in action types with bespoke parameter handling.
const (
	TypeWriteCode   = "write_code"
	TypeReadFile    = "read_file"
	TypeTerminalRun = "terminal_run"
	TypeBrowser     = "browser"
)

// lastWrittenPlaceholder in a parameter is replaced with the path of
// the most recent successful file write in the conversation.
const lastWrittenPlaceholder = "$LAST_WRITTEN_FILE_PATH"

// alwaysMemorized lists the action types whose results always enter
// conversation memory regardless of what the handler reports.
var alwaysMemorized = map[string]bool{
	TypeReadFile:    true,
	TypeWriteCode:   true,
	TypeTerminalRun: true,
}

// MessagePersister stores stream messages under a conversation.
type MessagePersister interface {
	PersistMessage(ctx context.Context, conversationID string, msg *stream.Message) error
}

// Dispatcher routes actions to handlers, rewrites filesystem
// parameters into the conversation's workspace namespace, and folds
// every outcome into memory and the client stream.
type Dispatcher struct {
	registry      *Registry
	persist       MessagePersister
	log           *logger.Logger
	workspaceRoot string            // host-side workspace root for local tools
	fallbacks     map[string]string // browser model substitutions
	describeDelay time.Duration

	mu          sync.Mutex
	lastWritten map[string]string // conversationID -> last written path
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *Registry, persist MessagePersister, log *logger.Logger, workspaceRoot string, fallbacks map[string]string) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		persist:       persist,
		log:           log.With("component", "dispatcher"),
		workspaceRoot: workspaceRoot,
		fallbacks:     fallbacks,
		describeDelay: 500 * time.Millisecond,
		lastWritten:   make(map[string]string),
	}
}

// SetDescribeDelay overrides the pause after a running announcement.
func (d *Dispatcher) SetDescribeDelay(delay time.Duration) {
	d.describeDelay = delay
}

// DirName derives the per-conversation workspace subdirectory from the
// conversation ID. Deterministic, so every turn of a conversation
// lands in the same directory.
func DirName(conversationID string) string {
	id := conversationID
	if len(id) > 6 {
		id = id[:6]
	}
	return "Conversation_" + id
}

// Execute runs one action to completion: running announcement,
// parameter rewriting, handler execution, memory append, terminal
// message. It never panics and never returns a nil result.
func (d *Dispatcher) Execute(ctx context.Context, inv *Invocation, act Action) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("action handler panicked", "action_type", act.Type, "panic", r)
			result = Failure(inv.UUID, fmt.Sprintf("action %s panicked: %v", act.Type, r))
			d.finish(ctx, inv, act, result)
		}
	}()

	handler, ok := d.registry.Get(act.Type)
	if !ok {
		result = Failure(inv.UUID, "Unknown action type: "+act.Type)
		d.finish(ctx, inv, act, result)
		return result
	}

	prepared, displayPath := d.prepare(inv, act)

	d.announce(ctx, inv, handler, prepared, displayPath)

	result, err := handler.Execute(ctx, inv, prepared)
	if err != nil {
		result = Failure(inv.UUID, err.Error())
	}
	if result == nil {
		result = Failure(inv.UUID, fmt.Sprintf("action %s returned no result", act.Type))
	}
	if result.UUID == "" {
		result.UUID = inv.UUID
	}

	if result.Status == StatusSuccess && act.Type == TypeWriteCode {
		d.recordWritten(inv.ConversationID, displayPath)
	}

	d.memorize(inv, handler, prepared, result)
	d.finish(ctx, inv, act, result)
	return result
}

// prepare clones the action and rewrites its parameters for the
// conversation's workspace. Returns the prepared action and the
// user-facing path kept for display.
func (d *Dispatcher) prepare(inv *Invocation, act Action) (Action, string) {
	prepared := act.Clone()
	dir := inv.DirName
	if dir == "" {
		dir = DirName(inv.ConversationID)
	}

	d.substitutePlaceholders(inv.ConversationID, prepared)

	var displayPath string
	switch act.Type {
	case TypeWriteCode, TypeReadFile:
		displayPath = prepared.StringParam("path")
		if displayPath != "" {
			prepared.Params["path"] = path.Join(dir, displayPath)
		}
	case TypeTerminalRun:
		// The agent process runs two levels below the workspace root
		// inside the sandbox.
		cwd := "../../workspace/" + dir
		if sub := prepared.StringParam("cwd"); sub != "" {
			cwd = cwd + "/" + sub
		}
		prepared.Params["cwd"] = cwd
	case TypeBrowser:
		if inv.Model != nil {
			modelName := inv.Model.ModelName
			if replacement, ok := d.fallbacks[modelName]; ok {
				modelName = replacement
			}
			prepared.Params["llm_config"] = map[string]any{
				"model_name": modelName,
				"api_url":    inv.Model.BaseURL,
				"api_key":    inv.Model.APIKey,
			}
		}
		prepared.Params["conversation_id"] = inv.ConversationID
		displayPath = prepared.StringParam("url")
	default:
		if fp := prepared.StringParam("file_path"); fp != "" {
			displayPath = fp
			prepared.Params["file_path"] = filepath.Join(
				d.workspaceRoot, "user_"+inv.UserID, dir, fp)
		}
	}
	return prepared, displayPath
}

// substitutePlaceholders replaces the last-written-file placeholder in
// any string parameter.
func (d *Dispatcher) substitutePlaceholders(conversationID string, act Action) {
	d.mu.Lock()
	last := d.lastWritten[conversationID]
	d.mu.Unlock()
	if last == "" {
		return
	}
	for k, v := range act.Params {
		if s, ok := v.(string); ok && s == lastWrittenPlaceholder {
			act.Params[k] = last
		}
	}
}

func (d *Dispatcher) recordWritten(conversationID, p string) {
	if p == "" {
		return
	}
	d.mu.Lock()
	d.lastWritten[conversationID] = p
	d.mu.Unlock()
}

// announce emits and persists the running message for handlers that
// describe themselves, then pauses briefly so the client renders the
// announcement before a potentially slow execution.
func (d *Dispatcher) announce(ctx context.Context, inv *Invocation, handler Handler, act Action, displayPath string) {
	describer, ok := handler.(Describer)
	if !ok {
		return
	}
	desc, ok := describer.Describe(act)
	if !ok {
		return
	}

	msg := stream.Running(inv.UUID, desc, &stream.Meta{
		TaskID:     inv.TaskID,
		ActionType: act.Type,
		Filepath:   displayPath,
	})
	d.deliver(ctx, inv, msg)

	if d.describeDelay > 0 {
		select {
		case <-time.After(d.describeDelay):
		case <-ctx.Done():
		}
	}
}

// memorize appends the result to conversation memory when the action
// type demands it or the result opted in.
func (d *Dispatcher) memorize(inv *Invocation, handler Handler, act Action, result *Result) {
	if inv.Memory == nil {
		return
	}
	if !alwaysMemorized[act.Type] && !result.Memorized {
		return
	}

	content := result.Content
	if resolver, ok := handler.(MemoryResolver); ok {
		content = resolver.ResolveMemory(act, result)
	}
	inv.Memory.AddMessage("user", content, act.Type, true, metaMap(result.Meta))
	result.Memorized = true
}

func metaMap(meta *Meta) map[string]any {
	if meta == nil {
		return nil
	}
	m := make(map[string]any)
	if meta.URL != "" {
		m["url"] = meta.URL
	}
	if meta.Filepath != "" {
		m["filepath"] = meta.Filepath
	}
	if len(meta.JSON) > 0 {
		m["json"] = string(meta.JSON)
	}
	if meta.Content != "" {
		m["content"] = meta.Content
	}
	return m
}

// finish emits and persists the terminal message correlated with the
// running announcement by UUID.
func (d *Dispatcher) finish(ctx context.Context, inv *Invocation, act Action, result *Result) {
	meta := &stream.Meta{
		TaskID:     inv.TaskID,
		ActionType: act.Type,
	}
	if result.Meta != nil {
		meta.URL = result.Meta.URL
		meta.Filepath = result.Meta.Filepath
		meta.JSON = result.Meta.JSON
		meta.Content = result.Meta.Content
	}

	content := result.Content
	if result.Status == StatusFailure && content == "" {
		content = result.Error
	}

	msg := &stream.Message{
		Role:      stream.RoleAssistant,
		UUID:      result.UUID,
		Status:    result.Status,
		Content:   content,
		Comments:  result.Comments,
		Memorized: result.Memorized,
		Timestamp: time.Now().UnixMilli(),
		Meta:      meta,
	}
	d.deliver(ctx, inv, msg)
}

// deliver pushes a message to the client stream and persistence. Both
// are best effort: a dead client or a storage hiccup must not fail the
// action itself.
func (d *Dispatcher) deliver(ctx context.Context, inv *Invocation, msg *stream.Message) {
	if inv.Emitter != nil {
		if err := inv.Emitter.SendMessage(msg); err != nil {
			d.log.Warn("failed to stream message", "uuid", msg.UUID, "error", err)
		}
	}
	if d.persist != nil {
		if err := d.persist.PersistMessage(ctx, inv.ConversationID, msg); err != nil {
			d.log.Error("failed to persist message", "uuid", msg.UUID, "error", err)
		}
	}
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/citric-ai/citron/internal/action"
	"github.com/citric-ai/citron/internal/llm"
	"github.com/citric-ai/citron/internal/logger"
	"github.com/citric-ai/citron/internal/memory"
	"github.com/citric-ai/citron/internal/model"
	"github.com/citric-ai/citron/internal/planning"
	"github.com/citric-ai/citron/internal/sandbox"
	"github.com/citric-ai/citron/internal/store"
	"github.com/citric-ai/citron/internal/stream"
)

const (
	// maxStepsPerTask bounds the act loop so a confused model cannot
	// spin forever.
	maxStepsPerTask = 20

	maxTitleLen = 60
)

const chatSystemPrompt = `You are a helpful assistant. Answer the user directly and concisely.`

const executorSystemPrompt = `You are an autonomous engineer working inside an isolated sandbox.

Current task: %s

Respond with exactly one JSON object choosing your next action:
  {"type": "write_code", "params": {"path": "...", "content": "..."}}
  {"type": "read_file", "params": {"path": "..."}}
  {"type": "terminal_run", "params": {"command": "...", "cwd": "..."}}
  {"type": "browser", "params": {"question": "...", "url": "..."}}
  {"type": "finish", "params": {"result": "what was accomplished"}}

Use the conversation so far as your working memory. Emit "finish" once the task is complete. JSON only, no prose.`

// typeFinish ends a task's act loop.
const typeFinish = "finish"

// AgentService drives conversation turns: chat streaming or the
// plan-then-act agent loop against the user's sandbox.
type AgentService struct {
	store        *store.Store
	messages     *MessageService
	manager      *sandbox.Manager
	dispatcher   *action.Dispatcher
	resolver     llm.Resolver
	log          *logger.Logger
	planAttempts int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewAgentService creates the agent service.
func NewAgentService(
	s *store.Store,
	messages *MessageService,
	manager *sandbox.Manager,
	dispatcher *action.Dispatcher,
	resolver llm.Resolver,
	log *logger.Logger,
	planAttempts int,
) *AgentService {
	return &AgentService{
		store:        s,
		messages:     messages,
		manager:      manager,
		dispatcher:   dispatcher,
		resolver:     resolver,
		log:          log.With("component", "agent"),
		planAttempts: planAttempts,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Run executes one conversation turn, streaming output through the
// emitter. The conversation is marked running for the duration and
// done afterwards regardless of outcome, so the client always regains
// control.
func (s *AgentService) Run(ctx context.Context, userID, conversationID, prompt, mode string, emitter *stream.Emitter) error {
	ctx, cancel := context.WithCancel(ctx)
	s.registerRun(conversationID, cancel)
	defer s.unregisterRun(conversationID)

	conv, err := s.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.UserID != userID {
		return fmt.Errorf("conversation %s does not belong to user %s", conversationID, userID)
	}

	if err := s.store.UpdateConversationStatus(ctx, conversationID, model.ConversationStatusRunning); err != nil {
		return fmt.Errorf("failed to mark conversation running: %w", err)
	}
	defer func() {
		// The turn is over even if it failed or was cancelled.
		cleanup := context.WithoutCancel(ctx)
		if err := s.store.UpdateConversationStatus(cleanup, conversationID, model.ConversationStatusDone); err != nil {
			s.log.Error("failed to mark conversation done", "conversation_id", conversationID, "error", err)
		}
		if err := emitter.End(); err != nil {
			s.log.Warn("failed to send end marker", "conversation_id", conversationID, "error", err)
		}
	}()

	s.persistUserPrompt(ctx, conv, prompt)

	info, err := s.resolver.Resolve(ctx, conv.ModelID)
	if err != nil {
		s.emitFailure(ctx, conversationID, emitter, err)
		return err
	}
	client := llm.NewClient(info)

	mem, err := s.messages.RebuildMemory(ctx, conversationID)
	if err != nil {
		s.emitFailure(ctx, conversationID, emitter, err)
		return err
	}
	mem.AddMessage(stream.RoleUser, prompt, "", true, nil)

	if mode == stream.ModeChat {
		return s.runChat(ctx, conversationID, client, mem, emitter)
	}
	return s.runAgent(ctx, userID, conversationID, prompt, info, client, mem, emitter)
}

// Stop cancels the running turn of a conversation, if any.
func (s *AgentService) Stop(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[conversationID]
	if ok {
		cancel()
	}
	return ok
}

func (s *AgentService) registerRun(conversationID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[conversationID] = cancel
}

func (s *AgentService) unregisterRun(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[conversationID]; ok {
		cancel()
		delete(s.cancels, conversationID)
	}
}

// persistUserPrompt stores the user's message and titles the
// conversation from its first prompt.
func (s *AgentService) persistUserPrompt(ctx context.Context, conv *model.Conversation, prompt string) {
	msg := &stream.Message{
		Role:      stream.RoleUser,
		UUID:      uuid.NewString(),
		Status:    stream.StatusSuccess,
		Content:   prompt,
		Memorized: true,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.messages.PersistMessage(ctx, conv.ID, msg); err != nil {
		s.log.Error("failed to persist user message", "conversation_id", conv.ID, "error", err)
	}

	if conv.Title == "" || conv.Title == "New Conversation" {
		title := prompt
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen]
		}
		if err := s.store.UpdateConversationTitle(ctx, conv.ID, title); err != nil {
			s.log.Warn("failed to set conversation title", "conversation_id", conv.ID, "error", err)
		}
	}
}

// runChat streams a plain completion token by token.
func (s *AgentService) runChat(ctx context.Context, conversationID string, client *llm.Client, mem *memory.Memory, emitter *stream.Emitter) error {
	if err := emitter.AnnounceMode(stream.ModeChat); err != nil {
		return err
	}

	full, err := client.Stream(ctx, chatSystemPrompt, mem.Messages(), emitter.SendToken)
	if err != nil {
		s.emitFailure(ctx, conversationID, emitter, err)
		return err
	}

	final := stream.NewMessage(stream.StatusSuccess, full)
	final.Memorized = true
	if err := s.messages.PersistMessage(ctx, conversationID, final); err != nil {
		s.log.Error("failed to persist chat reply", "conversation_id", conversationID, "error", err)
	}
	return nil
}

// runAgent plans the turn into tasks and drives each through the act
// loop against the sandbox.
func (s *AgentService) runAgent(
	ctx context.Context,
	userID, conversationID, prompt string,
	info *llm.ModelInfo,
	client *llm.Client,
	mem *memory.Memory,
	emitter *stream.Emitter,
) error {
	if err := emitter.AnnounceMode(stream.ModeAgent); err != nil {
		return err
	}

	sb, err := s.manager.Connect(ctx, userID)
	if err != nil {
		s.emitFailure(ctx, conversationID, emitter, fmt.Errorf("failed to prepare sandbox: %w", err))
		return err
	}

	planner := planning.NewPlanner(client.Complete, s.log, s.planAttempts)
	plan, err := planner.Plan(ctx, prompt, nil)
	if err != nil {
		s.emitFailure(ctx, conversationID, emitter, fmt.Errorf("planning failed: %w", err))
		return err
	}
	tasks := s.persistPlan(ctx, conversationID, plan, emitter)

	for _, task := range tasks {
		if ctx.Err() != nil {
			s.failTask(ctx, task, ctx.Err())
			continue
		}
		s.runTask(ctx, userID, conversationID, sb, info, client, mem, emitter, task)
	}
	return nil
}

// persistPlan stores the tasks and announces the plan to the client.
func (s *AgentService) persistPlan(ctx context.Context, conversationID string, plan []planning.PlannedTask, emitter *stream.Emitter) []*model.Task {
	tasks := make([]*model.Task, 0, len(plan))
	for _, p := range plan {
		tools, _ := json.Marshal(p.Tools)
		tasks = append(tasks, &model.Task{
			ConversationID: conversationID,
			TaskID:         p.ID,
			Requirement:    p.Requirement,
			Status:         model.TaskStatusPending,
			Tools:          tools,
		})
	}
	if err := s.store.CreateTasks(ctx, tasks); err != nil {
		s.log.Error("failed to persist plan", "conversation_id", conversationID, "error", err)
	}

	planJSON, _ := json.Marshal(tasks)
	msg := stream.NewMessage(stream.StatusSuccess, "Plan created")
	msg.Meta = &stream.Meta{JSON: planJSON}
	s.deliver(ctx, conversationID, emitter, msg)
	return tasks
}

// runTask drives one task's act loop: complete, parse action,
// dispatch, repeat until the model finishes or the step budget runs
// out.
func (s *AgentService) runTask(
	ctx context.Context,
	userID, conversationID string,
	sb *sandbox.Sandbox,
	info *llm.ModelInfo,
	client *llm.Client,
	mem *memory.Memory,
	emitter *stream.Emitter,
	task *model.Task,
) {
	task.Status = model.TaskStatusRunning
	if err := s.store.UpdateTask(ctx, task); err != nil {
		s.log.Error("failed to update task", "task_id", task.TaskID, "error", err)
	}

	system := fmt.Sprintf(executorSystemPrompt, task.Requirement)

	for step := 0; step < maxStepsPerTask; step++ {
		if ctx.Err() != nil {
			s.failTask(ctx, task, ctx.Err())
			return
		}

		var cleaned string
		if step == 0 {
			// A trailing assistant action left over from an interrupted
			// run is replayed without an LLM call.
			if last, ok := mem.Last(); ok && last.Role == stream.RoleAssistant {
				if _, err := parseAction(last.Content); err == nil {
					cleaned = last.Content
				}
			}
		}
		if cleaned == "" {
			raw, err := client.Complete(ctx, system, mem.Messages())
			if err != nil {
				s.failTask(ctx, task, err)
				return
			}
			cleaned = planning.StripThinking(raw)
		}

		act, err := parseAction(cleaned)
		if err != nil {
			// Not an action; take the text as the task's conclusion.
			s.finishTask(ctx, task, cleaned)
			mem.AddMessage(stream.RoleAssistant, cleaned, "", true, nil)
			return
		}

		if act.Type == typeFinish {
			result := act.StringParam("result")
			s.finishTask(ctx, task, result)
			if result != "" {
				mem.AddMessage(stream.RoleAssistant, result, "", true, nil)
			}
			return
		}

		inv := &action.Invocation{
			ConversationID: conversationID,
			UserID:         userID,
			TaskID:         task.TaskID,
			DirName:        action.DirName(conversationID),
			ExecURL:        sb.ExecURL,
			UUID:           uuid.NewString(),
			Model:          info,
			Memory:         mem,
			Emitter:        emitter,
		}
		s.dispatcher.Execute(ctx, inv, act)
	}

	s.failTask(ctx, task, fmt.Errorf("step budget exhausted after %d actions", maxStepsPerTask))
}

func (s *AgentService) finishTask(ctx context.Context, task *model.Task, result string) {
	task.Status = model.TaskStatusDone
	if result != "" {
		task.Result = &result
	}
	if err := s.store.UpdateTask(context.WithoutCancel(ctx), task); err != nil {
		s.log.Error("failed to update task", "task_id", task.TaskID, "error", err)
	}
}

func (s *AgentService) failTask(ctx context.Context, task *model.Task, cause error) {
	task.Status = model.TaskStatusError
	msg := cause.Error()
	task.Error = &msg
	if err := s.store.UpdateTask(context.WithoutCancel(ctx), task); err != nil {
		s.log.Error("failed to update task", "task_id", task.TaskID, "error", err)
	}
}

// emitFailure surfaces an error to the client as a failure message.
func (s *AgentService) emitFailure(ctx context.Context, conversationID string, emitter *stream.Emitter, cause error) {
	msg := stream.NewMessage(stream.StatusFailure, cause.Error())
	s.deliver(ctx, conversationID, emitter, msg)
}

func (s *AgentService) deliver(ctx context.Context, conversationID string, emitter *stream.Emitter, msg *stream.Message) {
	if err := emitter.SendMessage(msg); err != nil {
		s.log.Warn("failed to stream message", "conversation_id", conversationID, "error", err)
	}
	if err := s.messages.PersistMessage(context.WithoutCancel(ctx), conversationID, msg); err != nil {
		s.log.Error("failed to persist message", "conversation_id", conversationID, "error", err)
	}
}

// parseAction extracts the first JSON object from model output.
func parseAction(text string) (action.Action, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return action.Action{}, fmt.Errorf("no JSON object found")
	}

	var act action.Action
	if err := json.Unmarshal([]byte(text[start:end+1]), &act); err != nil {
		return action.Action{}, fmt.Errorf("failed to parse action: %w", err)
	}
	if act.Type == "" {
		return action.Action{}, fmt.Errorf("action has no type")
	}
	if act.Params == nil {
		act.Params = make(map[string]any)
	}
	return act, nil
}

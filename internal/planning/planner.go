package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/citric-ai/citron/internal/logger"
	"github.com/citric-ai/citron/internal/memory"
)

// PlannedTask is one step of an execution plan.
type PlannedTask struct {
	ID          string   `json:"id"`
	Requirement string   `json:"requirement"`
	Tools       []string `json:"tools"`
}

const plannerSystemPrompt = `You are a planning assistant. Break the user's requirement into an ordered list of concrete tasks.

Respond with a JSON array only, no prose. Each element must have:
  "requirement": what the task accomplishes, as one sentence
  "tools": the tool names the task will use, at least one of: write_code, read_file, terminal_run, browser

Keep the plan as short as the requirement allows.`

// Planner produces task plans from user requirements.
type Planner struct {
	complete    CompletionFunc
	log         *logger.Logger
	maxAttempts int
}

// NewPlanner creates a planner driving the given completion function.
func NewPlanner(complete CompletionFunc, log *logger.Logger, maxAttempts int) *Planner {
	return &Planner{
		complete:    complete,
		log:         log.With("component", "planner"),
		maxAttempts: maxAttempts,
	}
}

// Plan turns the requirement and prior context into a validated task
// list. Invalid model output is retried with a repair instruction up
// to the configured attempt budget.
func (p *Planner) Plan(ctx context.Context, requirement string, history []memory.ContextMessage) ([]PlannedTask, error) {
	msgs := append([]memory.ContextMessage(nil), history...)
	msgs = append(msgs, memory.ContextMessage{Role: "user", Content: requirement})

	tasks, err := RetryWithRepair(ctx, p.complete, p.log, plannerSystemPrompt, msgs,
		parseTasks, validateTasks, p.maxAttempts)
	if err != nil {
		return nil, err
	}

	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = uuid.NewString()
		}
	}
	return tasks, nil
}

// parseTasks extracts the JSON array from the model output. Code
// fences and surrounding prose are tolerated.
func parseTasks(text string) ([]PlannedTask, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found in output")
	}

	var tasks []PlannedTask
	if err := json.Unmarshal([]byte(text[start:end+1]), &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse task list: %w", err)
	}
	return tasks, nil
}

// validateTasks enforces the plan shape: at least one task, every task
// with a requirement and at least one tool.
func validateTasks(tasks []PlannedTask) error {
	if len(tasks) == 0 {
		return fmt.Errorf("plan contains no tasks")
	}
	for i, t := range tasks {
		if strings.TrimSpace(t.Requirement) == "" {
			return fmt.Errorf("task %d has an empty requirement", i+1)
		}
		if len(t.Tools) == 0 {
			return fmt.Errorf("task %d names no tools", i+1)
		}
	}
	return nil
}

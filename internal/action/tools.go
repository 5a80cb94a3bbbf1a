package action

import (
	"context"
	"fmt"
)

// RegisterBuiltins installs the built-in action handlers backed by the
// sandbox execution endpoint.
func RegisterBuiltins(registry *Registry, remote RemoteExecutor) {
	registry.Register(&writeCodeHandler{remote: remote})
	registry.Register(&readFileHandler{remote: remote})
	registry.Register(&terminalRunHandler{remote: remote})
	registry.Register(&browserHandler{remote: remote})
	registry.Register(calculatorHandler{})
}

// remoteExecute sends the prepared action to the sandbox.
func remoteExecute(ctx context.Context, remote RemoteExecutor, inv *Invocation, act Action) (*Result, error) {
	if inv.ExecURL == "" {
		return nil, fmt.Errorf("no sandbox attached to conversation %s", inv.ConversationID)
	}
	return remote.DoAction(ctx, inv.ExecURL, act, inv.UUID), nil
}

// writeCodeHandler writes a file into the conversation workspace.
type writeCodeHandler struct {
	remote RemoteExecutor
}

func (h *writeCodeHandler) Name() string { return TypeWriteCode }

func (h *writeCodeHandler) Describe(act Action) (string, bool) {
	p := act.StringParam("path")
	if p == "" {
		return "Writing a file", true
	}
	return fmt.Sprintf("Writing file %s", p), true
}

func (h *writeCodeHandler) Execute(ctx context.Context, inv *Invocation, act Action) (*Result, error) {
	return remoteExecute(ctx, h.remote, inv, act)
}

// ResolveMemory stores the written content rather than the execution
// transcript, so later turns can reason about what the file holds.
func (h *writeCodeHandler) ResolveMemory(act Action, res *Result) string {
	return fmt.Sprintf("<write_code path=%q>\n%s\n</write_code>", act.StringParam("path"), act.StringParam("content"))
}

// readFileHandler reads a file from the conversation workspace.
type readFileHandler struct {
	remote RemoteExecutor
}

func (h *readFileHandler) Name() string { return TypeReadFile }

func (h *readFileHandler) Describe(act Action) (string, bool) {
	p := act.StringParam("path")
	if p == "" {
		return "Reading a file", true
	}
	return fmt.Sprintf("Reading file %s", p), true
}

func (h *readFileHandler) Execute(ctx context.Context, inv *Invocation, act Action) (*Result, error) {
	return remoteExecute(ctx, h.remote, inv, act)
}

func (h *readFileHandler) ResolveMemory(act Action, res *Result) string {
	return fmt.Sprintf("<read_file path=%q>\n%s\n</read_file>", act.StringParam("path"), res.Content)
}

// terminalRunHandler runs a shell command inside the sandbox.
type terminalRunHandler struct {
	remote RemoteExecutor
}

func (h *terminalRunHandler) Name() string { return TypeTerminalRun }

func (h *terminalRunHandler) Describe(act Action) (string, bool) {
	cmd := act.StringParam("command")
	if cmd == "" {
		return "Running a command", true
	}
	return fmt.Sprintf("Running `%s`", cmd), true
}

func (h *terminalRunHandler) Execute(ctx context.Context, inv *Invocation, act Action) (*Result, error) {
	return remoteExecute(ctx, h.remote, inv, act)
}

func (h *terminalRunHandler) ResolveMemory(act Action, res *Result) string {
	out := res.Content
	if res.Stderr != "" {
		out = out + "\n" + res.Stderr
	}
	return fmt.Sprintf("<terminal_run command=%q>\n%s\n</terminal_run>", act.StringParam("command"), out)
}

// browserHandler drives the in-sandbox browser agent. The dispatcher
// attaches the conversation's model credentials before execution.
type browserHandler struct {
	remote RemoteExecutor
}

func (h *browserHandler) Name() string { return TypeBrowser }

func (h *browserHandler) Describe(act Action) (string, bool) {
	if url := act.StringParam("url"); url != "" {
		return fmt.Sprintf("Browsing %s", url), true
	}
	if q := act.StringParam("question"); q != "" {
		return fmt.Sprintf("Browsing the web: %s", q), true
	}
	return "Browsing the web", true
}

func (h *browserHandler) Execute(ctx context.Context, inv *Invocation, act Action) (*Result, error) {
	return remoteExecute(ctx, h.remote, inv, act)
}

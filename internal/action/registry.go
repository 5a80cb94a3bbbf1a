package action

import (
	"context"
	"sort"
	"sync"

	"github.com/citric-ai/citron/internal/llm"
	"github.com/citric-ai/citron/internal/memory"
	"github.com/citric-ai/citron/internal/stream"
)

// Invocation carries the per-conversation context an action executes
// in. The dispatcher fills UUID before calling the handler so remote
// results can be correlated with the running announcement.
type Invocation struct {
	ConversationID string
	UserID         string
	TaskID         string
	DirName        string // per-conversation workspace subdirectory
	ExecURL        string // sandbox execution endpoint
	UUID           string
	Model          *llm.ModelInfo
	Memory         *memory.Memory
	Emitter        *stream.Emitter
}

// RemoteExecutor sends an action to the sandbox's execution endpoint.
// Implementations never return an error; transport failures come back
// as failure results.
type RemoteExecutor interface {
	DoAction(ctx context.Context, execURL string, act Action, uuid string) *Result
}

// Handler executes one action type.
type Handler interface {
	Name() string
	Execute(ctx context.Context, inv *Invocation, act Action) (*Result, error)
}

// Describer is an optional handler capability: a human-readable
// description of the action about to run, shown to the client before
// execution. The bool reports whether a description applies.
type Describer interface {
	Describe(act Action) (string, bool)
}

// MemoryResolver is an optional handler capability: compacts a result
// into the representation stored in conversation memory.
type MemoryResolver interface {
	ResolveMemory(act Action, res *Result) string
}

// Registry maps action-type names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, replacing any previous one for the same name.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Get looks up the handler for an action type.
func (r *Registry) Get(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	return h, ok
}

// Names returns the registered action types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

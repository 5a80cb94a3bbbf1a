// Package mock provides a mock implementation of sandbox.Provider for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/citric-ai/citron/internal/sandbox"
)

// Provider is an in-memory sandbox provider for testing.
type Provider struct {
	mu        sync.RWMutex
	instances map[string]*sandbox.Instance
	nextID    int
	commands  []RecordedCommand

	// Configurable behaviors for testing
	CreateFunc     func(ctx context.Context) (*sandbox.Instance, error)
	ConnectFunc    func(ctx context.Context, sandboxID string) (*sandbox.Instance, error)
	KillFunc       func(ctx context.Context, sandboxID string) error
	RunCommandFunc func(ctx context.Context, sandboxID, command, cwd string) error
}

// RecordedCommand is one RunCommand call, kept for test assertions.
type RecordedCommand struct {
	SandboxID string
	Command   string
	Cwd       string
}

// NewProvider creates a mock provider with default behavior.
func NewProvider() *Provider {
	return &Provider{
		instances: make(map[string]*sandbox.Instance),
	}
}

// Create provisions a mock sandbox.
func (p *Provider) Create(ctx context.Context) (*sandbox.Instance, error) {
	if p.CreateFunc != nil {
		return p.CreateFunc(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := fmt.Sprintf("mock-sandbox-%d", p.nextID)
	inst := &sandbox.Instance{
		ID:         id,
		ExecHost:   id + ".exec.mock",
		EditorHost: id + ".editor.mock",
		StartedAt:  time.Now(),
	}
	p.instances[id] = inst
	copy := *inst
	return &copy, nil
}

// Connect probes a mock sandbox.
func (p *Provider) Connect(ctx context.Context, sandboxID string) (*sandbox.Instance, error) {
	if p.ConnectFunc != nil {
		return p.ConnectFunc(ctx, sandboxID)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	inst, exists := p.instances[sandboxID]
	if !exists {
		return nil, sandbox.ErrNotFound
	}
	copy := *inst
	return &copy, nil
}

// Kill removes a mock sandbox.
func (p *Provider) Kill(ctx context.Context, sandboxID string) error {
	if p.KillFunc != nil {
		return p.KillFunc(ctx, sandboxID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.instances[sandboxID]; !exists {
		return sandbox.ErrNotFound
	}
	delete(p.instances, sandboxID)
	return nil
}

// RunCommand records the command for later assertions.
func (p *Provider) RunCommand(ctx context.Context, sandboxID, command, cwd string) error {
	if p.RunCommandFunc != nil {
		return p.RunCommandFunc(ctx, sandboxID, command, cwd)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.instances[sandboxID]; !exists {
		return sandbox.ErrNotFound
	}
	p.commands = append(p.commands, RecordedCommand{SandboxID: sandboxID, Command: command, Cwd: cwd})
	return nil
}

// Instances returns all live instances (for test assertions).
func (p *Provider) Instances() map[string]*sandbox.Instance {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]*sandbox.Instance, len(p.instances))
	for k, v := range p.instances {
		copy := *v
		result[k] = &copy
	}
	return result
}

// Commands returns every recorded RunCommand call (for test assertions).
func (p *Provider) Commands() []RecordedCommand {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]RecordedCommand(nil), p.commands...)
}

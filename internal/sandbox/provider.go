// Package sandbox manages the per-user isolated compute environment:
// provisioning, reuse, idle teardown, and action execution against the
// sandbox's HTTP surface.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound = errors.New("sandbox not found")
)

// Provider abstracts the external sandbox fleet. Each user gets at
// most one sandbox, addressed by its provider-assigned ID.
type Provider interface {
	// Create provisions a new sandbox from the configured template.
	// The returned instance is running and has its well-known ports
	// bound to externally reachable hosts.
	Create(ctx context.Context) (*Instance, error)

	// Connect probes an existing sandbox by ID. Returns ErrNotFound
	// if the sandbox no longer exists.
	Connect(ctx context.Context, sandboxID string) (*Instance, error)

	// Kill destroys the sandbox. Killing a sandbox that no longer
	// exists returns ErrNotFound.
	Kill(ctx context.Context, sandboxID string) error

	// RunCommand runs a setup command inside the sandbox and returns
	// an error if it exits non-zero. Used for workspace mounting
	// during provisioning.
	RunCommand(ctx context.Context, sandboxID, command, cwd string) error
}

// Instance is a live sandbox as reported by the provider.
type Instance struct {
	ID         string    // Provider-assigned sandbox ID
	ExecHost   string    // Host for the action execution port
	EditorHost string    // Host for the editor/IDE port
	StartedAt  time.Time // When the sandbox started
}

// Sandbox state constants.
const (
	StateUninitialized = "uninitialized"
	StateProvisioning  = "provisioning"
	StateReady         = "ready"
	StateClosing       = "closing"
	StateClosed        = "closed"
)

// Sandbox is the lifecycle view handed to callers: one per user at
// most, with its two well-known endpoints.
type Sandbox struct {
	OwnerUserID string    `json:"owner_user_id"`
	State       string    `json:"state"`
	ExternalID  string    `json:"external_id"`
	ExecURL     string    `json:"exec_url"`
	EditorURL   string    `json:"editor_url"`
	CreatedAt   time.Time `json:"created_at"`
}

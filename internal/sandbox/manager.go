package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/citric-ai/citron/internal/logger"
	"github.com/citric-ai/citron/internal/metering"
	"github.com/citric-ai/citron/internal/model"
)

// UserStore is the slice of persistence the manager needs: the cached
// sandbox ID on the user record and the busy check for teardown.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateUserSandboxID(ctx context.Context, userID string, sandboxID *string) error
	CountRunningConversations(ctx context.Context, userID string) (int64, error)
}

// Options configures workspace provisioning and idle teardown.
type Options struct {
	NFSServer      string        // NFS server for the shared workspace, empty to skip mounting
	ExportDir      string        // Directory under the NFS export holding per-user workspaces
	IdleClose      time.Duration // Delay before an editor-triggered close fires
	RatePerHour    float64       // Runtime billing rate, units per hour
	ConnectTimeout time.Duration // Budget for provisioning a fresh sandbox
}

// Manager owns the sandbox lifecycle for every user: connect reuses a
// cached sandbox when it is still alive, provisions otherwise, and
// close tears down only when the user has nothing running.
type Manager struct {
	store    UserStore
	provider Provider
	meter    metering.Meter
	log      *logger.Logger
	opts     Options

	mu         sync.Mutex
	userLocks  map[string]*sync.Mutex
	connected  map[string]time.Time // userID -> start of the current sandbox, provider-reported
	closeTimer map[string]*time.Timer
}

// NewManager creates a sandbox manager.
func NewManager(store UserStore, provider Provider, meter metering.Meter, log *logger.Logger, opts Options) *Manager {
	if opts.IdleClose <= 0 {
		opts.IdleClose = 5 * time.Minute
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Minute
	}
	return &Manager{
		store:      store,
		provider:   provider,
		meter:      meter,
		log:        log.With("component", "sandbox_manager"),
		opts:       opts,
		userLocks:  make(map[string]*sync.Mutex),
		connected:  make(map[string]time.Time),
		closeTimer: make(map[string]*time.Timer),
	}
}

// lockFor returns the per-user mutex, creating it on first use.
// Serializing per user keeps concurrent connects from provisioning
// two sandboxes for the same owner.
func (m *Manager) lockFor(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.userLocks[userID] = l
	}
	return l
}

// Connect returns a ready sandbox for the user, reusing the cached one
// when it is still alive and provisioning a fresh one otherwise.
// Connect is idempotent: calling it again for the same user while the
// sandbox is alive returns the same sandbox without touching the fleet
// beyond a status probe. Every successful connect (re-)arms the
// deferred idle close.
func (m *Manager) Connect(ctx context.Context, userID string) (*Sandbox, error) {
	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	// Probe the cached sandbox first.
	if user.SandboxID != nil && *user.SandboxID != "" {
		inst, err := m.provider.Connect(ctx, *user.SandboxID)
		if err == nil {
			m.trackConnected(userID, inst)
			m.ScheduleClose(userID)
			return m.view(userID, inst, StateReady), nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("failed to probe sandbox %s: %w", *user.SandboxID, err)
		}
		m.log.Info("cached sandbox gone, provisioning new one",
			"user_id", userID, "sandbox_id", *user.SandboxID)
		if err := m.store.UpdateUserSandboxID(ctx, userID, nil); err != nil {
			return nil, fmt.Errorf("failed to clear stale sandbox id: %w", err)
		}
	}

	return m.provision(ctx, userID)
}

// provision creates a sandbox, prepares its workspace mount, and
// persists the ID on the user record.
func (m *Manager) provision(ctx context.Context, userID string) (*Sandbox, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	m.log.Info("provisioning sandbox", "user_id", userID)
	inst, err := m.provider.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	if err := m.prepareWorkspace(ctx, inst.ID, userID); err != nil {
		// Don't leak the half-provisioned sandbox.
		if killErr := m.provider.Kill(context.WithoutCancel(ctx), inst.ID); killErr != nil && !errors.Is(killErr, ErrNotFound) {
			m.log.Warn("failed to kill half-provisioned sandbox", "sandbox_id", inst.ID, "error", killErr)
		}
		return nil, err
	}

	id := inst.ID
	if err := m.store.UpdateUserSandboxID(ctx, userID, &id); err != nil {
		return nil, fmt.Errorf("failed to persist sandbox id: %w", err)
	}

	m.trackConnected(userID, inst)
	m.ScheduleClose(userID)
	m.log.Info("sandbox ready", "user_id", userID, "sandbox_id", inst.ID)
	return m.view(userID, inst, StateReady), nil
}

// prepareWorkspace replaces the sandbox's scratch workspace with a
// symlink into the user's directory on the shared export, so files
// survive sandbox teardown.
func (m *Manager) prepareWorkspace(ctx context.Context, sandboxID, userID string) error {
	userDir := fmt.Sprintf("/export/%s/workspace/user_%s", m.opts.ExportDir, userID)

	commands := []string{
		"rm -rf /workspace",
	}
	if m.opts.NFSServer != "" {
		commands = append(commands,
			"mkdir -p /export",
			fmt.Sprintf("mount -t nfs -o nolock %s:/export /export", m.opts.NFSServer),
		)
	}
	commands = append(commands,
		fmt.Sprintf("mkdir -p %s", userDir),
		fmt.Sprintf("ln -s %s /workspace", userDir),
	)

	for _, cmd := range commands {
		if err := m.provider.RunCommand(ctx, sandboxID, cmd, "/"); err != nil {
			return fmt.Errorf("workspace setup failed: %w", err)
		}
	}
	return nil
}

func (m *Manager) trackConnected(userID string, inst *Instance) {
	startedAt := inst.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[userID] = startedAt
}

func (m *Manager) view(userID string, inst *Instance, state string) *Sandbox {
	return &Sandbox{
		OwnerUserID: userID,
		State:       state,
		ExternalID:  inst.ID,
		ExecURL:     "https://" + inst.ExecHost,
		EditorURL:   "https://" + inst.EditorHost,
		CreatedAt:   inst.StartedAt,
	}
}

// EditorURL builds the editor entry point opened at the conversation's
// working directory.
func EditorURL(sb *Sandbox, dirName string) string {
	return fmt.Sprintf("%s?folder=/workspace/%s", sb.EditorURL, dirName)
}

// ScheduleClose arms (or re-arms) a delayed close for the user's
// sandbox. Each call resets the delay, so repeated editor connects
// keep pushing the teardown out.
func (m *Manager) ScheduleClose(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.closeTimer[userID]; ok {
		t.Reset(m.opts.IdleClose)
		return
	}
	m.closeTimer[userID] = time.AfterFunc(m.opts.IdleClose, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.Close(ctx, userID); err != nil {
			m.log.Error("scheduled sandbox close failed", "user_id", userID, "error", err)
		}
	})
}

// Close tears down the user's sandbox unless a conversation is still
// running against it. The busy check happens at close time, not
// schedule time, so activity started after the timer was armed keeps
// the sandbox alive. Runtime is metered before the kill.
func (m *Manager) Close(ctx context.Context, userID string) error {
	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	running, err := m.store.CountRunningConversations(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check running conversations: %w", err)
	}
	if running > 0 {
		m.log.Info("sandbox busy, skipping close", "user_id", userID, "running", running)
		return nil
	}

	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user.SandboxID == nil || *user.SandboxID == "" {
		return nil
	}
	sandboxID := *user.SandboxID

	m.meterRuntime(ctx, userID, sandboxID)

	if err := m.provider.Kill(ctx, sandboxID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to kill sandbox %s: %w", sandboxID, err)
	}
	if err := m.store.UpdateUserSandboxID(ctx, userID, nil); err != nil {
		return fmt.Errorf("failed to clear sandbox id: %w", err)
	}

	m.mu.Lock()
	delete(m.connected, userID)
	if t, ok := m.closeTimer[userID]; ok {
		t.Stop()
		delete(m.closeTimer, userID)
	}
	m.mu.Unlock()

	m.log.Info("sandbox closed", "user_id", userID, "sandbox_id", sandboxID)
	return nil
}

// meterRuntime records the billable runtime of the sandbox being
// closed, measured from the provider-reported start time so the charge
// survives process restarts. Metering failures are logged, never
// fatal: teardown must not be blocked by the billing path.
func (m *Manager) meterRuntime(ctx context.Context, userID, sandboxID string) {
	if m.meter == nil {
		return
	}
	m.mu.Lock()
	startedAt, ok := m.connected[userID]
	m.mu.Unlock()
	if !ok {
		inst, err := m.provider.Connect(ctx, sandboxID)
		if err != nil {
			m.log.Warn("cannot determine sandbox age, skipping metering",
				"user_id", userID, "sandbox_id", sandboxID, "error", err)
			return
		}
		startedAt = inst.StartedAt
	}
	if startedAt.IsZero() {
		return
	}
	units := metering.UnitsForRuntime(time.Since(startedAt), m.opts.RatePerHour)
	if units <= 0 {
		return
	}
	if err := m.meter.RecordRuntime(ctx, userID, units); err != nil {
		m.log.Error("failed to record sandbox runtime", "user_id", userID, "error", err)
	}
}

// Shutdown stops all pending close timers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, t := range m.closeTimer {
		t.Stop()
		delete(m.closeTimer, userID)
	}
}

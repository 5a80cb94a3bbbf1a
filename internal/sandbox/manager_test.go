package sandbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citric-ai/citron/internal/logger"
	"github.com/citric-ai/citron/internal/model"
	"github.com/citric-ai/citron/internal/sandbox"
	"github.com/citric-ai/citron/internal/sandbox/mock"
)

type fakeUserStore struct {
	mu      sync.Mutex
	users   map[string]*model.User
	running int64
}

func newFakeUserStore(userIDs ...string) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]*model.User)}
	for _, id := range userIDs {
		s.users[id] = &model.User{ID: id, Name: id}
	}
	return s
}

func (s *fakeUserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *s.users[id]
	return &u, nil
}

func (s *fakeUserStore) UpdateUserSandboxID(ctx context.Context, userID string, sandboxID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].SandboxID = sandboxID
	return nil
}

func (s *fakeUserStore) CountRunningConversations(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, nil
}

func (s *fakeUserStore) setRunning(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = n
}

func (s *fakeUserStore) sandboxID(userID string) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID].SandboxID
}

type fakeMeter struct {
	mu    sync.Mutex
	calls []float64
}

func (m *fakeMeter) RecordRuntime(ctx context.Context, userID string, units float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, units)
	return nil
}

func (m *fakeMeter) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestManager(store *fakeUserStore, provider *mock.Provider, meter *fakeMeter, opts sandbox.Options) *sandbox.Manager {
	if opts.RatePerHour == 0 {
		opts.RatePerHour = 3.6e12 // large enough that any runtime meters as nonzero
	}
	return sandbox.NewManager(store, provider, meter, logger.NewNop(), opts)
}

func TestConnectIsIdempotent(t *testing.T) {
	store := newFakeUserStore("u1")
	provider := mock.NewProvider()
	m := newTestManager(store, provider, &fakeMeter{}, sandbox.Options{})
	defer m.Shutdown()

	first, err := m.Connect(context.Background(), "u1")
	require.NoError(t, err)
	second, err := m.Connect(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, first.ExternalID, second.ExternalID)
	assert.Len(t, provider.Instances(), 1)
	require.NotNil(t, store.sandboxID("u1"))
	assert.Equal(t, first.ExternalID, *store.sandboxID("u1"))
	assert.Equal(t, sandbox.StateReady, second.State)
}

func TestConnectReprovisionsWhenSandboxGone(t *testing.T) {
	store := newFakeUserStore("u1")
	stale := "mock-sandbox-dead"
	store.users["u1"].SandboxID = &stale

	provider := mock.NewProvider()
	m := newTestManager(store, provider, &fakeMeter{}, sandbox.Options{})
	defer m.Shutdown()

	sb, err := m.Connect(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEqual(t, stale, sb.ExternalID)
	assert.Equal(t, sb.ExternalID, *store.sandboxID("u1"))
}

func TestProvisioningPreparesWorkspace(t *testing.T) {
	store := newFakeUserStore("u1")
	provider := mock.NewProvider()
	m := newTestManager(store, provider, &fakeMeter{}, sandbox.Options{
		NFSServer: "nfs.internal",
		ExportDir: "citron",
	})
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "u1")
	require.NoError(t, err)

	cmds := provider.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "rm -rf /workspace", cmds[0].Command)

	var sawMount, sawLink bool
	for _, c := range cmds {
		if c.Command == "mount -t nfs -o nolock nfs.internal:/export /export" {
			sawMount = true
		}
		if c.Command == "ln -s /export/citron/workspace/user_u1 /workspace" {
			sawLink = true
		}
	}
	assert.True(t, sawMount, "expected NFS mount command")
	assert.True(t, sawLink, "expected workspace symlink command")
}

func TestCloseIsNoopWhileBusy(t *testing.T) {
	store := newFakeUserStore("u1")
	provider := mock.NewProvider()
	meter := &fakeMeter{}
	m := newTestManager(store, provider, meter, sandbox.Options{})
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "u1")
	require.NoError(t, err)

	store.setRunning(1)
	require.NoError(t, m.Close(context.Background(), "u1"))

	assert.Len(t, provider.Instances(), 1)
	assert.NotNil(t, store.sandboxID("u1"))
	assert.Equal(t, 0, meter.total())
}

func TestCloseKillsMetersAndClears(t *testing.T) {
	store := newFakeUserStore("u1")
	provider := mock.NewProvider()
	meter := &fakeMeter{}
	m := newTestManager(store, provider, meter, sandbox.Options{})
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "u1")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, m.Close(context.Background(), "u1"))

	assert.Empty(t, provider.Instances())
	assert.Nil(t, store.sandboxID("u1"))
	assert.Equal(t, 1, meter.total())
}

func TestScheduledCloseRevalidatesBusyCheck(t *testing.T) {
	store := newFakeUserStore("u1")
	provider := mock.NewProvider()
	m := newTestManager(store, provider, &fakeMeter{}, sandbox.Options{
		IdleClose: 20 * time.Millisecond,
	})
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "u1")
	require.NoError(t, err)

	// A conversation starts running after the timer is armed; the
	// fired close must still observe it and back off.
	store.setRunning(1)
	m.ScheduleClose("u1")
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, provider.Instances(), 1)

	store.setRunning(0)
	m.ScheduleClose("u1")
	require.Eventually(t, func() bool {
		return len(provider.Instances()) == 0
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, store.sandboxID("u1"))
}

func TestConnectArmsIdleClose(t *testing.T) {
	store := newFakeUserStore("u1")
	provider := mock.NewProvider()
	m := newTestManager(store, provider, &fakeMeter{}, sandbox.Options{
		IdleClose: 20 * time.Millisecond,
	})
	defer m.Shutdown()

	// No editor request, no explicit schedule: the connect alone must
	// arm the idle teardown.
	_, err := m.Connect(context.Background(), "u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(provider.Instances()) == 0
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, store.sandboxID("u1"))
}

func TestCloseMetersFromProviderStartTime(t *testing.T) {
	store := newFakeUserStore("u1")
	provider := mock.NewProvider()
	meter := &fakeMeter{}

	// A sandbox that outlived the process: the user record still points
	// at it, but this manager never connected to it.
	inst, err := provider.Create(context.Background())
	require.NoError(t, err)
	store.users["u1"].SandboxID = &inst.ID
	time.Sleep(5 * time.Millisecond)

	m := newTestManager(store, provider, meter, sandbox.Options{})
	require.NoError(t, m.Close(context.Background(), "u1"))

	assert.Empty(t, provider.Instances())
	assert.Equal(t, 1, meter.total(), "runtime must be metered from the provider-reported start time")
}

func TestEditorURL(t *testing.T) {
	sb := &sandbox.Sandbox{EditorURL: "https://editor.example"}
	assert.Equal(t, "https://editor.example?folder=/workspace/Conversation_abc123",
		sandbox.EditorURL(sb, "Conversation_abc123"))
}

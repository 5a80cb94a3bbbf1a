package service

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/citric-ai/citron/internal/llm"
	"github.com/citric-ai/citron/internal/model"
	"github.com/citric-ai/citron/internal/store"
	"github.com/citric-ai/citron/internal/stream"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	return store.New(db)
}

func TestParseAction(t *testing.T) {
	act, err := parseAction(`{"type": "terminal_run", "params": {"command": "echo hi"}}`)
	require.NoError(t, err)
	assert.Equal(t, "terminal_run", act.Type)
	assert.Equal(t, "echo hi", act.Params["command"])

	// Surrounding prose is tolerated.
	act, err = parseAction("I'll run a command now.\n```json\n{\"type\": \"finish\", \"params\": {\"result\": \"done\"}}\n```")
	require.NoError(t, err)
	assert.Equal(t, "finish", act.Type)

	_, err = parseAction("no action here")
	assert.Error(t, err)

	_, err = parseAction(`{"params": {}}`)
	assert.Error(t, err)
}

func TestRebuildMemoryKeepsOnlyMemorized(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	svc := NewMessageService(s)

	user := &model.User{Name: "u"}
	require.NoError(t, s.CreateUser(ctx, user))
	conv := &model.Conversation{UserID: user.ID, Title: "t"}
	require.NoError(t, s.CreateConversation(ctx, conv))

	require.NoError(t, svc.PersistMessage(ctx, conv.ID, &stream.Message{
		Role: stream.RoleUser, UUID: "u1", Status: stream.StatusSuccess,
		Content: "build me a site", Memorized: true, Timestamp: 100,
	}))
	require.NoError(t, svc.PersistMessage(ctx, conv.ID, &stream.Message{
		Role: stream.RoleAssistant, UUID: "a1", Status: stream.StatusRunning,
		Content: "Writing file index.html", Timestamp: 200,
		Meta: &stream.Meta{ActionType: "write_code"},
	}))
	require.NoError(t, svc.PersistMessage(ctx, conv.ID, &stream.Message{
		Role: stream.RoleAssistant, UUID: "a2", Status: stream.StatusSuccess,
		Content: "<write_code path=\"index.html\">...</write_code>", Memorized: true, Timestamp: 300,
		Meta: &stream.Meta{ActionType: "write_code"},
	}))

	mem, err := svc.RebuildMemory(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 2, mem.Len())

	entries := mem.Entries()
	assert.Equal(t, "build me a site", entries[0].Content)
	assert.Equal(t, "write_code", entries[1].ActionType)
}

func TestModelResolverFallbackChain(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	r := NewModelResolver(s, llm.ModelInfo{ModelName: "env-model", BaseURL: "https://env.example", APIKey: "env-key"})

	// Nothing in the database: the static fallback wins.
	info, err := r.Resolve(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "env-model", info.ModelName)

	// A stored default takes precedence over the static fallback.
	require.NoError(t, s.CreateModelConfig(ctx, &model.ModelConfig{
		Name: "db-default", Platform: "openai", BaseURL: "https://db.example", APIKey: "db-key", IsDefault: true,
	}))
	info, err = r.Resolve(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "db-default", info.ModelName)

	// An explicit binding beats both.
	bound := &model.ModelConfig{Name: "bound", Platform: "openai", BaseURL: "https://bound.example", APIKey: "k"}
	require.NoError(t, s.CreateModelConfig(ctx, bound))
	info, err = r.Resolve(ctx, &bound.ID)
	require.NoError(t, err)
	assert.Equal(t, "bound", info.ModelName)
}

func TestStopUnknownConversation(t *testing.T) {
	svc := &AgentService{cancels: map[string]context.CancelFunc{}}
	assert.False(t, svc.Stop("nope"))
}

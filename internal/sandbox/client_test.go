package sandbox_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citric-ai/citron/internal/action"
	"github.com/citric-ai/citron/internal/sandbox"
)

func TestExecClientSendsNestedActionParams(t *testing.T) {
	var body map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/execute_action", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"status": action.StatusSuccess, "content": "hi\n"},
		})
	}))
	defer srv.Close()

	client := sandbox.NewExecClient(5 * time.Second)
	act := action.Action{Type: "terminal_run", Params: map[string]any{"command": "echo hi"}}
	res := client.DoAction(context.Background(), srv.URL, act, "uuid-1")

	require.Equal(t, action.StatusSuccess, res.Status)
	assert.Equal(t, "hi\n", res.Content)
	assert.Equal(t, "uuid-1", res.UUID)

	var sent struct {
		Action struct {
			Type   string         `json:"type"`
			Params map[string]any `json:"params"`
		} `json:"action"`
		UUID string `json:"uuid"`
	}
	require.NoError(t, json.Unmarshal(body["action"], &sent.Action))
	assert.Equal(t, "terminal_run", sent.Action.Type)
	require.NotNil(t, sent.Action.Params, "params must stay nested under the action")
	assert.Equal(t, "echo hi", sent.Action.Params["command"])

	var uuid string
	require.NoError(t, json.Unmarshal(body["uuid"], &uuid))
	assert.Equal(t, "uuid-1", uuid)

	// The command must not leak to the action's top level.
	var flat map[string]any
	require.NoError(t, json.Unmarshal(body["action"], &flat))
	assert.NotContains(t, flat, "command")
}

func TestExecClientFoldsTransportErrorIntoFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := sandbox.NewExecClient(5 * time.Second)
	act := action.Action{Type: "browser", Params: map[string]any{"url": "https://example.com"}}
	res := client.DoAction(context.Background(), srv.URL, act, "uuid-2")

	require.Equal(t, action.StatusFailure, res.Status)
	assert.Equal(t, "uuid-2", res.UUID)
	assert.Contains(t, res.Comments, "Failed to do browser")
}

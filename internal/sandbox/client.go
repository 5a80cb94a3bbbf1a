package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/citric-ai/citron/internal/action"
)

// ExecClient executes actions against a sandbox's execution endpoint.
// Long-running actions (builds, browser sessions) are expected, so the
// timeout is generous and configurable.
type ExecClient struct {
	client *http.Client
}

// NewExecClient creates an exec client with the given per-action timeout.
func NewExecClient(timeout time.Duration) *ExecClient {
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	return &ExecClient{
		client: &http.Client{Timeout: timeout},
	}
}

// executeRequest is the wire form for an action execution request. The
// action keeps its {type, params} shape on the wire.
type executeRequest struct {
	Action action.Action `json:"action"`
	UUID   string        `json:"uuid"`
}

// DoAction sends the action to the sandbox and returns its result.
// Transport and protocol failures never surface as errors: they are
// folded into a failure result so the agent loop can observe them the
// same way it observes tool failures.
func (c *ExecClient) DoAction(ctx context.Context, execURL string, act action.Action, uuid string) *action.Result {
	result, err := c.execute(ctx, execURL, act, uuid)
	if err != nil {
		res := action.Failure(uuid, err.Error())
		res.Comments = fmt.Sprintf("Failed to do %s: %v", act.Type, err)
		return res
	}
	return result
}

func (c *ExecClient) execute(ctx context.Context, execURL string, act action.Action, uuid string) (*action.Result, error) {
	body, err := json.Marshal(executeRequest{Action: act, UUID: uuid})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, execURL+"/execute_action", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("execution endpoint returned %d", resp.StatusCode)
	}

	var envelope struct {
		Data *action.Result `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("execution endpoint returned empty result")
	}
	if envelope.Data.UUID == "" {
		envelope.Data.UUID = uuid
	}
	return envelope.Data, nil
}

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider talks to a remote sandbox fleet over its REST API.
// Authentication is a static API key sent with every request.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	templateID string
	execPort   int
	editorPort int
	client     *http.Client
}

// NewHTTPProvider creates a provider for the fleet at baseURL. The two
// ports are requested at create time so the fleet binds them to
// reachable hosts.
func NewHTTPProvider(baseURL, apiKey, templateID string, execPort, editorPort int) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		templateID: templateID,
		execPort:   execPort,
		editorPort: editorPort,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

// instancePayload is the wire form of a sandbox as the fleet reports it.
type instancePayload struct {
	SandboxID  string `json:"sandbox_id"`
	ExecHost   string `json:"exec_host"`
	EditorHost string `json:"editor_host"`
	StartedAt  int64  `json:"started_at"`
}

func (p instancePayload) instance() *Instance {
	return &Instance{
		ID:         p.SandboxID,
		ExecHost:   p.ExecHost,
		EditorHost: p.EditorHost,
		StartedAt:  time.Unix(p.StartedAt, 0),
	}
}

// Create provisions a fresh sandbox from the configured template.
func (p *HTTPProvider) Create(ctx context.Context) (*Instance, error) {
	body := map[string]any{
		"template_id": p.templateID,
		"exec_port":   p.execPort,
		"editor_port": p.editorPort,
	}
	var payload instancePayload
	if err := p.do(ctx, http.MethodPost, "/sandboxes", body, &payload); err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	return payload.instance(), nil
}

// Connect probes an existing sandbox.
func (p *HTTPProvider) Connect(ctx context.Context, sandboxID string) (*Instance, error) {
	var payload instancePayload
	if err := p.do(ctx, http.MethodGet, "/sandboxes/"+sandboxID, nil, &payload); err != nil {
		return nil, err
	}
	return payload.instance(), nil
}

// Kill destroys the sandbox.
func (p *HTTPProvider) Kill(ctx context.Context, sandboxID string) error {
	return p.do(ctx, http.MethodDelete, "/sandboxes/"+sandboxID, nil, nil)
}

// RunCommand runs a setup command inside the sandbox and waits for it
// to finish. A non-zero exit code is returned as an error carrying the
// command's stderr.
func (p *HTTPProvider) RunCommand(ctx context.Context, sandboxID, command, cwd string) error {
	body := map[string]string{"command": command}
	if cwd != "" {
		body["cwd"] = cwd
	}
	var result struct {
		ExitCode int    `json:"exit_code"`
		Stderr   string `json:"stderr"`
	}
	if err := p.do(ctx, http.MethodPost, "/sandboxes/"+sandboxID+"/commands", body, &result); err != nil {
		return fmt.Errorf("failed to run command: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("command %q exited %d: %s", command, result.ExitCode, result.Stderr)
	}
	return nil
}

// do issues one request against the fleet API and decodes the response
// into out when non-nil. 404 maps to ErrNotFound.
func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sandbox API returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

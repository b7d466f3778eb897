package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider talks to the cloud sandbox runtime over its REST control
// API. The control plane treats the runtime as opaque: every capability
// maps to one endpoint and failures surface as plain errors for the
// orchestrator to classify.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider for the runtime at baseURL.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 5 * time.Minute, // sandbox creation is slow; callers bound with ctx
		},
	}
}

// Create provisions a sandbox from the named template.
func (p *HTTPProvider) Create(ctx context.Context, template string) (Sandbox, error) {
	var resp struct {
		SandboxID string `json:"sandbox_id"`
	}
	err := p.do(ctx, http.MethodPost, "/v1/sandboxes", map[string]string{"template": template}, &resp)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	return &httpSandbox{provider: p, id: resp.SandboxID}, nil
}

// Scale sets the instance count behind a sandbox.
func (p *HTTPProvider) Scale(ctx context.Context, sandboxID string, instances int) error {
	path := fmt.Sprintf("/v1/sandboxes/%s/scale", sandboxID)
	err := p.do(ctx, http.MethodPost, path, map[string]int{"instances": instances}, nil)
	if err != nil {
		return fmt.Errorf("scale sandbox %s: %w", sandboxID, err)
	}
	return nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("runtime returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// httpSandbox is a handle to one remote sandbox.
type httpSandbox struct {
	provider *HTTPProvider
	id       string
}

func (s *httpSandbox) ID() string {
	return s.id
}

func (s *httpSandbox) WriteFile(ctx context.Context, path string, data []byte) error {
	reqPath := fmt.Sprintf("/v1/sandboxes/%s/files", s.id)
	err := s.provider.do(ctx, http.MethodPut, reqPath, map[string]string{
		"path":    path,
		"content": base64.StdEncoding.EncodeToString(data),
	}, nil)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (s *httpSandbox) Run(ctx context.Context, cmd string, opts RunOptions) (*CommandResult, error) {
	reqPath := fmt.Sprintf("/v1/sandboxes/%s/commands", s.id)
	var resp struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
		PID      int    `json:"pid"`
	}
	err := s.provider.do(ctx, http.MethodPost, reqPath, map[string]interface{}{
		"command":    cmd,
		"background": opts.Background,
		"env":        opts.Env,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", cmd, err)
	}
	return &CommandResult{
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
		PID:      resp.PID,
	}, nil
}

func (s *httpSandbox) Host(ctx context.Context, port int) (string, error) {
	reqPath := fmt.Sprintf("/v1/sandboxes/%s/host?port=%d", s.id, port)
	var resp struct {
		URL string `json:"url"`
	}
	if err := s.provider.do(ctx, http.MethodGet, reqPath, nil, &resp); err != nil {
		return "", fmt.Errorf("host for port %d: %w", port, err)
	}
	return resp.URL, nil
}

func (s *httpSandbox) Destroy(ctx context.Context) error {
	reqPath := fmt.Sprintf("/v1/sandboxes/%s", s.id)
	return s.provider.do(ctx, http.MethodDelete, reqPath, nil, nil)
}

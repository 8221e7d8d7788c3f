// Package backend talks to the external workflow service: it dispatches run
// commands over REST and consumes the run event stream.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/events"
	"github.com/storyline-ai/storyline/internal/logging"
)

const defaultTimeout = 10 * time.Second

// Config holds the backend connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is the REST client for the workflow service. Commands are sent
// exactly once; the engine never retries on the caller's behalf.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logging.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Configured reports whether a backend address is set. Without one the
// application runs standalone and commands apply locally only.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// AckResponse is the backend's reply to a run command.
type AckResponse struct {
	OK      bool   `json:"ok"`
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// StartRequest carries the start command payload.
type StartRequest struct {
	Story    string `json:"story"`
	Extra    string `json:"extra,omitempty"`
	ConfigID string `json:"config_id,omitempty"`
}

// StepRequest carries the single-step command payload.
type StepRequest struct {
	Story string `json:"story"`
	Step  string `json:"step"`
	RunID string `json:"run_id,omitempty"`
}

// Health checks backend reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.command(ctx, "health", http.MethodGet, "/api/health", nil, nil)
}

// Start asks the backend to begin a workflow run and returns its ack.
func (c *Client) Start(ctx context.Context, req StartRequest) (*AckResponse, error) {
	var resp AckResponse
	if err := c.command(ctx, "start", http.MethodPost, "/api/workflows/start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Step asks the backend to execute a single workflow step.
func (c *Client) Step(ctx context.Context, req StepRequest) (*AckResponse, error) {
	var resp AckResponse
	if err := c.command(ctx, "step", http.MethodPost, "/api/workflows/step", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pause asks the backend to suspend a run.
func (c *Client) Pause(ctx context.Context, runID string) error {
	path := fmt.Sprintf("/api/workflows/%s/pause", runID)
	return c.command(ctx, "pause", http.MethodPost, path, nil, nil)
}

// Resume asks the backend to continue a paused run.
func (c *Client) Resume(ctx context.Context, runID string) error {
	path := fmt.Sprintf("/api/workflows/%s/resume", runID)
	return c.command(ctx, "resume", http.MethodPost, path, nil, nil)
}

// Abort asks the backend to stop a run. Callers mark local state aborted
// before dispatching; a failure here never rolls that back.
func (c *Client) Abort(ctx context.Context, runID string) error {
	path := fmt.Sprintf("/api/workflows/%s/abort", runID)
	return c.command(ctx, "abort", http.MethodPost, path, nil, nil)
}

// ClearApproval tells the backend the pending approval was resolved.
func (c *Client) ClearApproval(ctx context.Context, runID string) error {
	path := fmt.Sprintf("/api/workflows/%s/approval/clear", runID)
	return c.command(ctx, "clear_approval", http.MethodPost, path, nil, nil)
}

// Events opens the backend event stream. The returned channel delivers
// decoded envelopes until the stream breaks or ctx is canceled; the cancel
// func tears the connection down.
func (c *Client) Events(ctx context.Context) (<-chan events.Envelope, func(), error) {
	if !c.Configured() {
		return nil, nil, core.ErrValidation(core.CodeBackendMissing, "no backend configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		cancel()
		return nil, nil, core.ErrTransport("building stream request").WithCause(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// The stream outlives any request timeout.
	httpClient := &http.Client{Transport: c.http.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, transportError("opening event stream", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		return nil, nil, decodeAPIError(resp)
	}

	ch := make(chan events.Envelope, 256)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var dataLines []string

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if len(dataLines) == 0 {
					continue
				}
				payload := strings.Join(dataLines, "\n")
				dataLines = dataLines[:0]
				var env events.Envelope
				if err := json.Unmarshal([]byte(payload), &env); err != nil {
					c.logger.Warn("dropping undecodable stream payload", "error", err)
					continue
				}
				select {
				case ch <- env:
				case <-ctx.Done():
					return
				}
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.logger.Warn("event stream read failed", "error", err)
		}
	}()

	return ch, cancel, nil
}

// command sends one request and maps failures onto the domain error
// taxonomy, tagging them with the issuing command.
func (c *Client) command(ctx context.Context, name, method, path string, body, out interface{}) error {
	if !c.Configured() {
		return core.ErrValidation(core.CodeBackendMissing, "no backend configured")
	}

	err := c.doJSON(ctx, method, path, body, out)
	if err == nil {
		return nil
	}
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		domErr.WithDetail("command", name)
	}
	c.logger.Warn("backend command failed", "command", name, "error", err)
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return core.ErrValidation(core.CodeCommandRejected, "encoding request body").WithCause(err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return core.ErrTransport("building request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// transportError classifies connection-level failures.
func transportError(op string, err error) *core.DomainError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrTimeout(op + " timed out").WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout(op + " timed out").WithCause(err)
	}
	return core.ErrTransport(op + " failed").WithCause(err)
}

// decodeAPIError maps a non-2xx backend response onto the domain taxonomy.
func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error string `json:"error"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	message := payload.Error
	if message == "" {
		message = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.ErrAuth(message)
	case resp.StatusCode == http.StatusNotFound:
		return &core.DomainError{
			Category: core.ErrCatNotFound,
			Code:     core.CodeNotFound,
			Message:  message,
		}
	case resp.StatusCode == http.StatusConflict:
		return core.ErrState(core.CodeInvalidTransition, message)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return core.ErrValidation(core.CodeCommandRejected, message)
	case resp.StatusCode == http.StatusTooManyRequests:
		return core.ErrRateLimit(message)
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return core.ErrTimeout(message)
	case resp.StatusCode >= 500:
		return core.ErrTransport(message)
	default:
		return core.ErrCommand("", message)
	}
}

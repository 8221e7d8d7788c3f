package tui

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/engine"
)

// StreamEvent is one SSE frame from the service, decoded lazily: Data stays
// raw until the update loop knows the type.
type StreamEvent struct {
	Type string
	Data json.RawMessage
}

// Client talks to the storyline service API on behalf of the dashboard.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a dashboard client for the given service address.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchDefault returns the snapshot of the default run.
func (c *Client) FetchDefault(ctx context.Context) (*engine.Snapshot, error) {
	return c.fetchSnapshot(ctx, c.baseURL+"/api/v1/runs/default")
}

// FetchRun returns the snapshot of one run.
func (c *Client) FetchRun(ctx context.Context, runID string) (*engine.Snapshot, error) {
	return c.fetchSnapshot(ctx, c.baseURL+"/api/v1/runs/"+runID)
}

// ListRuns returns snapshots of every tracked run.
func (c *Client) ListRuns(ctx context.Context) ([]engine.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/runs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, core.ErrTransport("listing runs").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeServiceError(resp)
	}

	var snaps []engine.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return nil, core.ErrTransport("decoding run list").WithCause(err)
	}
	return snaps, nil
}

func (c *Client) fetchSnapshot(ctx context.Context, url string) (*engine.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, core.ErrTransport("fetching run snapshot").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeServiceError(resp)
	}

	var snap engine.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, core.ErrTransport("decoding run snapshot").WithCause(err)
	}
	return &snap, nil
}

// Pause suspends the run.
func (c *Client) Pause(ctx context.Context, runID string) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/runs/%s/commands/pause", runID), nil)
}

// Resume continues the run.
func (c *Client) Resume(ctx context.Context, runID string) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/runs/%s/commands/resume", runID), nil)
}

// Abort stops the run.
func (c *Client) Abort(ctx context.Context, runID, reason string) error {
	var body interface{}
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	return c.post(ctx, fmt.Sprintf("/api/v1/runs/%s/commands/abort", runID), body)
}

// Reset restores the run to its initial state.
func (c *Client) Reset(ctx context.Context, runID string) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/runs/%s/reset", runID), nil)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return core.ErrTransport("sending command").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeServiceError(resp)
	}
	return nil
}

// Stream opens the service SSE feed, optionally narrowed to one run. The
// returned channel closes when the stream ends; cancel tears it down.
func (c *Client) Stream(ctx context.Context, runID string) (<-chan StreamEvent, func(), error) {
	url := c.baseURL + "/api/v1/events"
	if runID != "" {
		url += "?run=" + runID
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the client's request timeout on purpose.
	streamClient := &http.Client{Timeout: 0}
	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, core.ErrTransport("opening event stream").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		err := decodeServiceError(resp)
		resp.Body.Close()
		cancel()
		return nil, nil, err
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var eventType string
		var data []string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(line[len("event:"):])
			case strings.HasPrefix(line, "data:"):
				data = append(data, strings.TrimSpace(line[len("data:"):]))
			case line == "":
				if eventType != "" {
					ev := StreamEvent{
						Type: eventType,
						Data: json.RawMessage(strings.Join(data, "\n")),
					}
					select {
					case ch <- ev:
					case <-streamCtx.Done():
						return
					}
				}
				eventType = ""
				data = nil
			}
		}
	}()

	return ch, cancel, nil
}

// decodeServiceError converts a non-2xx service response into a DomainError.
func decodeServiceError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	message := payload.Error
	if message == "" {
		message = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &core.DomainError{
			Category: core.ErrCatNotFound,
			Code:     core.CodeNotFound,
			Message:  message,
		}
	case http.StatusConflict:
		return core.ErrState(core.CodeInvalidTransition, message)
	case http.StatusUnprocessableEntity:
		return core.ErrValidation(core.CodeMalformedEvent, message)
	default:
		return core.ErrTransport(message)
	}
}

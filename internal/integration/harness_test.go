package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storyline-ai/storyline/internal/api"
	"github.com/storyline-ai/storyline/internal/backend"
	"github.com/storyline-ai/storyline/internal/engine"
	"github.com/storyline-ai/storyline/internal/events"
	"github.com/storyline-ai/storyline/internal/logging"
	"github.com/storyline-ai/storyline/internal/testutil"
)

// harness wires a full server around an in-memory registry, the same way
// serve does. With an upstream fake attached it also runs the event feed.
type harness struct {
	ts       *httptest.Server
	bus      *events.EventBus
	registry *engine.Registry
	upstream *testutil.FakeWorkflowService
	client   *http.Client
}

// newStandaloneHarness builds a server with no backend configured. Commands
// apply locally and events arrive through the ingest endpoint.
func newStandaloneHarness(t *testing.T, opts engine.Options) *harness {
	t.Helper()

	bus := events.New(64)
	registry := engine.NewRegistry(bus, logging.NewNop(), opts)
	srv := api.NewServer(registry, bus, api.WithLogger(logging.NewNop()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		bus.Close()
	})

	return &harness{
		ts:       ts,
		bus:      bus,
		registry: registry,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// newUpstreamHarness builds a server wired to a fake workflow service with
// the event feed running. It returns once the feed has subscribed to the
// fake's stream, so emitted envelopes cannot race the subscription.
func newUpstreamHarness(t *testing.T, opts engine.Options) *harness {
	t.Helper()

	upstream := testutil.NewFakeWorkflowService(t)

	bus := events.New(64)
	registry := engine.NewRegistry(bus, logging.NewNop(), opts)
	client := backend.NewClient(backend.Config{
		BaseURL: upstream.URL(),
		Timeout: 5 * time.Second,
	}, logging.NewNop())
	srv := api.NewServer(registry, bus,
		api.WithLogger(logging.NewNop()),
		api.WithBackend(client),
	)
	ts := httptest.NewServer(srv.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	feed := backend.NewFeed(client, registry, bus, logging.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = feed.Run(ctx)
	}()
	// Cleanups run LIFO: stop the feed and the server before the fake
	// upstream shuts down.
	t.Cleanup(func() {
		cancel()
		<-done
		ts.Close()
		bus.Close()
	})

	upstream.WaitForStream(t, 5*time.Second)

	return &harness{
		ts:       ts,
		bus:      bus,
		registry: registry,
		upstream: upstream,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// postJSON posts body to path and decodes the response into out when out is
// non-nil. It returns the response status code.
func (h *harness) postJSON(t *testing.T, path string, body, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body for POST %s: %v", path, err)
		}
	}

	resp, err := h.client.Post(h.ts.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response of POST %s: %v", path, err)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decoding response of POST %s: %v\nbody: %s", path, err, data)
		}
	}
	return resp.StatusCode
}

// getJSON fetches path and decodes the response into out when out is
// non-nil. It returns the response status code.
func (h *harness) getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()

	resp, err := h.client.Get(h.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response of GET %s: %v", path, err)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decoding response of GET %s: %v\nbody: %s", path, err, data)
		}
	}
	return resp.StatusCode
}

// ingest pushes one wire envelope into a run and requires it accepted.
func (h *harness) ingest(t *testing.T, runID string, env events.Envelope) {
	t.Helper()

	if status := h.postJSON(t, "/api/v1/runs/"+runID+"/events", env, nil); status != http.StatusAccepted {
		t.Fatalf("ingest into %s: expected status 202, got %d", runID, status)
	}
}

// snapshot fetches the current snapshot of one run.
func (h *harness) snapshot(t *testing.T, runID string) engine.Snapshot {
	t.Helper()

	var snap engine.Snapshot
	if status := h.getJSON(t, "/api/v1/runs/"+runID, &snap); status != http.StatusOK {
		t.Fatalf("snapshot of %s: expected status 200, got %d", runID, status)
	}
	return snap
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// Package testutil provides shared test doubles and golden-file helpers.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/storyline-ai/storyline/internal/events"
)

// Call records one command the fake workflow service received.
type Call struct {
	Command string
	RunID   string
	Body    map[string]interface{}
}

type failure struct {
	status  int
	message string
}

// FakeWorkflowService stands in for the upstream workflow service: it
// acks commands, records what it was asked, and pushes envelopes to
// every connected event stream subscriber.
type FakeWorkflowService struct {
	mu        sync.Mutex
	srv       *httptest.Server
	calls     []Call
	failures  map[string]failure
	nextRunID string
	runSeq    int
	streams   map[chan events.Envelope]struct{}
}

// NewFakeWorkflowService starts the fake and registers its shutdown as
// test cleanup.
func NewFakeWorkflowService(t *testing.T) *FakeWorkflowService {
	t.Helper()
	f := &FakeWorkflowService{
		failures: make(map[string]failure),
		streams:  make(map[chan events.Envelope]struct{}),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

// URL returns the fake's base URL.
func (f *FakeWorkflowService) URL() string { return f.srv.URL }

// Close tears the server down, disconnecting open event streams first so
// the shutdown does not wait on them.
func (f *FakeWorkflowService) Close() {
	f.srv.CloseClientConnections()
	f.srv.Close()
}

// SetNextRunID pins the run id the next start or step ack returns.
func (f *FakeWorkflowService) SetNextRunID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRunID = id
}

// FailWith makes a command fail with the given HTTP status until
// ClearFailure re-arms it.
func (f *FakeWorkflowService) FailWith(command string, status int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[command] = failure{status: status, message: message}
}

// ClearFailure lets a command succeed again.
func (f *FakeWorkflowService) ClearFailure(command string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, command)
}

// Emit broadcasts an envelope to every connected event stream. Streams
// that fell behind are skipped rather than blocked on.
func (f *FakeWorkflowService) Emit(env events.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.streams {
		select {
		case ch <- env:
		default:
		}
	}
}

// Calls returns the recorded calls for a command, oldest first.
func (f *FakeWorkflowService) Calls(command string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Command == command {
			out = append(out, c)
		}
	}
	return out
}

// StreamCount reports how many event stream subscribers are connected.
func (f *FakeWorkflowService) StreamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

// WaitForStream blocks until at least one event stream subscriber is
// connected, so emitted envelopes cannot race the subscription.
func (f *FakeWorkflowService) WaitForStream(t *testing.T, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.StreamCount() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no event stream subscriber within %v", timeout)
}

// DropStreams severs all open connections, simulating an upstream outage.
// The server keeps running, so clients can reconnect.
func (f *FakeWorkflowService) DropStreams() {
	f.srv.CloseClientConnections()
}

func (f *FakeWorkflowService) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/health":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	case "/api/events":
		f.serveStream(w, r)
		return
	case "/api/workflows/start":
		f.serveCommand(w, "start", "", r)
		return
	case "/api/workflows/step":
		f.serveCommand(w, "step", "", r)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/workflows/")
	if rest == r.URL.Path {
		http.NotFound(w, r)
		return
	}
	runID, action, ok := strings.Cut(rest, "/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	command := action
	if action == "approval/clear" {
		command = "clear_approval"
	}
	switch command {
	case "pause", "resume", "abort", "clear_approval":
		f.serveCommand(w, command, runID, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeWorkflowService) serveCommand(w http.ResponseWriter, command, runID string, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, Call{Command: command, RunID: runID, Body: body})
	fail, failing := f.failures[command]
	ack := map[string]interface{}{"ok": true, "message": command + " accepted"}
	if command == "start" || command == "step" {
		id := f.nextRunID
		if id == "" {
			f.runSeq++
			id = fmt.Sprintf("run-%04d", f.runSeq)
		}
		f.nextRunID = ""
		ack["run_id"] = id
	}
	f.mu.Unlock()

	if failing {
		writeJSON(w, fail.status, map[string]string{"error": fail.message})
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (f *FakeWorkflowService) serveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan events.Envelope, 64)
	f.mu.Lock()
	f.streams[ch] = struct{}{}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.streams, ch)
		f.mu.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case env := <-ch:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

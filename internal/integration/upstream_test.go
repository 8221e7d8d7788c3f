package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/storyline-ai/storyline/internal/api"
	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/engine"
	"github.com/storyline-ai/storyline/internal/events"
)

// TestCommands_DispatchUpstreamFirst verifies that run commands reach the
// workflow service before local state advances, and that the backend's run
// id wins over anything local.
func TestCommands_DispatchUpstreamFirst(t *testing.T) {
	t.Parallel()

	h := newUpstreamHarness(t, engine.Options{})
	h.upstream.SetNextRunID("run-42")

	// Step 1: start goes upstream and adopts the acked run id.
	var started api.CommandResponse
	status := h.postJSON(t, "/api/v1/commands/start",
		map[string]string{"story": "post_11"}, &started)
	if status != http.StatusCreated {
		t.Fatalf("start: expected status 201, got %d", status)
	}
	if started.RunID != "run-42" {
		t.Fatalf("start: expected the acked run id run-42, got %q", started.RunID)
	}

	calls := h.upstream.Calls("start")
	if len(calls) != 1 {
		t.Fatalf("expected 1 upstream start call, got %d", len(calls))
	}
	if got := calls[0].Body["story"]; got != "post_11" {
		t.Errorf("expected the story in the upstream payload, got %v", got)
	}

	snap := h.snapshot(t, "run-42")
	if snap.Run.Status != core.StatusRunning {
		t.Fatalf("expected running after acked start, got %s", snap.Run.Status)
	}

	// Step 2: pause and resume address the upstream run.
	if status := h.postJSON(t, "/api/v1/runs/run-42/commands/pause", nil, nil); status != http.StatusOK {
		t.Fatalf("pause: expected status 200, got %d", status)
	}
	pauses := h.upstream.Calls("pause")
	if len(pauses) != 1 || pauses[0].RunID != "run-42" {
		t.Fatalf("expected 1 upstream pause for run-42, got %+v", pauses)
	}
	if status := h.postJSON(t, "/api/v1/runs/run-42/commands/resume", nil, nil); status != http.StatusOK {
		t.Fatalf("resume: expected status 200, got %d", status)
	}
	if got := len(h.upstream.Calls("resume")); got != 1 {
		t.Fatalf("expected 1 upstream resume, got %d", got)
	}

	snap = h.snapshot(t, "run-42")
	if snap.Run.Status != core.StatusRunning {
		t.Errorf("expected running after resume, got %s", snap.Run.Status)
	}
}

// TestCommands_RejectedUpstreamLeavesLocalState verifies that a command the
// workflow service refuses does not advance local state.
func TestCommands_RejectedUpstreamLeavesLocalState(t *testing.T) {
	t.Parallel()

	h := newUpstreamHarness(t, engine.Options{})
	h.upstream.SetNextRunID("run-51")

	status := h.postJSON(t, "/api/v1/commands/start",
		map[string]string{"story": "post_12"}, nil)
	if status != http.StatusCreated {
		t.Fatalf("start: expected status 201, got %d", status)
	}

	h.upstream.FailWith("pause", http.StatusConflict, "cannot pause in state draft")

	status = h.postJSON(t, "/api/v1/runs/run-51/commands/pause", nil, nil)
	if status != http.StatusConflict {
		t.Fatalf("rejected pause: expected status 409, got %d", status)
	}

	snap := h.snapshot(t, "run-51")
	if snap.Run.Status != core.StatusRunning || snap.Run.Paused {
		t.Errorf("rejected pause must leave the run running, got %s", snap.Run.Status)
	}
}

// TestFeed_DeliversUpstreamEvents pushes a whole run through the event
// stream and verifies the tracked state, including an externally started run.
func TestFeed_DeliversUpstreamEvents(t *testing.T) {
	t.Parallel()

	h := newUpstreamHarness(t, engine.Options{})

	h.upstream.Emit(events.Envelope{
		Type: events.WireStarted, RunID: "run-77", Details: "post_13", Seq: 1,
	})
	waitFor(t, 5*time.Second, func() bool {
		tracker, err := h.registry.Get("run-77")
		return err == nil && tracker.Snapshot().Run.Status == core.StatusRunning
	}, "run-77 tracked as running")

	finalPost := "The final post."
	h.upstream.Emit(events.Envelope{
		Type: events.WireStateEnter, RunID: "run-77", State: "draft", Message: "drafting", Seq: 2,
	})
	h.upstream.Emit(events.Envelope{
		Type: events.WireMetrics, RunID: "run-77", State: "draft", Message: "usage", Seq: 3,
		Metrics: map[string]core.ModelMetrics{
			"claude": {Tokens: 120, TokensInput: 80, TokensOutput: 40, CostUSD: 0.5},
		},
	})
	h.upstream.Emit(events.Envelope{
		Type: events.WireOutput, RunID: "run-77", Message: "final post ready", Seq: 4,
		Outputs: &core.OutputsPatch{FinalPost: &finalPost},
	})
	h.upstream.Emit(events.Envelope{
		Type: events.WireComplete, RunID: "run-77", Message: "run complete", Seq: 5,
	})

	waitFor(t, 5*time.Second, func() bool {
		tracker, err := h.registry.Get("run-77")
		return err == nil && tracker.Snapshot().Run.Status == core.StatusCompleted
	}, "run-77 completed")

	snap := h.snapshot(t, "run-77")
	if snap.Run.Story != "post_13" {
		t.Errorf("expected story from the started event, got %q", snap.Run.Story)
	}
	if snap.Run.Tokens != 120 || snap.Run.CostUSD != 0.5 {
		t.Errorf("expected tokens 120 cost 0.5, got %d %v", snap.Run.Tokens, snap.Run.CostUSD)
	}
	if snap.Run.CurrentState != "draft" {
		t.Errorf("expected current state draft, got %q", snap.Run.CurrentState)
	}
	if snap.Run.Outputs.FinalPost != "The final post." {
		t.Errorf("expected final post merged, got %q", snap.Run.Outputs.FinalPost)
	}
	if snap.LastSeq != 5 {
		t.Errorf("expected last_seq 5, got %d", snap.LastSeq)
	}
	if len(snap.Log) != 5 {
		t.Errorf("expected 5 log entries, got %d", len(snap.Log))
	}
}

// TestAbort_SurvivesUpstreamOutage verifies the optimistic abort: local
// state flips even when the workflow service fails, and the error is
// reported in the response.
func TestAbort_SurvivesUpstreamOutage(t *testing.T) {
	t.Parallel()

	h := newUpstreamHarness(t, engine.Options{})
	h.upstream.SetNextRunID("run-abort")

	status := h.postJSON(t, "/api/v1/commands/start",
		map[string]string{"story": "post_14"}, nil)
	if status != http.StatusCreated {
		t.Fatalf("start: expected status 201, got %d", status)
	}

	h.upstream.FailWith("abort", http.StatusInternalServerError, "workflow service exploded")

	var resp api.CommandResponse
	status = h.postJSON(t, "/api/v1/runs/run-abort/commands/abort",
		map[string]string{"reason": "operator stop"}, &resp)
	if status != http.StatusOK {
		t.Fatalf("abort: expected status 200 despite the outage, got %d", status)
	}
	if !resp.OK || resp.Error == "" {
		t.Fatalf("expected ok with the upstream error reported, got %+v", resp)
	}
	if resp.Run.Run.Status != core.StatusAborted {
		t.Fatalf("expected local abort, got %s", resp.Run.Run.Status)
	}
	if got := len(h.upstream.Calls("abort")); got != 1 {
		t.Errorf("expected the abort to reach upstream once, got %d calls", got)
	}

	// Once the outage clears, repeating the abort succeeds without error.
	// Decode into a fresh value: omitempty fields absent from the second
	// response would otherwise retain the first response's values.
	h.upstream.ClearFailure("abort")
	resp = api.CommandResponse{}
	status = h.postJSON(t, "/api/v1/runs/run-abort/commands/abort", nil, &resp)
	if status != http.StatusOK || resp.Error != "" {
		t.Fatalf("second abort: expected clean 200, got %d %+v", status, resp)
	}
}

// TestFeed_RecoversAfterStreamDrop severs the event stream and verifies the
// feed reports the break and reconnects on its own.
func TestFeed_RecoversAfterStreamDrop(t *testing.T) {
	t.Parallel()

	h := newUpstreamHarness(t, engine.Options{})

	transportErrs := h.bus.Subscribe(events.TypeTransportError)
	h.upstream.DropStreams()

	select {
	case evt := <-transportErrs:
		if _, ok := evt.(events.TransportErrorEvent); !ok {
			t.Fatalf("expected a transport error event, got %T", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no transport error published after the stream drop")
	}

	// Wait until the dead stream is gone so the next positive count really
	// is the reconnect. The feed retries with backoff, first after a second.
	waitFor(t, 5*time.Second, func() bool { return h.upstream.StreamCount() == 0 },
		"severed stream unregistered")
	h.upstream.WaitForStream(t, 15*time.Second)

	h.upstream.Emit(events.Envelope{
		Type: events.WireStarted, RunID: "run-88", Details: "post_15", Seq: 1,
	})
	waitFor(t, 5*time.Second, func() bool {
		tracker, err := h.registry.Get("run-88")
		return err == nil && tracker.Snapshot().Run.Status == core.StatusRunning
	}, "run-88 tracked after the reconnect")
}

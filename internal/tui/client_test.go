package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storyline-ai/storyline/internal/core"
)

func TestClient_FetchDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/default" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/api/v1/runs/default")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"run":{"run_id":"run-1","status":"running","story":"post_03"},"log":[],"suppressed":0,"last_seq":4}`)
	}))
	defer server.Close()

	snap, err := NewClient(server.URL).FetchDefault(context.Background())
	if err != nil {
		t.Fatalf("FetchDefault: %v", err)
	}
	if snap.Run.ID != "run-1" {
		t.Errorf("run id = %q, want %q", snap.Run.ID, "run-1")
	}
	if snap.Run.Status != core.StatusRunning {
		t.Errorf("status = %q, want %q", snap.Run.Status, core.StatusRunning)
	}
	if snap.LastSeq != 4 {
		t.Errorf("last_seq = %d, want 4", snap.LastSeq)
	}
}

func TestClient_FetchRun_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"run not found: nope"}`)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).FetchRun(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("category = %v, want not_found", core.GetCategory(err))
	}
}

func TestClient_PausePostsCommandPath(t *testing.T) {
	var gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	if err := NewClient(server.URL).Pause(context.Background(), "run-1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if gotPath != "/api/v1/runs/run-1/commands/pause" {
		t.Errorf("path = %q, want %q", gotPath, "/api/v1/runs/run-1/commands/pause")
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
}

func TestClient_PauseConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"cannot pause an idle run"}`)
	}))
	defer server.Close()

	err := NewClient(server.URL).Pause(context.Background(), "run-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !core.IsCategory(err, core.ErrCatState) {
		t.Errorf("category = %v, want state", core.GetCategory(err))
	}
}

func TestClient_AbortSendsReason(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	if err := NewClient(server.URL).Abort(context.Background(), "run-1", "operator stop"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if got["reason"] != "operator stop" {
		t.Errorf("reason = %q, want %q", got["reason"], "operator stop")
	}
}

func TestClient_StreamDeliversFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("run"); got != "run-1" {
			t.Errorf("run query = %q, want %q", got, "run-1")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: run_updated\ndata: {\"run_id\":\"run-1\",\"status\":\"running\"}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ch, cancel, err := NewClient(server.URL).Stream(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer cancel()

	var frames []StreamEvent
	timeout := time.After(2 * time.Second)
	for len(frames) < 2 {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("stream closed early")
			}
			frames = append(frames, ev)
		case <-timeout:
			t.Fatalf("timed out with %d frames", len(frames))
		}
	}

	if frames[0].Type != "connected" {
		t.Errorf("frames[0].Type = %q, want connected", frames[0].Type)
	}
	if frames[1].Type != "run_updated" {
		t.Errorf("frames[1].Type = %q, want run_updated", frames[1].Type)
	}

	var payload struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(frames[1].Data, &payload); err != nil {
		t.Fatalf("decoding frame data: %v", err)
	}
	if payload.RunID != "run-1" {
		t.Errorf("run_id = %q, want run-1", payload.RunID)
	}
}

func TestClient_StreamRejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"no such run"}`)
	}))
	defer server.Close()

	_, _, err := NewClient(server.URL).Stream(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("category = %v, want not_found", core.GetCategory(err))
	}
}

func TestClient_ListRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"run":{"run_id":"run-1","status":"running"}},{"run":{"run_id":"run-2","status":"idle"}}]`)
	}))
	defer server.Close()

	snaps, err := NewClient(server.URL).ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len(snaps) = %d, want 2", len(snaps))
	}
	if snaps[1].Run.ID != "run-2" {
		t.Errorf("snaps[1] id = %q, want run-2", snaps[1].Run.ID)
	}
}

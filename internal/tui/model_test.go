package tui

import (
	"encoding/json"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/engine"
	"github.com/storyline-ai/storyline/internal/eventlog"
)

func testSnapshot() *engine.Snapshot {
	run := core.NewRun()
	_ = run.Start("run-1", "post_03", core.ModeWorkflow)
	_ = run.SetCurrentState("draft")
	return &engine.Snapshot{
		Run: run.Clone(),
		Log: []eventlog.Entry{
			{ID: 1, Timestamp: "2026-02-11T10:00:00.000Z", Type: "started", Message: "run started"},
			{ID: 2, Timestamp: "2026-02-11T10:00:01.000Z", Type: "state_enter", State: "draft", Message: "entering draft"},
		},
	}
}

func readyModel(t *testing.T) Model {
	t.Helper()
	m := New(NewClient("http://127.0.0.1:0"), "run-1")

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = updated.(Model)

	updated, _ = m.Update(SnapshotMsg{Snapshot: testSnapshot()})
	return updated.(Model)
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestModel_SnapshotMsg(t *testing.T) {
	m := readyModel(t)

	if m.snap == nil {
		t.Fatal("snapshot not stored")
	}
	if m.snap.Run.ID != "run-1" {
		t.Errorf("run id = %q, want %q", m.snap.Run.ID, "run-1")
	}

	view := m.View()
	if !strings.Contains(view, "post_03") {
		t.Errorf("view missing story: %s", view)
	}
	if !strings.Contains(view, "running") {
		t.Errorf("view missing status badge: %s", view)
	}
}

func TestModel_RunUpdatedStreamEvent(t *testing.T) {
	m := readyModel(t)

	run := m.snap.Run
	run.CurrentState = "review"
	data, _ := json.Marshal(run)

	m.applyStreamEvent(StreamEvent{Type: "run_updated", Data: data})

	if m.snap.Run.CurrentState != "review" {
		t.Errorf("current_state = %q, want %q", m.snap.Run.CurrentState, "review")
	}
}

func TestModel_RunUpdatedIgnoresOtherRuns(t *testing.T) {
	m := readyModel(t)

	other := core.NewRun()
	_ = other.Start("run-9", "other", core.ModeWorkflow)
	data, _ := json.Marshal(other.Clone())

	m.applyStreamEvent(StreamEvent{Type: "run_updated", Data: data})

	if m.snap.Run.ID != "run-1" {
		t.Errorf("run id = %q, want run-1 untouched", m.snap.Run.ID)
	}
}

func TestModel_LogAppendedSkipsStaleEntries(t *testing.T) {
	m := readyModel(t)

	stale, _ := json.Marshal(map[string]interface{}{
		"run_id": "run-1",
		"entry":  eventlog.Entry{ID: 2, Type: "state_enter", Message: "duplicate"},
	})
	m.applyStreamEvent(StreamEvent{Type: "log_appended", Data: stale})
	if got := len(m.snap.Log); got != 2 {
		t.Fatalf("len(log) after stale frame = %d, want 2", got)
	}

	fresh, _ := json.Marshal(map[string]interface{}{
		"run_id": "run-1",
		"entry":  eventlog.Entry{ID: 3, Type: "metrics", Message: "usage"},
	})
	m.applyStreamEvent(StreamEvent{Type: "log_appended", Data: fresh})
	if got := len(m.snap.Log); got != 3 {
		t.Fatalf("len(log) after fresh frame = %d, want 3", got)
	}
	if m.snap.Log[2].ID != 3 {
		t.Errorf("appended id = %d, want 3", m.snap.Log[2].ID)
	}
}

func TestModel_TransportErrorBanner(t *testing.T) {
	m := readyModel(t)

	data, _ := json.Marshal(map[string]interface{}{
		"message": "stream broke", "attempt": 2, "retry_in": "2s",
	})
	m.applyStreamEvent(StreamEvent{Type: "transport_error", Data: data})

	if m.banner == "" {
		t.Fatal("banner not set")
	}
	if !strings.Contains(m.View(), "stream broke") {
		t.Error("view missing transport banner")
	}
}

func TestModel_BannerClearsOnRunUpdate(t *testing.T) {
	m := readyModel(t)
	m.banner = "upstream stream lost"

	data, _ := json.Marshal(m.snap.Run)
	m.applyStreamEvent(StreamEvent{Type: "run_updated", Data: data})

	if m.banner != "" {
		t.Errorf("banner = %q, want cleared", m.banner)
	}
}

func TestModel_CommandFailedStreamEvent(t *testing.T) {
	m := readyModel(t)

	data, _ := json.Marshal(map[string]string{"command": "abort", "error": "backend down"})
	m.applyStreamEvent(StreamEvent{Type: "command_failed", Data: data})

	if !strings.Contains(m.lastError, "abort") {
		t.Errorf("lastError = %q, want abort failure", m.lastError)
	}
}

func TestModel_ApprovalBanner(t *testing.T) {
	m := readyModel(t)

	data, _ := json.Marshal(map[string]string{
		"run_id": "run-1", "content": "the draft", "prompt": "approve the draft?",
	})
	m.applyStreamEvent(StreamEvent{Type: "approval_requested", Data: data})

	if !m.snap.Run.Approval.Awaiting {
		t.Fatal("approval not pending")
	}
	if !strings.Contains(m.View(), "approve the draft?") {
		t.Error("view missing approval prompt")
	}
}

func TestModel_PreviewToggle(t *testing.T) {
	m := readyModel(t)
	m.snap.Run.Outputs.FinalPost = "# Final\n\nHello world."

	updated, _ := m.Update(keyMsg("v"))
	m = updated.(Model)

	if !m.showPreview {
		t.Fatal("preview not enabled")
	}
	if !strings.Contains(m.View(), "Hello world") {
		t.Error("view missing rendered final post")
	}

	updated, _ = m.Update(keyMsg("v"))
	m = updated.(Model)
	if m.showPreview {
		t.Error("preview still enabled after second toggle")
	}
}

func TestModel_FilterFlow(t *testing.T) {
	m := readyModel(t)

	updated, _ := m.Update(keyMsg("/"))
	m = updated.(Model)
	if !m.filtering {
		t.Fatal("filter mode not entered")
	}

	updated, _ = m.Update(keyMsg("draft"))
	m = updated.(Model)

	updated, _ = m.Update(keyMsg("enter"))
	m = updated.(Model)
	if m.filtering {
		t.Error("filter mode still active after enter")
	}
	if m.filterQuery != "draft" {
		t.Errorf("filterQuery = %q, want %q", m.filterQuery, "draft")
	}

	updated, _ = m.Update(keyMsg("/"))
	m = updated.(Model)
	updated, _ = m.Update(keyMsg("esc"))
	m = updated.(Model)
	if m.filterQuery != "" {
		t.Errorf("filterQuery = %q, want cleared after esc", m.filterQuery)
	}
}

func TestModel_CycleRuns(t *testing.T) {
	m := readyModel(t)

	updated, _ := m.Update(RunListMsg{IDs: []string{"run-1", "run-2"}})
	m = updated.(Model)

	updated, _ = m.Update(keyMsg("tab"))
	m = updated.(Model)

	if m.runID != "run-2" {
		t.Errorf("runID = %q, want %q", m.runID, "run-2")
	}
	if m.snap != nil {
		t.Error("stale snapshot kept after run switch")
	}
	if !m.connecting {
		t.Error("not reconnecting after run switch")
	}
}

func TestModel_QuitKey(t *testing.T) {
	m := readyModel(t)

	_, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("no command returned")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestModel_CopyWithoutFinalPost(t *testing.T) {
	m := readyModel(t)

	updated, cmd := m.Update(keyMsg("c"))
	m = updated.(Model)

	if cmd != nil {
		t.Error("copy dispatched with no final post")
	}
	if !strings.Contains(m.statusLine, "no final post") {
		t.Errorf("statusLine = %q, want no-final-post notice", m.statusLine)
	}
}

func TestFormatLogEntry(t *testing.T) {
	entry := eventlog.Entry{
		ID:        7,
		Timestamp: "2026-02-11T10:15:30.123Z",
		Type:      "state_enter",
		State:     "draft",
		Message:   "entering draft",
	}

	line := formatLogEntry(entry)

	if !strings.HasPrefix(line, "[10:15:30]") {
		t.Errorf("line = %q, want clock prefix", line)
	}
	if !strings.Contains(line, "state_enter") || !strings.Contains(line, "entering draft") {
		t.Errorf("line = %q, missing fields", line)
	}
}

func TestStatusBadge_KnownStatuses(t *testing.T) {
	for _, status := range []core.Status{
		core.StatusIdle, core.StatusRunning, core.StatusPaused,
		core.StatusCompleted, core.StatusAborted, core.StatusFailed,
	} {
		badge := statusBadge(status)
		if !strings.Contains(badge, string(status)) {
			t.Errorf("badge for %s does not contain the status name: %q", status, badge)
		}
	}
}

package engine

import (
	"testing"

	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/events"
	"github.com/storyline-ai/storyline/internal/logging"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	bus := events.New(100)
	t.Cleanup(bus.Close)
	return NewRegistry(bus, logging.NewNop(), Options{})
}

func TestRegistry_RoutesEventsByRunID(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Apply(events.Envelope{
		Type:    events.WireStarted,
		RunID:   "run-a",
		Details: "post_01",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Apply(events.Envelope{
		Type:    events.WireStarted,
		RunID:   "run-b",
		Details: "post_02",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != "run-a" || ids[1] != "run-b" {
		t.Fatalf("unexpected tracked runs: %v", ids)
	}

	ta, err := reg.Get("run-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap := ta.Snapshot(); snap.Run.Story != "post_01" {
		t.Fatalf("expected run-a story post_01, got %s", snap.Run.Story)
	}
}

func TestRegistry_GetMissingRun(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Get("run-x")
	if err == nil {
		t.Fatalf("expected error for unknown run")
	}
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("expected not_found category, got %s", core.GetCategory(err))
	}
}

func TestRegistry_EmptyRunIDFallsBackToDefault(t *testing.T) {
	reg := newTestRegistry(t)

	tr, err := reg.GetOrCreate("run-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Start("run-a", "post_01", core.ModeWorkflow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := reg.Apply(events.Envelope{
		Type:  events.WireStateEnter,
		State: "draft",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap := tr.Snapshot(); snap.Run.CurrentState != "draft" {
		t.Fatalf("expected event routed to default run, got state %q", snap.Run.CurrentState)
	}
}

func TestRegistry_EmptyRunIDWithoutDefaultIsDropped(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Apply(events.Envelope{Type: events.WireStateEnter, State: "draft"}); err != nil {
		t.Fatalf("events without a destination are dropped, not errors: %v", err)
	}
	if len(reg.IDs()) != 0 {
		t.Fatalf("expected no trackers created, got %v", reg.IDs())
	}
}

func TestRegistry_FirstRunBecomesDefault(t *testing.T) {
	reg := newTestRegistry(t)

	if _, err := reg.GetOrCreate("run-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.GetOrCreate("run-b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if reg.DefaultID() != "run-a" {
		t.Fatalf("expected first run as default, got %s", reg.DefaultID())
	}

	reg.SetDefault("run-b")
	if reg.DefaultID() != "run-b" {
		t.Fatalf("expected default switched to run-b, got %s", reg.DefaultID())
	}

	// Unknown ids do not change the default.
	reg.SetDefault("run-x")
	if reg.DefaultID() != "run-b" {
		t.Fatalf("expected default unchanged for unknown run, got %s", reg.DefaultID())
	}
}

func TestRegistry_RemovePromotesNewDefault(t *testing.T) {
	reg := newTestRegistry(t)

	if _, err := reg.GetOrCreate("run-b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.GetOrCreate("run-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reg.Remove("run-b")
	if reg.DefaultID() != "run-a" {
		t.Fatalf("expected remaining run promoted to default, got %q", reg.DefaultID())
	}

	reg.Remove("run-a")
	if reg.DefaultID() != "" {
		t.Fatalf("expected no default after removing all runs, got %q", reg.DefaultID())
	}
}

func TestRegistry_ListReturnsSnapshots(t *testing.T) {
	reg := newTestRegistry(t)

	for _, id := range []string{"run-b", "run-a"} {
		tr, err := reg.GetOrCreate(id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := tr.Start(id, "post_01", core.ModeWorkflow); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snaps := reg.List()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].Run.ID != "run-a" || snaps[1].Run.ID != "run-b" {
		t.Fatalf("expected snapshots sorted by run id, got %s, %s",
			snaps[0].Run.ID, snaps[1].Run.ID)
	}
}

func TestRegistry_GetOrCreateRejectsEmptyID(t *testing.T) {
	reg := newTestRegistry(t)

	if _, err := reg.GetOrCreate(""); err == nil {
		t.Fatalf("expected error for empty run id")
	}
}

func TestRegistry_NewRunIDIsUnique(t *testing.T) {
	reg := newTestRegistry(t)

	a, b := reg.NewRunID(), reg.NewRunID()
	if a == "" || a == b {
		t.Fatalf("expected distinct non-empty run ids, got %q and %q", a, b)
	}
}

package engine

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/events"
	"github.com/storyline-ai/storyline/internal/logging"
)

// Registry hands out per-run trackers. Trackers are created on demand as
// commands or feed events reference new run ids, so a stream may begin
// mid-run without prior setup.
type Registry struct {
	mu        sync.RWMutex
	trackers  map[string]*Tracker
	defaultID string
	bus       *events.EventBus
	logger    *logging.Logger
	opts      Options
}

// NewRegistry creates an empty registry.
func NewRegistry(bus *events.EventBus, logger *logging.Logger, opts Options) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		trackers: make(map[string]*Tracker),
		bus:      bus,
		logger:   logger,
		opts:     opts,
	}
}

// NewRunID mints a fresh run id for locally started runs.
func (r *Registry) NewRunID() string {
	return uuid.New().String()
}

// GetOrCreate returns the tracker for a run id, creating it when unseen.
// The first run observed becomes the default.
func (r *Registry) GetOrCreate(runID string) (*Tracker, error) {
	if runID == "" {
		return nil, core.ErrValidation(core.CodeEmptyRunID, "run id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.trackers[runID]; ok {
		return t, nil
	}
	t := NewTracker(r.bus, r.logger.WithRun(runID), r.opts)
	r.trackers[runID] = t
	if r.defaultID == "" {
		r.defaultID = runID
	}
	r.logger.Debug("tracking new run", "run_id", runID)
	return t, nil
}

// Get returns the tracker for a run id.
func (r *Registry) Get(runID string) (*Tracker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trackers[runID]
	if !ok {
		return nil, core.ErrNotFound("run", runID)
	}
	return t, nil
}

// Default returns the tracker commands address when no run id is given.
func (r *Registry) Default() (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trackers[r.defaultID]
	return t, ok
}

// DefaultID returns the id of the default run, or empty when none exists.
func (r *Registry) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// SetDefault makes a run the target of unaddressed commands.
func (r *Registry) SetDefault(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trackers[runID]; ok {
		r.defaultID = runID
	}
}

// Remove disposes a run's tracker. Removing the default picks a remaining
// run, if any, as the new default.
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.trackers, runID)
	if r.defaultID != runID {
		return
	}
	r.defaultID = ""
	ids := make([]string, 0, len(r.trackers))
	for id := range r.trackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		r.defaultID = ids[0]
	}
}

// IDs returns the tracked run ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.trackers))
	for id := range r.trackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns snapshots of all tracked runs, sorted by run id.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	ids := make([]string, 0, len(r.trackers))
	for id := range r.trackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		trackers = append(trackers, r.trackers[id])
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, t.Snapshot())
	}
	return out
}

// Apply routes a feed envelope to its run's tracker. Envelopes without a
// run id fall through to the default run so single-run backends keep
// working.
func (r *Registry) Apply(env events.Envelope) error {
	if err := env.Validate(); err != nil {
		r.logger.Warn("rejecting malformed event", "type", env.Type, "error", err)
		return err
	}

	if env.RunID == "" {
		t, ok := r.Default()
		if !ok {
			r.logger.Warn("dropping event with no run id and no default run",
				"type", env.Type)
			return nil
		}
		return t.Apply(env)
	}

	t, err := r.GetOrCreate(env.RunID)
	if err != nil {
		return err
	}
	return t.Apply(env)
}

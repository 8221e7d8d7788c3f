// Package engine reconciles the backend event stream into coherent run state.
// Each run gets a Tracker that validates, deduplicates and reduces events,
// feeds the bounded event log, and publishes snapshots onto the event bus.
package engine

import (
	"sync"
	"time"

	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/dedup"
	"github.com/storyline-ai/storyline/internal/eventlog"
	"github.com/storyline-ai/storyline/internal/events"
	"github.com/storyline-ai/storyline/internal/logging"
)

// Options configures a Tracker.
type Options struct {
	// DedupWindow is the duplicate suppression window.
	// Non-positive values fall back to dedup.DefaultWindow.
	DedupWindow time.Duration

	// LogCap bounds the event log. Non-positive values fall back to
	// eventlog.DefaultCap.
	LogCap int

	// ApprovalPolicy decides what happens when an approval request arrives
	// while one is already pending.
	ApprovalPolicy core.ApprovalPolicy
}

// Snapshot is a detached view of a tracked run, safe to hand across
// goroutines.
type Snapshot struct {
	Run        core.Run         `json:"run"`
	Log        []eventlog.Entry `json:"log"`
	Suppressed uint64           `json:"suppressed"`
	LastSeq    int64            `json:"last_seq"`
}

// Tracker owns the reconciled state of a single run. All mutation goes
// through its mutex; readers get clones.
type Tracker struct {
	mu      sync.Mutex
	run     *core.Run
	log     *eventlog.Log
	dedup   *dedup.Deduplicator
	bus     *events.EventBus
	logger  *logging.Logger
	policy  core.ApprovalPolicy
	lastSeq int64
}

// NewTracker creates a tracker with an idle run.
func NewTracker(bus *events.EventBus, logger *logging.Logger, opts Options) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{
		run:    core.NewRun(),
		log:    eventlog.New(opts.LogCap),
		dedup:  dedup.New(opts.DedupWindow),
		bus:    bus,
		logger: logger,
		policy: opts.ApprovalPolicy,
	}
}

// Apply validates, deduplicates and reduces one backend event.
// Suppressed duplicates vanish without touching the log or the run.
// Unknown event types are logged and dropped; they are not an error.
func (t *Tracker) Apply(env events.Envelope) error {
	if err := env.Validate(); err != nil {
		t.logger.Warn("rejecting malformed event", "type", env.Type, "error", err)
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.trackSeqLocked(env.Seq)

	if t.dedup.ShouldSuppress(env.Type, env.Message) {
		t.logger.Debug("suppressed duplicate event",
			"type", env.Type, "message", env.Message)
		return nil
	}

	wasTerminal := t.run.IsTerminal()

	switch env.Type {
	case events.WireStateEnter, events.WireTransition:
		if err := t.run.SetCurrentState(env.State); err != nil {
			t.logger.Warn("ignoring state change for inactive run",
				"state", env.State, "error", err)
		}

	case events.WireMetrics:
		t.run.ApplyMetrics(env.State, env.Metrics)

	case events.WireApprovalRequired:
		// Approval payload rides in details, the human prompt in message.
		t.run.RequestApproval(env.Details, env.Message, t.policy)

	case events.WireOutput:
		if env.Outputs != nil {
			t.run.MergeOutputs(*env.Outputs)
		}

	case events.WireError:
		_ = t.run.Fail(env.Message)

	case events.WireComplete:
		if err := t.run.Complete(); err != nil {
			t.logger.Warn("ignoring completion for inactive run", "error", err)
		}

	case events.WireStarted:
		t.confirmStartedLocked(env)

	case events.WirePaused:
		if t.run.Status != core.StatusPaused {
			if err := t.run.Pause(); err != nil {
				t.logger.Warn("ignoring pause confirmation", "error", err)
			}
		}

	case events.WireResumed:
		if t.run.Status == core.StatusPaused {
			_ = t.run.Resume()
		}

	case events.WireAborted:
		if t.run.Status != core.StatusAborted {
			_ = t.run.Abort(env.Message)
		}

	case events.WireLog:
		// Display-only activity, no lifecycle effect.

	default:
		t.logger.Warn("dropping event of unknown type", "type", env.Type)
		return nil
	}

	entry := t.log.Append(env.Type, env.State, env.Message, env.Details)
	t.announceLocked(entry, wasTerminal)

	if env.Type == events.WireApprovalRequired && t.bus != nil {
		t.bus.Publish(events.NewApprovalRequestedEvent(
			t.run.ID, t.run.Approval.Content, t.run.Approval.Prompt))
	}
	return nil
}

// confirmStartedLocked reconciles a backend start notification. When the run
// already runs under the same id the event is a confirmation of our own
// command; anything else is an externally started run whose story arrives
// in the event details.
func (t *Tracker) confirmStartedLocked(env events.Envelope) {
	if t.run.Active() && t.run.ID == env.RunID {
		return
	}
	if err := t.run.Start(env.RunID, env.Details, core.ModeWorkflow); err != nil {
		t.logger.Warn("ignoring start notification",
			"run_id", env.RunID, "error", err)
	}
}

// Start begins a fresh run. Previous run data is dropped, the event log is
// cleared, and the id sequence keeps counting.
func (t *Tracker) Start(runID, story string, mode core.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.run.Start(runID, story, mode); err != nil {
		return err
	}
	t.log.Clear()
	t.lastSeq = 0
	entry := t.log.Append(events.WireStarted, "", "run started", story)
	t.announceLocked(entry, false)
	return nil
}

// Step begins a single-step run pinned to one workflow state.
func (t *Tracker) Step(runID, story, step string) error {
	if step == "" {
		return core.ErrValidation(core.CodeEmptyStep, "step must not be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.run.Start(runID, story, core.ModeStep); err != nil {
		return err
	}
	if err := t.run.SetCurrentState(step); err != nil {
		return err
	}
	t.log.Clear()
	t.lastSeq = 0
	entry := t.log.Append(events.WireStarted, step, "step started", story)
	t.announceLocked(entry, false)
	return nil
}

// Pause suspends a running run.
func (t *Tracker) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.run.Pause(); err != nil {
		return err
	}
	entry := t.log.Append(events.WirePaused, t.run.CurrentState, "run paused", "")
	t.announceLocked(entry, false)
	return nil
}

// Resume continues a paused run.
func (t *Tracker) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.run.Resume(); err != nil {
		return err
	}
	entry := t.log.Append(events.WireResumed, t.run.CurrentState, "run resumed", "")
	t.announceLocked(entry, false)
	return nil
}

// Abort stops the run from any state. It never fails; aborting an already
// aborted run is a no-op.
func (t *Tracker) Abort(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.run.Status == core.StatusAborted {
		return nil
	}
	wasTerminal := t.run.IsTerminal()
	if err := t.run.Abort(reason); err != nil {
		return err
	}
	entry := t.log.Append(events.WireAborted, t.run.CurrentState, reason, "")
	t.announceLocked(entry, wasTerminal)
	return nil
}

// ClearApproval resolves the pending approval request, promoting a queued
// one when the policy retained any.
func (t *Tracker) ClearApproval() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.run.ClearApproval()
	t.publishRunLocked()

	if t.run.Approval.Awaiting && t.bus != nil {
		t.bus.Publish(events.NewApprovalRequestedEvent(
			t.run.ID, t.run.Approval.Content, t.run.Approval.Prompt))
	}
}

// Reset returns the tracker to factory state: idle run, empty log with a
// fresh id sequence, and a clean dedup window.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.run.Reset()
	t.log.Reset()
	t.dedup.Reset()
	t.lastSeq = 0
	t.publishRunLocked()
}

// Snapshot returns a detached copy of the current run state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		Run:        t.run.Clone(),
		Log:        t.log.Entries(),
		Suppressed: t.dedup.Suppressed(),
		LastSeq:    t.lastSeq,
	}
}

// trackSeqLocked records the highest sequence number seen. Regressions are
// logged but events are still applied in arrival order.
func (t *Tracker) trackSeqLocked(seq int64) {
	if seq == 0 {
		return
	}
	if t.lastSeq != 0 && seq <= t.lastSeq {
		t.logger.Warn("event sequence regressed",
			"seq", seq, "last_seq", t.lastSeq)
		return
	}
	t.lastSeq = seq
}

// announceLocked publishes the log entry and the refreshed run snapshot.
// The first transition into a terminal status goes out on the priority
// channel so it is never dropped.
func (t *Tracker) announceLocked(entry eventlog.Entry, wasTerminal bool) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.NewLogAppendedEvent(t.run.ID, entry))
	if !wasTerminal && t.run.IsTerminal() {
		t.bus.PublishPriority(events.NewRunFinishedEvent(t.run.ID, t.run.Status, t.run.Error))
	}
	t.bus.Publish(events.NewRunUpdatedEvent(t.run.Clone()))
}

func (t *Tracker) publishRunLocked() {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.NewRunUpdatedEvent(t.run.Clone()))
}

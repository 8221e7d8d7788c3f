// Package core defines the run domain model: the lifecycle state machine,
// metrics aggregation, workflow outputs, and the approval gate. It is the
// single mutation authority for run state; callers own serialization.
package core

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// Mode distinguishes a full workflow run from a single-step debug run.
type Mode string

const (
	ModeWorkflow Mode = "workflow"
	ModeStep     Mode = "step"
)

// ModelMetrics holds token/cost usage for one model invocation target,
// monotonically non-decreasing, accumulated by addition only.
type ModelMetrics struct {
	Tokens       int64   `json:"tokens"`
	TokensInput  int64   `json:"tokens_input"`
	TokensOutput int64   `json:"tokens_output"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates a delta component-wise.
func (m *ModelMetrics) Add(delta ModelMetrics) {
	m.Tokens += delta.Tokens
	m.TokensInput += delta.TokensInput
	m.TokensOutput += delta.TokensOutput
	m.CostUSD += delta.CostUSD
}

// StateMetrics holds token/cost usage for one workflow step, derived from the
// same metric events as ModelMetrics.
type StateMetrics struct {
	Tokens  int64   `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

// ApprovalRequest is the human-approval checkpoint surfaced by the run.
// The zero value means no approval is pending.
type ApprovalRequest struct {
	Awaiting bool   `json:"awaiting"`
	Content  string `json:"content,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// ApprovalPolicy decides what a second approval request does while one is
// still outstanding.
type ApprovalPolicy string

const (
	// ApprovalOverwrite replaces the outstanding request with the new one.
	// This matches the observed upstream behavior.
	ApprovalOverwrite ApprovalPolicy = "overwrite"
	// ApprovalQueue holds later requests until the current one is cleared.
	ApprovalQueue ApprovalPolicy = "queue"
)

// ParseApprovalPolicy validates a policy string from configuration.
func ParseApprovalPolicy(s string) (ApprovalPolicy, error) {
	switch ApprovalPolicy(s) {
	case ApprovalOverwrite, ApprovalQueue:
		return ApprovalPolicy(s), nil
	case "":
		return ApprovalOverwrite, nil
	default:
		return "", ErrValidation(CodeInvalidPolicy,
			fmt.Sprintf("unknown approval policy %q (want overwrite or queue)", s))
	}
}

// Outputs holds the partial results a run produces incrementally.
// Map-valued outputs merge key-by-key; scalar outputs replace wholesale.
type Outputs struct {
	Drafts      map[string]string `json:"drafts,omitempty"`
	Audits      map[string]string `json:"audits,omitempty"`
	FinalAudits map[string]string `json:"final_audits,omitempty"`
	FinalPost   string            `json:"final_post,omitempty"`
}

// OutputsPatch is an incremental outputs update. Nil maps leave the target
// untouched; a non-nil FinalPost replaces the scalar wholesale.
type OutputsPatch struct {
	Drafts      map[string]string `json:"drafts,omitempty"`
	Audits      map[string]string `json:"audits,omitempty"`
	FinalAudits map[string]string `json:"final_audits,omitempty"`
	FinalPost   *string           `json:"final_post,omitempty"`
}

// Merge applies a patch to the outputs.
func (o *Outputs) Merge(patch OutputsPatch) {
	o.Drafts = mergeStringMap(o.Drafts, patch.Drafts)
	o.Audits = mergeStringMap(o.Audits, patch.Audits)
	o.FinalAudits = mergeStringMap(o.FinalAudits, patch.FinalAudits)
	if patch.FinalPost != nil {
		o.FinalPost = *patch.FinalPost
	}
}

func mergeStringMap(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Run is the reconciled state of one workflow run.
type Run struct {
	ID           string `json:"run_id"`
	Story        string `json:"story,omitempty"`
	Status       Status `json:"status"`
	Mode         Mode   `json:"mode"`
	Running      bool   `json:"running"`
	Paused       bool   `json:"paused"`
	Aborted      bool   `json:"aborted"`
	CurrentState string `json:"current_state,omitempty"`
	Error        string `json:"error,omitempty"`

	Tokens       int64   `json:"tokens"`
	TokensInput  int64   `json:"tokens_input"`
	TokensOutput int64   `json:"tokens_output"`
	CostUSD      float64 `json:"cost_usd"`

	ModelMetrics map[string]ModelMetrics `json:"model_metrics"`
	StateMetrics map[string]StateMetrics `json:"state_metrics"`

	Outputs          Outputs           `json:"outputs"`
	Approval         ApprovalRequest   `json:"approval"`
	PendingApprovals []ApprovalRequest `json:"pending_approvals,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewRun returns an idle run with initialized metric maps.
func NewRun() *Run {
	return &Run{
		Status:       StatusIdle,
		Mode:         ModeWorkflow,
		ModelMetrics: make(map[string]ModelMetrics),
		StateMetrics: make(map[string]StateMetrics),
	}
}

// Start transitions the run to Running and binds its identity.
// Valid from Idle and from any terminal state; a new start clears all
// accumulated data from the previous run.
func (r *Run) Start(id, story string, mode Mode) error {
	if r.Status == StatusRunning || r.Status == StatusPaused {
		return ErrState(CodeInvalidTransition,
			fmt.Sprintf("cannot start run in %s state", r.Status))
	}
	if id == "" {
		return ErrValidation(CodeEmptyRunID, "run id cannot be empty")
	}
	if mode == "" {
		mode = ModeWorkflow
	}

	now := time.Now()
	*r = Run{
		ID:           id,
		Story:        story,
		Mode:         mode,
		ModelMetrics: make(map[string]ModelMetrics),
		StateMetrics: make(map[string]StateMetrics),
		StartedAt:    &now,
	}
	r.setStatus(StatusRunning)
	return nil
}

// SetCurrentState updates the current workflow step without a lifecycle
// change. Valid only while the run is Running or Paused.
func (r *Run) SetCurrentState(state string) error {
	if r.Status != StatusRunning && r.Status != StatusPaused {
		return ErrState(CodeInvalidTransition,
			fmt.Sprintf("cannot set current state in %s state", r.Status))
	}
	r.CurrentState = state
	r.touch()
	return nil
}

// Pause transitions the run from Running to Paused.
func (r *Run) Pause() error {
	if r.Status != StatusRunning {
		return ErrState(CodeInvalidTransition,
			fmt.Sprintf("cannot pause run in %s state", r.Status))
	}
	r.setStatus(StatusPaused)
	return nil
}

// Resume transitions the run from Paused back to Running.
func (r *Run) Resume() error {
	if r.Status != StatusPaused {
		return ErrState(CodeInvalidTransition,
			fmt.Sprintf("cannot resume run in %s state", r.Status))
	}
	r.setStatus(StatusRunning)
	return nil
}

// Abort transitions the run to Aborted from any state and forces the running
// flag off. It never fails; aborting an already-terminal run is a no-op
// apart from the recorded reason.
func (r *Run) Abort(reason string) error {
	if reason != "" {
		r.Error = reason
	}
	r.setStatus(StatusAborted)
	r.finish()
	return nil
}

// Complete marks the run terminally successful.
func (r *Run) Complete() error {
	if r.Status != StatusRunning && r.Status != StatusPaused {
		return ErrState(CodeInvalidTransition,
			fmt.Sprintf("cannot complete run in %s state", r.Status))
	}
	r.setStatus(StatusCompleted)
	r.finish()
	return nil
}

// Fail marks the run terminally failed with the given message. It applies
// from any state; recovery requires an explicit Reset.
func (r *Run) Fail(message string) error {
	r.Error = message
	r.setStatus(StatusFailed)
	r.finish()
	return nil
}

// Reset returns the run to its exact initial state: Idle, empty metrics,
// no outputs, no approval pending.
func (r *Run) Reset() {
	*r = *NewRun()
}

// ApplyMetrics merges one metrics event into the run: each model delta is
// added component-wise (insert on first sight), the same delta is accumulated
// into the named step's StateMetrics, and tokens/cost flow into the run-level
// totals. Callers must invoke this at most once per distinct metrics event;
// deduplication happens upstream and no idempotence check is done here.
func (r *Run) ApplyMetrics(state string, deltas map[string]ModelMetrics) {
	if len(deltas) == 0 {
		return
	}
	if state == "" {
		state = r.CurrentState
	}
	if state == "" {
		state = "unattributed"
	}
	if r.ModelMetrics == nil {
		r.ModelMetrics = make(map[string]ModelMetrics)
	}
	if r.StateMetrics == nil {
		r.StateMetrics = make(map[string]StateMetrics)
	}

	for model, delta := range deltas {
		mm := r.ModelMetrics[model]
		mm.Add(delta)
		r.ModelMetrics[model] = mm

		sm := r.StateMetrics[state]
		sm.Tokens += delta.Tokens
		sm.CostUSD += delta.CostUSD
		r.StateMetrics[state] = sm

		r.Tokens += delta.Tokens
		r.TokensInput += delta.TokensInput
		r.TokensOutput += delta.TokensOutput
		r.CostUSD += delta.CostUSD
	}
	r.touch()
}

// MergeOutputs applies an incremental outputs patch.
func (r *Run) MergeOutputs(patch OutputsPatch) {
	r.Outputs.Merge(patch)
	r.touch()
}

// RequestApproval records a pending human decision. While a request is
// outstanding, policy decides whether a new one overwrites it or queues
// behind it. The lifecycle status is not changed; the backend pauses
// server-side and this gate only surfaces that fact.
func (r *Run) RequestApproval(content, prompt string, policy ApprovalPolicy) {
	req := ApprovalRequest{Awaiting: true, Content: content, Prompt: prompt}
	if r.Approval.Awaiting && policy == ApprovalQueue {
		r.PendingApprovals = append(r.PendingApprovals, req)
	} else {
		r.Approval = req
	}
	r.touch()
}

// ClearApproval resolves the outstanding request. Under the queue policy the
// next pending request, if any, is promoted.
func (r *Run) ClearApproval() {
	if len(r.PendingApprovals) > 0 {
		r.Approval = r.PendingApprovals[0]
		r.PendingApprovals = r.PendingApprovals[1:]
		if len(r.PendingApprovals) == 0 {
			r.PendingApprovals = nil
		}
	} else {
		r.Approval = ApprovalRequest{}
	}
	r.touch()
}

// IsTerminal reports whether the run reached a terminal state.
func (r *Run) IsTerminal() bool {
	return r.Status == StatusCompleted ||
		r.Status == StatusAborted ||
		r.Status == StatusFailed
}

// Active reports whether the run is Running or Paused.
func (r *Run) Active() bool {
	return r.Status == StatusRunning || r.Status == StatusPaused
}

// Clone returns a deep copy safe for concurrent readers.
func (r *Run) Clone() Run {
	out := *r
	out.ModelMetrics = make(map[string]ModelMetrics, len(r.ModelMetrics))
	for k, v := range r.ModelMetrics {
		out.ModelMetrics[k] = v
	}
	out.StateMetrics = make(map[string]StateMetrics, len(r.StateMetrics))
	for k, v := range r.StateMetrics {
		out.StateMetrics[k] = v
	}
	out.Outputs.Drafts = copyStringMap(r.Outputs.Drafts)
	out.Outputs.Audits = copyStringMap(r.Outputs.Audits)
	out.Outputs.FinalAudits = copyStringMap(r.Outputs.FinalAudits)
	if r.PendingApprovals != nil {
		out.PendingApprovals = append([]ApprovalRequest(nil), r.PendingApprovals...)
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// setStatus updates the status and keeps the running/paused/aborted flags
// mutually exclusive: at most one is true, all false in Idle and in the
// completed/failed terminal states.
func (r *Run) setStatus(s Status) {
	r.Status = s
	r.Running = s == StatusRunning
	r.Paused = s == StatusPaused
	r.Aborted = s == StatusAborted
	r.touch()
}

func (r *Run) finish() {
	now := time.Now()
	r.FinishedAt = &now
}

func (r *Run) touch() {
	r.UpdatedAt = time.Now()
}

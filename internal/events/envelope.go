package events

import (
	"github.com/storyline-ai/storyline/internal/core"
)

// Wire type constants for envelopes arriving from the run backend.
const (
	WireStateEnter       = "state_enter"
	WireTransition       = "transition"
	WireMetrics          = "metrics"
	WireApprovalRequired = "approval_required"
	WireOutput           = "output"
	WireError            = "error"
	WireComplete         = "complete"
	WireStarted          = "started"
	WirePaused           = "paused"
	WireResumed          = "resumed"
	WireAborted          = "aborted"
	WireLog              = "log"
)

// Envelope is the wire form of a backend run event. Only Type is required;
// the remaining fields are read per type. Unknown types are not an error,
// they are logged and dropped by the consumer.
type Envelope struct {
	Type      string                       `json:"type"`
	Timestamp string                       `json:"timestamp,omitempty"`
	RunID     string                       `json:"run_id,omitempty"`
	State     string                       `json:"state,omitempty"`
	Message   string                       `json:"message,omitempty"`
	Seq       int64                        `json:"seq,omitempty"`
	Details   string                       `json:"details,omitempty"`
	Metrics   map[string]core.ModelMetrics `json:"metrics,omitempty"`
	Outputs   *core.OutputsPatch           `json:"outputs,omitempty"`
}

// Validate checks the envelope carries the fields its type requires.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return core.ErrValidation(core.CodeMalformedEvent, "event has no type")
	}
	if e.Type == WireMetrics && len(e.Metrics) == 0 {
		return core.ErrValidation(core.CodeMalformedEvent, "metrics event has no metrics")
	}
	return nil
}

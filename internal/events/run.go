package events

import (
	"time"

	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/eventlog"
)

// Event type constants for run reconciliation events.
const (
	TypeRunUpdated        = "run_updated"
	TypeLogAppended       = "log_appended"
	TypeApprovalRequested = "approval_requested"
	TypeRunFinished       = "run_finished"
	TypeTransportError    = "transport_error"
	TypeCommandFailed     = "command_failed"
)

// RunUpdatedEvent is emitted whenever the reconciled run state changes.
// It carries a detached copy of the run, safe to read from any goroutine.
type RunUpdatedEvent struct {
	BaseEvent
	Run core.Run `json:"run"`
}

// NewRunUpdatedEvent creates a new run updated event.
func NewRunUpdatedEvent(run core.Run) RunUpdatedEvent {
	return RunUpdatedEvent{
		BaseEvent: NewBaseEvent(TypeRunUpdated, run.ID),
		Run:       run,
	}
}

// LogAppendedEvent is emitted when an entry lands in the run's event log.
type LogAppendedEvent struct {
	BaseEvent
	Entry eventlog.Entry `json:"entry"`
}

// NewLogAppendedEvent creates a new log appended event.
func NewLogAppendedEvent(runID string, entry eventlog.Entry) LogAppendedEvent {
	return LogAppendedEvent{
		BaseEvent: NewBaseEvent(TypeLogAppended, runID),
		Entry:     entry,
	}
}

// ApprovalRequestedEvent is emitted when a run starts waiting on a human.
type ApprovalRequestedEvent struct {
	BaseEvent
	Content string `json:"content"`
	Prompt  string `json:"prompt"`
}

// NewApprovalRequestedEvent creates a new approval requested event.
func NewApprovalRequestedEvent(runID, content, prompt string) ApprovalRequestedEvent {
	return ApprovalRequestedEvent{
		BaseEvent: NewBaseEvent(TypeApprovalRequested, runID),
		Content:   content,
		Prompt:    prompt,
	}
}

// RunFinishedEvent is emitted when a run reaches a terminal status.
// This is a PRIORITY event - never dropped.
type RunFinishedEvent struct {
	BaseEvent
	Status core.Status `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// NewRunFinishedEvent creates a new run finished event.
func NewRunFinishedEvent(runID string, status core.Status, errMsg string) RunFinishedEvent {
	return RunFinishedEvent{
		BaseEvent: NewBaseEvent(TypeRunFinished, runID),
		Status:    status,
		Error:     errMsg,
	}
}

// TransportErrorEvent is emitted when the backend feed drops or fails.
type TransportErrorEvent struct {
	BaseEvent
	Message string        `json:"message"`
	Attempt int           `json:"attempt"`
	RetryIn time.Duration `json:"retry_in"`
}

// NewTransportErrorEvent creates a new transport error event.
func NewTransportErrorEvent(runID, message string, attempt int, retryIn time.Duration) TransportErrorEvent {
	return TransportErrorEvent{
		BaseEvent: NewBaseEvent(TypeTransportError, runID),
		Message:   message,
		Attempt:   attempt,
		RetryIn:   retryIn,
	}
}

// CommandFailedEvent is emitted when a dispatched command is rejected.
type CommandFailedEvent struct {
	BaseEvent
	Command string `json:"command"`
	Error   string `json:"error"`
}

// NewCommandFailedEvent creates a new command failed event.
func NewCommandFailedEvent(runID, command string, err error) CommandFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return CommandFailedEvent{
		BaseEvent: NewBaseEvent(TypeCommandFailed, runID),
		Command:   command,
		Error:     errStr,
	}
}

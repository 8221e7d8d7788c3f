package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storyline-ai/storyline/internal/backend"
	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/engine"
	"github.com/storyline-ai/storyline/internal/events"
)

// StartCommandRequest carries the start command payload. RunID is only
// honored in standalone mode; a configured backend assigns its own.
type StartCommandRequest struct {
	Story    string `json:"story"`
	Extra    string `json:"extra,omitempty"`
	ConfigID string `json:"config_id,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

// StepCommandRequest carries the single-step command payload.
type StepCommandRequest struct {
	Story string `json:"story"`
	Step  string `json:"step"`
	RunID string `json:"run_id,omitempty"`
}

// AbortCommandRequest carries the optional abort reason.
type AbortCommandRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CommandResponse is the reply to a run command. Error is set when the run
// command succeeded locally but the upstream notification failed.
type CommandResponse struct {
	OK      bool             `json:"ok"`
	RunID   string           `json:"run_id,omitempty"`
	Message string           `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
	Run     *engine.Snapshot `json:"run,omitempty"`
}

// handleStart dispatches a workflow start. With a backend configured the
// command goes upstream first and local state only advances on its ack.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Story == "" {
		respondDomainError(w, core.ErrValidation(core.CodeEmptyStory, "story must not be empty"))
		return
	}

	runID := req.RunID
	message := ""
	if s.backendConfigured() {
		ack, err := s.backend.Start(r.Context(), backend.StartRequest{
			Story:    req.Story,
			Extra:    req.Extra,
			ConfigID: req.ConfigID,
		})
		if err != nil {
			s.publishCommandFailure(runID, "start", err)
			respondDomainError(w, err)
			return
		}
		if ack.RunID != "" {
			runID = ack.RunID
		}
		message = ack.Message
	}
	if runID == "" {
		runID = s.registry.NewRunID()
	}

	tracker, err := s.registry.GetOrCreate(runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := tracker.Start(runID, req.Story, core.ModeWorkflow); err != nil {
		respondDomainError(w, err)
		return
	}
	s.registry.SetDefault(runID)

	respondJSON(w, http.StatusCreated, CommandResponse{
		OK:      true,
		RunID:   runID,
		Message: message,
		Run:     snapshotOf(tracker),
	})
}

// handleStep dispatches a single-step run pinned to one workflow state.
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req StepCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Story == "" {
		respondDomainError(w, core.ErrValidation(core.CodeEmptyStory, "story must not be empty"))
		return
	}
	if req.Step == "" {
		respondDomainError(w, core.ErrValidation(core.CodeEmptyStep, "step must not be empty"))
		return
	}

	runID := req.RunID
	message := ""
	if s.backendConfigured() {
		ack, err := s.backend.Step(r.Context(), backend.StepRequest{
			Story: req.Story,
			Step:  req.Step,
			RunID: req.RunID,
		})
		if err != nil {
			s.publishCommandFailure(runID, "step", err)
			respondDomainError(w, err)
			return
		}
		if ack.RunID != "" {
			runID = ack.RunID
		}
		message = ack.Message
	}
	if runID == "" {
		runID = s.registry.NewRunID()
	}

	tracker, err := s.registry.GetOrCreate(runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := tracker.Step(runID, req.Story, req.Step); err != nil {
		respondDomainError(w, err)
		return
	}
	s.registry.SetDefault(runID)

	respondJSON(w, http.StatusCreated, CommandResponse{
		OK:      true,
		RunID:   runID,
		Message: message,
		Run:     snapshotOf(tracker),
	})
}

// handlePause suspends a running run. Backend first: a rejected pause
// leaves local state untouched.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	tracker, err := s.registry.Get(runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if s.backendConfigured() {
		if err := s.backend.Pause(r.Context(), runID); err != nil {
			s.publishCommandFailure(runID, "pause", err)
			respondDomainError(w, err)
			return
		}
	}
	if err := tracker.Pause(); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CommandResponse{
		OK:    true,
		RunID: runID,
		Run:   snapshotOf(tracker),
	})
}

// handleResume continues a paused run. Backend first, like pause.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	tracker, err := s.registry.Get(runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if s.backendConfigured() {
		if err := s.backend.Resume(r.Context(), runID); err != nil {
			s.publishCommandFailure(runID, "resume", err)
			respondDomainError(w, err)
			return
		}
	}
	if err := tracker.Resume(); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CommandResponse{
		OK:    true,
		RunID: runID,
		Run:   snapshotOf(tracker),
	})
}

// handleAbort stops a run. Unlike the other commands this one is
// optimistic: local state flips to aborted before the backend hears about
// it, so the operator always gets an immediate, honest stop. An upstream
// failure is reported in the response but never rolls the abort back.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	tracker, err := s.registry.Get(runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req AbortCommandRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "aborted by user"
	}

	if err := tracker.Abort(reason); err != nil {
		respondDomainError(w, err)
		return
	}

	upstreamErr := ""
	if s.backendConfigured() {
		if err := s.backend.Abort(r.Context(), runID); err != nil {
			s.publishCommandFailure(runID, "abort", err)
			upstreamErr = err.Error()
		}
	}

	respondJSON(w, http.StatusOK, CommandResponse{
		OK:    true,
		RunID: runID,
		Error: upstreamErr,
		Run:   snapshotOf(tracker),
	})
}

func (s *Server) publishCommandFailure(runID, command string, err error) {
	if s.bus != nil {
		s.bus.Publish(events.NewCommandFailedEvent(runID, command, err))
	}
	s.logger.Warn("command dispatch failed",
		"run_id", runID, "command", command, "error", err)
}

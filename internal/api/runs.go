package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/engine"
	"github.com/storyline-ai/storyline/internal/events"
)

// MetricsResponse is the metrics view of one run: run-level totals plus the
// per-model and per-state breakdowns.
type MetricsResponse struct {
	RunID  string                       `json:"run_id"`
	Totals core.ModelMetrics            `json:"totals"`
	Models map[string]core.ModelMetrics `json:"models"`
	States map[string]core.StateMetrics `json:"states"`
}

// handleListRuns returns snapshots of every tracked run.
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.List())
}

// handleGetDefaultRun returns the snapshot of the default run.
func (s *Server) handleGetDefaultRun(w http.ResponseWriter, _ *http.Request) {
	tracker, ok := s.registry.Default()
	if !ok {
		respondError(w, http.StatusNotFound, "no runs tracked")
		return
	}
	respondJSON(w, http.StatusOK, tracker.Snapshot())
}

// handleGetRun returns the snapshot of one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	tracker, err := s.registry.Get(chi.URLParam(r, "runID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tracker.Snapshot())
}

// handleGetLog returns the activity log of one run.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	tracker, err := s.registry.Get(chi.URLParam(r, "runID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	snap := tracker.Snapshot()
	respondJSON(w, http.StatusOK, snap.Log)
}

// handleGetMetrics returns the metrics view of one run.
func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	tracker, err := s.registry.Get(chi.URLParam(r, "runID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	snap := tracker.Snapshot()

	respondJSON(w, http.StatusOK, MetricsResponse{
		RunID: snap.Run.ID,
		Totals: core.ModelMetrics{
			Tokens:       snap.Run.Tokens,
			TokensInput:  snap.Run.TokensInput,
			TokensOutput: snap.Run.TokensOutput,
			CostUSD:      snap.Run.CostUSD,
		},
		Models: snap.Run.ModelMetrics,
		States: snap.Run.StateMetrics,
	})
}

// handleIngestEvent accepts one wire envelope for a run. This is the push
// transport: services without a stream POST their records here and the
// envelope goes through the same validation and dedup path as streamed ones.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var env events.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if env.RunID != "" && env.RunID != runID {
		respondDomainError(w, core.ErrValidation(core.CodeMalformedEvent,
			"envelope run_id does not match the request path"))
		return
	}
	env.RunID = runID

	if err := s.registry.Apply(env); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// handleReset restores a run to its initial state.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	tracker, err := s.registry.Get(chi.URLParam(r, "runID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	tracker.Reset()
	respondJSON(w, http.StatusOK, tracker.Snapshot())
}

// handleDisposeRun drops a run from the registry.
func (s *Server) handleDisposeRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.registry.Get(runID); err != nil {
		respondDomainError(w, err)
		return
	}
	s.registry.Remove(runID)
	respondJSON(w, http.StatusNoContent, nil)
}

// handleClearApproval resolves the pending approval checkpoint. With the
// queue policy the next queued request is promoted into the snapshot.
func (s *Server) handleClearApproval(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	tracker, err := s.registry.Get(runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	tracker.ClearApproval()

	if s.backendConfigured() {
		if err := s.backend.ClearApproval(r.Context(), runID); err != nil {
			s.publishCommandFailure(runID, "clear_approval", err)
			respondJSON(w, http.StatusOK, CommandResponse{
				OK:    true,
				RunID: runID,
				Error: err.Error(),
				Run:   snapshotOf(tracker),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, tracker.Snapshot())
}

func snapshotOf(tracker *engine.Tracker) *engine.Snapshot {
	snap := tracker.Snapshot()
	return &snap
}

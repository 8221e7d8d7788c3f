package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/storyline-ai/storyline/internal/events"
)

// handleSSE streams bus events to the client as Server-Sent Events.
// An optional ?run= query narrows the stream to one run; events without a
// run id (transport errors) always pass the filter.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	runFilter := r.URL.Query().Get("run")

	eventCh := s.bus.Subscribe()
	defer s.bus.Unsubscribe(eventCh)

	s.logger.Info("SSE client connected",
		"remote_addr", r.RemoteAddr, "run_filter", runFilter)

	s.sendSSEEvent(w, flusher, "connected", map[string]string{
		"status": "connected",
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected", "remote_addr", r.RemoteAddr)
			return

		case event, ok := <-eventCh:
			if !ok {
				s.logger.Info("event bus closed, ending SSE stream")
				return
			}
			if runFilter != "" && event.RunID() != "" && event.RunID() != runFilter {
				continue
			}
			s.sendEventToClient(w, flusher, event)
		}
	}
}

// sendSSEEvent writes one event to the SSE stream.
func (s *Server) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	// SSE format: event: type\ndata: json\n\n
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}

// sendEventToClient converts a bus event to its SSE payload and sends it.
func (s *Server) sendEventToClient(w http.ResponseWriter, flusher http.Flusher, event events.Event) {
	var payload interface{}

	switch e := event.(type) {
	case events.RunUpdatedEvent:
		payload = e.Run

	case events.LogAppendedEvent:
		payload = map[string]interface{}{
			"run_id":    e.RunID(),
			"entry":     e.Entry,
			"timestamp": e.Timestamp(),
		}

	case events.ApprovalRequestedEvent:
		payload = map[string]interface{}{
			"run_id":    e.RunID(),
			"content":   e.Content,
			"prompt":    e.Prompt,
			"timestamp": e.Timestamp(),
		}

	case events.RunFinishedEvent:
		payload = map[string]interface{}{
			"run_id":    e.RunID(),
			"status":    e.Status,
			"error":     e.Error,
			"timestamp": e.Timestamp(),
		}

	case events.TransportErrorEvent:
		payload = map[string]interface{}{
			"message":   e.Message,
			"attempt":   e.Attempt,
			"retry_in":  e.RetryIn.String(),
			"timestamp": e.Timestamp(),
		}

	case events.CommandFailedEvent:
		payload = map[string]interface{}{
			"run_id":    e.RunID(),
			"command":   e.Command,
			"error":     e.Error,
			"timestamp": e.Timestamp(),
		}

	default:
		payload = map[string]interface{}{
			"run_id":    event.RunID(),
			"timestamp": event.Timestamp(),
		}
	}

	s.sendSSEEvent(w, flusher, event.EventType(), payload)
}

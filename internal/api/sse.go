package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleSSE streams deliberation lifecycle events to the client. An
// optional ?session= query parameter filters to one session.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if s.bus == nil {
		s.respondError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	ctx := r.Context()
	sessionFilter := r.URL.Query().Get("session")

	eventCh := s.bus.Subscribe()
	defer s.bus.Unsubscribe(eventCh)

	s.logger.Info("SSE client connected", "remote_addr", r.RemoteAddr, "session_filter", sessionFilter)
	s.writeSSE(w, flusher, "connected", map[string]string{"status": "connected"})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected", "remote_addr", r.RemoteAddr)
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if sessionFilter != "" && event.SessionID() != sessionFilter {
				continue
			}
			s.writeSSE(w, flusher, event.EventType(), event)
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("marshaling SSE event", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}

package api

import (
	"net/http"
	"time"

	"github.com/magi-sh/magi/internal/diagnostics"
)

var systemMetrics = diagnostics.NewSystemMetricsCollector()

// handleHealth reports liveness plus a best-effort host resource snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"system": systemMetrics.Collect(),
	})
}

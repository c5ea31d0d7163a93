package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/magi-sh/magi/internal/core"
)

type createSessionRequest struct {
	UserID     string `json:"userId"`
	Question   string `json:"question"`
	ArtifactID string `json:"artifactId,omitempty"`
	LiveURL    string `json:"liveUrl,omitempty"`
}

type runStepRequest struct {
	Step        string            `json:"step"`
	Credentials map[string]string `json:"credentials"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	session, err := s.sessions.Create(r.Context(), req.UserID, req.Question, req.ArtifactID, req.LiveURL)
	if err != nil {
		s.respondError(w, httpStatusFor(err), err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":      true,
		"session": session,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	full, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, httpStatusFor(err), err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"session": full,
	})
}

// handleRunStep triggers one workflow step. Credentials travel in the
// request body and are never persisted.
func (s *Server) handleRunStep(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req runStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	result, err := s.sessions.RunStep(r.Context(), sessionID, req.Step, core.CredentialMap(req.Credentials))
	if err != nil {
		s.respondError(w, httpStatusFor(err), err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"step":        result.Step,
		"session":     result.Session,
		"diagnostics": result.Diagnostics,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.sessions.Agents(r.Context())
	if err != nil {
		s.respondError(w, httpStatusFor(err), err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"agents": agents,
	})
}

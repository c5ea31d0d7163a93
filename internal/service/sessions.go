// Package service exposes the application-level operations the HTTP
// layer calls: session lifecycle plus step triggering.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/magi-sh/magi/internal/core"
	"github.com/magi-sh/magi/internal/deliberation"
	"github.com/magi-sh/magi/internal/logging"
)

// Sessions wires session creation and step execution over the repository
// and the deliberation engine.
type Sessions struct {
	repo   core.SessionRepository
	engine *deliberation.Engine
	logger *logging.Logger
}

// NewSessions creates the session service.
func NewSessions(repo core.SessionRepository, engine *deliberation.Engine, logger *logging.Logger) *Sessions {
	return &Sessions{
		repo:   repo,
		engine: engine,
		logger: logger,
	}
}

// Create validates and persists a new session, recording the question as
// the opening user message of the transcript.
func (s *Sessions) Create(ctx context.Context, userID, question, artifactID, liveURL string) (*core.Session, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, core.ErrValidation(core.CodeEmptyQuestion, "question must not be empty")
	}
	if len(question) > core.MaxQuestionLength {
		return nil, core.ErrValidation("QUESTION_TOO_LONG",
			fmt.Sprintf("question exceeds %d characters", core.MaxQuestionLength))
	}

	session, err := s.repo.CreateSession(ctx, userID, question, artifactID, liveURL)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.AddMessage(ctx, &core.Message{
		SessionID: session.ID,
		Role:      core.RoleUser,
		Content:   question,
	}); err != nil {
		return nil, err
	}

	s.logger.WithSession(session.ID).Info("session created", "user_id", userID)
	return session, nil
}

// Get returns the fully materialized session view.
func (s *Sessions) Get(ctx context.Context, sessionID string) (*core.SessionFull, error) {
	return s.repo.GetSessionFull(ctx, sessionID)
}

// Agents lists the seeded deliberation agents.
func (s *Sessions) Agents(ctx context.Context) ([]*core.Agent, error) {
	return s.repo.ListAgents(ctx)
}

// RunStep validates the step name and executes it with the per-request
// credentials.
func (s *Sessions) RunStep(ctx context.Context, sessionID, stepName string, creds core.CredentialMap) (*deliberation.StepResult, error) {
	step, err := deliberation.ParseStep(stepName)
	if err != nil {
		return nil, err
	}
	return s.engine.RunStep(ctx, sessionID, step, creds)
}

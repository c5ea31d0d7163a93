// Package core defines the domain model and the ports the deliberation
// engine consumes. Adapters live under internal/store and internal/providers.
package core

import "context"

// SessionRepository is the single source of truth for deliberation state.
// Implementations assign IDs and timestamps; all methods may fail with a
// storage error that callers treat as fatal to the current step.
type SessionRepository interface {
	CreateSession(ctx context.Context, userID, question, artifactID, liveURL string) (*Session, error)
	AddMessage(ctx context.Context, msg *Message) (*Message, error)
	AddVote(ctx context.Context, vote *Vote) (*Vote, error)
	SetSessionStatus(ctx context.Context, sessionID string, status SessionStatus, errMsg string) error
	UpsertConsensus(ctx context.Context, consensus *Consensus) (*Consensus, error)
	GetSessionFull(ctx context.Context, sessionID string) (*SessionFull, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
}

// ChunkStore exposes pre-extracted artifact chunks for context assembly.
type ChunkStore interface {
	GetArtifact(ctx context.Context, id string) (*Artifact, error)
	ListArtifactChunks(ctx context.Context, artifactID string, limit int, languageFilter string) ([]*Chunk, error)
}

// LiveContextFunc builds a pre-formatted snapshot of a live site. The
// returned string is opaque to the assembler; empty means no context.
type LiveContextFunc func(ctx context.Context, url string) (string, error)

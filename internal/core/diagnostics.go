package core

import "time"

// DiagnosticsTotals counts persisted records by kind.
type DiagnosticsTotals struct {
	Proposals int `json:"proposals"`
	Critiques int `json:"critiques"`
	Votes     int `json:"votes"`
	Consensus int `json:"consensus"`
}

// MessageDigest is a short preview of an authored message.
type MessageDigest struct {
	MessageID int64  `json:"messageId"`
	Role      string `json:"role"`
	Preview   string `json:"preview"`
	Fallback  bool   `json:"fallback"`
}

// VoteDigest summarizes one cast vote.
type VoteDigest struct {
	TargetMessageID int64  `json:"targetMessageId"`
	Score           int    `json:"score"`
	Rationale       string `json:"rationale,omitempty"`
	Fallback        bool   `json:"fallback"`
}

// AgentDiagnostics cross-references one agent's contributions.
type AgentDiagnostics struct {
	AgentID          string          `json:"agentId"`
	Slug             string          `json:"slug"`
	Name             string          `json:"name"`
	Provider         string          `json:"provider"`
	Proposals        []MessageDigest `json:"proposals"`
	Critiques        []MessageDigest `json:"critiques"`
	Votes            []VoteDigest    `json:"votes"`
	FallbackTriggers int             `json:"fallbackTriggers"`
}

// Diagnostics is the derived, non-persisted report reconstructed from the
// repository view after each step.
type Diagnostics struct {
	Step               string             `json:"step"`
	Timestamp          time.Time          `json:"timestamp"`
	Totals             DiagnosticsTotals  `json:"totals"`
	Agents             []AgentDiagnostics `json:"agents"`
	Events             []string           `json:"events"`
	WinningProposalID  int64              `json:"winningProposalId,omitempty"`
	WinningScore       int                `json:"winningScore,omitempty"`
	ConsensusMessageID int64              `json:"consensusMessageId,omitempty"`
}

package core

import "time"

// SessionStatus is the advisory lifecycle state set by the workflow engine.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusConsensus SessionStatus = "consensus"
	SessionStatusComplete  SessionStatus = "complete"
	SessionStatusError     SessionStatus = "error"
)

// Session represents one deliberation over a single question.
type Session struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	Question   string        `json:"question"`
	ArtifactID string        `json:"artifactId,omitempty"`
	LiveURL    string        `json:"liveUrl,omitempty"`
	Status     SessionStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// MessageRole classifies a persisted message.
type MessageRole string

const (
	RoleUser          MessageRole = "user"
	RoleAgentProposal MessageRole = "agent_proposal"
	// RoleAgentCritique exists in the data model for forward compatibility.
	// The engine no longer exposes a critique step; no code path produces
	// messages with this role.
	RoleAgentCritique MessageRole = "agent_critique"
	RoleConsensus     MessageRole = "consensus"
)

// MessageMeta carries structured provenance for a message.
type MessageMeta struct {
	Provider         string `json:"provider,omitempty"`
	Stage            string `json:"stage,omitempty"`
	Fallback         bool   `json:"fallback,omitempty"`
	ActualProvider   string `json:"actualProvider,omitempty"`
	HTTPRequestCount int    `json:"httpRequestCount,omitempty"`
	FromMessageID    int64  `json:"fromMessageId,omitempty"`
	TotalScore       int    `json:"totalScore,omitempty"`
}

// Message is an append-only record in a session transcript. IDs are
// strictly increasing within a session.
type Message struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"sessionId"`
	AgentID   string      `json:"agentId,omitempty"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Model     string      `json:"model,omitempty"`
	Meta      MessageMeta `json:"meta"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Vote is one agent's score for another agent's proposal. Scores are
// integers in [0,100] after clamping.
type Vote struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId"`
	AgentID         string    `json:"agentId"`
	TargetMessageID int64     `json:"targetMessageId"`
	Score           int       `json:"score"`
	Rationale       string    `json:"rationale,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Consensus records the winning proposal for a session. Upserted at most
// once per session by the consensus step.
type Consensus struct {
	SessionID      string    `json:"sessionId"`
	FinalMessageID int64     `json:"finalMessageId,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SessionFull is the fully materialized repository view of a session.
type SessionFull struct {
	Session   *Session   `json:"session"`
	Messages  []*Message `json:"messages"`
	Votes     []*Vote    `json:"votes"`
	Consensus *Consensus `json:"consensus,omitempty"`
	Agents    []*Agent   `json:"agents"`
}

package events

// Event type constants for deliberation step events.
const (
	TypeStepStarted      = "step_started"
	TypeProposalStored   = "proposal_stored"
	TypeVoteStored       = "vote_stored"
	TypeConsensusReached = "consensus_reached"
	TypeStepFailed       = "step_failed"
)

// StepStartedEvent marks the beginning of a workflow step.
type StepStartedEvent struct {
	BaseEvent
	Step string `json:"step"`
}

// NewStepStarted creates a step-started event.
func NewStepStarted(sessionID, step string) StepStartedEvent {
	return StepStartedEvent{
		BaseEvent: NewBaseEvent(TypeStepStarted, sessionID),
		Step:      step,
	}
}

// ProposalStoredEvent reports a persisted agent proposal.
type ProposalStoredEvent struct {
	BaseEvent
	AgentSlug string `json:"agent_slug"`
	MessageID int64  `json:"message_id"`
	Provider  string `json:"provider"`
}

// NewProposalStored creates a proposal-stored event.
func NewProposalStored(sessionID, agentSlug string, messageID int64, provider string) ProposalStoredEvent {
	return ProposalStoredEvent{
		BaseEvent: NewBaseEvent(TypeProposalStored, sessionID),
		AgentSlug: agentSlug,
		MessageID: messageID,
		Provider:  provider,
	}
}

// VoteStoredEvent reports a persisted vote.
type VoteStoredEvent struct {
	BaseEvent
	AgentSlug       string `json:"agent_slug"`
	TargetMessageID int64  `json:"target_message_id"`
	Score           int    `json:"score"`
	Fallback        bool   `json:"fallback"`
}

// NewVoteStored creates a vote-stored event.
func NewVoteStored(sessionID, agentSlug string, targetMessageID int64, score int, fallback bool) VoteStoredEvent {
	return VoteStoredEvent{
		BaseEvent:       NewBaseEvent(TypeVoteStored, sessionID),
		AgentSlug:       agentSlug,
		TargetMessageID: targetMessageID,
		Score:           score,
		Fallback:        fallback,
	}
}

// ConsensusReachedEvent reports the selected winning proposal.
type ConsensusReachedEvent struct {
	BaseEvent
	WinningMessageID int64 `json:"winning_message_id"`
	WinningScore     int   `json:"winning_score"`
}

// NewConsensusReached creates a consensus-reached event.
func NewConsensusReached(sessionID string, winningMessageID int64, winningScore int) ConsensusReachedEvent {
	return ConsensusReachedEvent{
		BaseEvent:        NewBaseEvent(TypeConsensusReached, sessionID),
		WinningMessageID: winningMessageID,
		WinningScore:     winningScore,
	}
}

// StepFailedEvent reports a step aborted by an error.
type StepFailedEvent struct {
	BaseEvent
	Step  string `json:"step"`
	Error string `json:"error"`
}

// NewStepFailed creates a step-failed event.
func NewStepFailed(sessionID, step, errMsg string) StepFailedEvent {
	return StepFailedEvent{
		BaseEvent: NewBaseEvent(TypeStepFailed, sessionID),
		Step:      step,
		Error:     errMsg,
	}
}

// Package deliberation drives the propose/vote/consensus step state
// machine over a session. Steps run synchronously when triggered and are
// not re-entrant: re-invoking a completed step re-executes its side
// effects, producing duplicate messages and votes.
package deliberation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/magi-sh/magi/internal/core"
	"github.com/magi-sh/magi/internal/events"
	"github.com/magi-sh/magi/internal/logging"
	"github.com/magi-sh/magi/internal/promptctx"
	"github.com/magi-sh/magi/internal/providers"
	"github.com/magi-sh/magi/internal/votes"
)

// Step names the three workflow states.
type Step string

const (
	StepPropose   Step = "propose"
	StepVote      Step = "vote"
	StepConsensus Step = "consensus"
)

// ParseStep validates a step name from an external trigger.
func ParseStep(s string) (Step, error) {
	switch Step(s) {
	case StepPropose, StepVote, StepConsensus:
		return Step(s), nil
	default:
		return "", core.ErrValidation(core.CodeUnknownStep, fmt.Sprintf("unknown step: %q", s))
	}
}

// StepResult is the authoritative post-step state plus its diagnostics.
// Session is re-read from the repository after the step completes, never
// assembled from in-memory partials.
type StepResult struct {
	Step        Step              `json:"step"`
	Session     *core.SessionFull `json:"session"`
	Diagnostics *core.Diagnostics `json:"diagnostics"`
}

// Engine orchestrates deliberation steps.
type Engine struct {
	repo      core.SessionRepository
	invoker   providers.Invoker
	assembler *promptctx.Assembler
	bus       *events.Bus
	logger    *logging.Logger
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithBus attaches an event bus for lifecycle notifications.
func WithBus(bus *events.Bus) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// NewEngine creates a deliberation engine.
func NewEngine(repo core.SessionRepository, invoker providers.Invoker, assembler *promptctx.Assembler, logger *logging.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:      repo,
		invoker:   invoker,
		assembler: assembler,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunStep executes one workflow step for a session. Credentials are
// threaded per-request and never retained.
func (e *Engine) RunStep(ctx context.Context, sessionID string, step Step, creds core.CredentialMap) (*StepResult, error) {
	logger := e.logger.WithSession(sessionID).WithStep(string(step))
	e.publish(events.NewStepStarted(sessionID, string(step)))

	switch step {
	case StepPropose:
		return e.runPropose(ctx, sessionID, creds, logger)
	case StepVote:
		return e.runVote(ctx, sessionID, creds, logger)
	case StepConsensus:
		return e.runConsensus(ctx, sessionID, logger)
	default:
		return nil, core.ErrValidation(core.CodeUnknownStep, fmt.Sprintf("unknown step: %q", step))
	}
}

// runPropose builds the shared context once, then invokes every agent in
// repository-seeded order. Any agent failure or empty proposal is fatal to
// the whole step: a missing proposal would corrupt voting and consensus.
func (e *Engine) runPropose(ctx context.Context, sessionID string, creds core.CredentialMap, logger *logging.Logger) (*StepResult, error) {
	full, err := e.repo.GetSessionFull(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session := full.Session

	if err := e.repo.SetSessionStatus(ctx, sessionID, core.SessionStatusRunning, ""); err != nil {
		return nil, err
	}

	eventLog := []string{fmt.Sprintf("propose step started with %d agents", len(full.Agents))}

	ctxResult, err := e.assembler.Assemble(ctx, session.ArtifactID, session.LiveURL, session.Question)
	if err != nil {
		return nil, e.failStep(ctx, sessionID, StepPropose, err, logger)
	}
	if ctxResult.Combined != "" {
		eventLog = append(eventLog, fmt.Sprintf("context assembled: ~%d tokens, %d chunks from %d files",
			ctxResult.ApproxTokens, ctxResult.ChunkCount, ctxResult.FileCount))
	}

	for _, agent := range full.Agents {
		conversation := buildProposalPrompt(agent, ctxResult.Combined, session.Question, true)
		result, err := e.invoker.Invoke(ctx, agent, creds, conversation, providers.Options{EnableRelay: true})
		if err != nil {
			return nil, e.failStep(ctx, sessionID, StepPropose, err, logger)
		}
		if strings.TrimSpace(result.Content) == "" {
			empty := &core.DomainError{
				Category: core.ErrCatProvider,
				Code:     core.CodeEmptyProposal,
				Message:  fmt.Sprintf("%s returned an empty proposal", agent.Name),
			}
			return nil, e.failStep(ctx, sessionID, StepPropose, empty, logger)
		}

		stored, err := e.repo.AddMessage(ctx, &core.Message{
			SessionID: sessionID,
			AgentID:   agent.ID,
			Role:      core.RoleAgentProposal,
			Content:   result.Content,
			Model:     agent.Model,
			Meta: core.MessageMeta{
				Provider:         string(agent.Provider),
				Stage:            string(StepPropose),
				ActualProvider:   string(result.ProviderUsed),
				HTTPRequestCount: result.HTTPRequestCount,
			},
		})
		if err != nil {
			return nil, e.failStep(ctx, sessionID, StepPropose, err, logger)
		}

		eventLog = append(eventLog, fmt.Sprintf("[%s] proposal stored as #%d via %s", agent.Name, stored.ID, agent.Provider))
		e.publish(events.NewProposalStored(sessionID, agent.Slug, stored.ID, string(agent.Provider)))
		logger.WithAgent(agent.Slug).Info("proposal stored",
			"message_id", stored.ID, "relay_requests", result.HTTPRequestCount)
	}

	return e.finishStep(ctx, sessionID, StepPropose, eventLog)
}

// voteOutcome is one (agent, proposal) judgment before persistence.
type voteOutcome struct {
	agent    *core.Agent
	proposal *core.Message
	score    int
	reason   string
	fallback bool
}

// runVote fans out one provider call per (agent, other-proposal) pair.
// Judgments are best-effort: a failed or unparsable call degrades to the
// heuristic score, so exactly one vote is persisted per pair regardless.
func (e *Engine) runVote(ctx context.Context, sessionID string, creds core.CredentialMap, logger *logging.Logger) (*StepResult, error) {
	full, err := e.repo.GetSessionFull(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Proposals are read before any vote call starts, so votes only ever
	// target already-written messages.
	proposals := proposalsOf(full)
	eventLog := []string{fmt.Sprintf("vote step started over %d proposals", len(proposals))}

	type voteJob struct {
		agent    *core.Agent
		proposal *core.Message
	}
	jobs := make([]voteJob, 0, len(full.Agents)*len(proposals))
	for _, agent := range full.Agents {
		eligible := 0
		for _, proposal := range proposals {
			if proposal.AgentID == agent.ID {
				continue
			}
			jobs = append(jobs, voteJob{agent: agent, proposal: proposal})
			eligible++
		}
		if eligible == 0 {
			eventLog = append(eventLog, fmt.Sprintf("[%s] skipped: no eligible proposals to vote on", agent.Name))
		}
	}

	outcomes := make([]voteOutcome, len(jobs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			outcome := e.judgeProposal(gctx, job.agent, job.proposal, full.Session.Question, creds, logger)
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	// Judgments never return errors; the join only awaits completion.
	_ = g.Wait()

	for _, outcome := range outcomes {
		stored, err := e.repo.AddVote(ctx, &core.Vote{
			SessionID:       sessionID,
			AgentID:         outcome.agent.ID,
			TargetMessageID: outcome.proposal.ID,
			Score:           outcome.score,
			Rationale:       outcome.reason,
		})
		if err != nil {
			return nil, e.failStep(ctx, sessionID, StepVote, err, logger)
		}

		label := "model"
		if outcome.fallback {
			label = "heuristic"
		}
		eventLog = append(eventLog, fmt.Sprintf("[%s] voted %d on #%d (%s)",
			outcome.agent.Name, stored.Score, stored.TargetMessageID, label))
		e.publish(events.NewVoteStored(sessionID, outcome.agent.Slug, stored.TargetMessageID, stored.Score, outcome.fallback))
	}

	return e.finishStep(ctx, sessionID, StepVote, eventLog)
}

// judgeProposal obtains one agent's score for one proposal. It cannot
// fail: parse failures and provider errors both collapse into the
// deterministic heuristic.
func (e *Engine) judgeProposal(ctx context.Context, agent *core.Agent, proposal *core.Message, question string, creds core.CredentialMap, logger *logging.Logger) voteOutcome {
	outcome := voteOutcome{agent: agent, proposal: proposal}

	conversation := buildVotePrompt(agent, question, proposal.Content)
	result, err := e.invoker.Invoke(ctx, agent, creds, conversation, providers.Options{})
	if err == nil {
		if parsed := votes.Parse(result.Content); parsed != nil {
			outcome.score = votes.Normalize(parsed)
			outcome.reason = parsed.Reason
			return outcome
		}
		logger.WithAgent(agent.Slug).Warn("vote response not parseable, using heuristic",
			"target_message_id", proposal.ID)
	} else {
		logger.WithAgent(agent.Slug).Warn("vote invocation failed, using heuristic",
			"target_message_id", proposal.ID, "error", err)
	}

	outcome.score = votes.HeuristicScore(proposal.Content)
	outcome.reason = votes.HeuristicRationale(agent.Name)
	outcome.fallback = true
	return outcome
}

// runConsensus sums vote scores per proposal and selects the strict
// maximum; the first proposal reaching the running best stands on ties.
// Zero proposals is a recorded failure state, not an error return.
func (e *Engine) runConsensus(ctx context.Context, sessionID string, logger *logging.Logger) (*StepResult, error) {
	full, err := e.repo.GetSessionFull(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	proposals := proposalsOf(full)
	eventLog := []string{fmt.Sprintf("consensus step started over %d proposals", len(proposals))}

	if len(proposals) == 0 {
		eventLog = append(eventLog, "no proposals exist; consensus cannot be selected")
		if err := e.repo.SetSessionStatus(ctx, sessionID, core.SessionStatusError, "no proposals to select consensus from"); err != nil {
			return nil, err
		}
		e.publish(events.NewStepFailed(sessionID, string(StepConsensus), "no proposals"))
		logger.Warn("consensus step found no proposals")
		return e.finishStep(ctx, sessionID, StepConsensus, eventLog)
	}

	totals := make(map[int64]int)
	for _, vote := range full.Votes {
		totals[vote.TargetMessageID] += vote.Score
	}

	winner := proposals[0]
	bestScore := totals[winner.ID]
	for _, proposal := range proposals[1:] {
		if totals[proposal.ID] > bestScore {
			winner = proposal
			bestScore = totals[proposal.ID]
		}
	}
	eventLog = append(eventLog, fmt.Sprintf("proposal #%d wins with total score %d", winner.ID, bestScore))

	echoed, err := e.repo.AddMessage(ctx, &core.Message{
		SessionID: sessionID,
		Role:      core.RoleConsensus,
		Content:   winner.Content,
		Meta: core.MessageMeta{
			Stage:         string(StepConsensus),
			FromMessageID: winner.ID,
			TotalScore:    bestScore,
		},
	})
	if err != nil {
		return nil, e.failStep(ctx, sessionID, StepConsensus, err, logger)
	}

	if _, err := e.repo.UpsertConsensus(ctx, &core.Consensus{
		SessionID:      sessionID,
		FinalMessageID: winner.ID,
		Summary:        preview(winner.Content),
	}); err != nil {
		return nil, e.failStep(ctx, sessionID, StepConsensus, err, logger)
	}

	if err := e.repo.SetSessionStatus(ctx, sessionID, core.SessionStatusConsensus, ""); err != nil {
		return nil, e.failStep(ctx, sessionID, StepConsensus, err, logger)
	}

	eventLog = append(eventLog, fmt.Sprintf("consensus echoed as #%d", echoed.ID))
	e.publish(events.NewConsensusReached(sessionID, winner.ID, bestScore))
	logger.Info("consensus reached", "winning_message_id", winner.ID, "winning_score", bestScore)

	return e.finishStep(ctx, sessionID, StepConsensus, eventLog)
}

// finishStep re-reads persisted state and derives diagnostics from it.
func (e *Engine) finishStep(ctx context.Context, sessionID string, step Step, eventLog []string) (*StepResult, error) {
	full, err := e.repo.GetSessionFull(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &StepResult{
		Step:        step,
		Session:     full,
		Diagnostics: BuildDiagnostics(string(step), full, eventLog),
	}, nil
}

// failStep marks the session errored and returns the cause. The status
// write is best-effort; the original error always wins.
func (e *Engine) failStep(ctx context.Context, sessionID string, step Step, cause error, logger *logging.Logger) error {
	logger.Error("step failed", "error", cause)
	if err := e.repo.SetSessionStatus(ctx, sessionID, core.SessionStatusError, cause.Error()); err != nil {
		logger.Error("recording step failure", "error", err)
	}
	e.publish(events.NewStepFailed(sessionID, string(step), cause.Error()))
	return cause
}

func (e *Engine) publish(event events.Event) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

func proposalsOf(full *core.SessionFull) []*core.Message {
	proposals := make([]*core.Message, 0, len(full.Messages))
	for _, msg := range full.Messages {
		if msg.Role == core.RoleAgentProposal {
			proposals = append(proposals, msg)
		}
	}
	return proposals
}

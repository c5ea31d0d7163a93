package deliberation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magi-sh/magi/internal/core"
	"github.com/magi-sh/magi/internal/logging"
	"github.com/magi-sh/magi/internal/promptctx"
	"github.com/magi-sh/magi/internal/providers"
	"github.com/magi-sh/magi/internal/testutil"
)

func newTestEngine(repo *testutil.MockRepository, invoker *testutil.MockInvoker) *Engine {
	logger := logging.NewNop()
	assembler := promptctx.New(nil, nil, logger)
	return NewEngine(repo, invoker, assembler, logger)
}

func newTestSession(t *testing.T, repo *testutil.MockRepository) *core.Session {
	t.Helper()
	session, err := repo.CreateSession(context.Background(), "user-1", "How should we cache sessions?", "", "")
	require.NoError(t, err)
	return session
}

func testCreds() core.CredentialMap {
	return core.CredentialMap{"openai": "sk-test", "anthropic": "sk-ant-test", "grok": "xai-test"}
}

func TestProposeCreatesOneProposalPerAgent(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)

	result, err := engine.RunStep(context.Background(), session.ID, StepPropose, testCreds())
	require.NoError(t, err)

	proposals := 0
	for _, msg := range result.Session.Messages {
		if msg.Role == core.RoleAgentProposal {
			proposals++
		}
	}
	assert.Equal(t, 3, proposals)
	assert.Equal(t, 3, result.Diagnostics.Totals.Proposals)
	assert.Equal(t, core.SessionStatusRunning, result.Session.Session.Status)
}

func TestProposeAssignsMonotonicMessageIDs(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)

	result, err := engine.RunStep(context.Background(), session.ID, StepPropose, testCreds())
	require.NoError(t, err)

	var last int64
	for _, msg := range result.Session.Messages {
		assert.Greater(t, msg.ID, last)
		last = msg.ID
	}
}

func TestProposeEnablesRelayTool(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)

	_, err := engine.RunStep(context.Background(), session.ID, StepPropose, testCreds())
	require.NoError(t, err)

	for _, call := range invoker.Calls() {
		assert.True(t, call.Options.EnableRelay)
	}
}

func TestProposeAgentFailureIsFatal(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	invoker.Errors[core.SlugBalthasar] = core.ErrProvider(core.ProviderAnthropic, 500, "upstream exploded")
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)

	_, err := engine.RunStep(context.Background(), session.ID, StepPropose, testCreds())
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatProvider))

	full, err := repo.GetSessionFull(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionStatusError, full.Session.Status)
	assert.NotEmpty(t, full.Session.Error)
}

func TestProposeEmptyContentIsFatal(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	invoker.Responses[core.SlugCasper] = "   \n\t  "
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)

	_, err := engine.RunStep(context.Background(), session.ID, StepPropose, testCreds())
	require.Error(t, err)

	var domErr *core.DomainError
	require.True(t, errors.As(err, &domErr))
	assert.Equal(t, core.CodeEmptyProposal, domErr.Code)
}

func TestRepeatedProposeDuplicatesSideEffects(t *testing.T) {
	// Steps are not re-entrant: re-running a completed step re-executes
	// its writes, and avoiding that is the caller's responsibility.
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)

	_, err := engine.RunStep(context.Background(), session.ID, StepPropose, testCreds())
	require.NoError(t, err)
	result, err := engine.RunStep(context.Background(), session.ID, StepPropose, testCreds())
	require.NoError(t, err)

	assert.Equal(t, 6, result.Diagnostics.Totals.Proposals)
}

func seedProposals(t *testing.T, engine *Engine, sessionID string) {
	t.Helper()
	_, err := engine.RunStep(context.Background(), sessionID, StepPropose, testCreds())
	require.NoError(t, err)
}

func TestVotePersistsOneVotePerEligiblePair(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)
	seedProposals(t, engine, session.ID)

	result, err := engine.RunStep(context.Background(), session.ID, StepVote, testCreds())
	require.NoError(t, err)

	// 3 agents, each voting on the other 2 proposals.
	assert.Len(t, result.Session.Votes, 6)
	for _, vote := range result.Session.Votes {
		assert.GreaterOrEqual(t, vote.Score, 0)
		assert.LessOrEqual(t, vote.Score, 100)
	}
}

func TestVoteNeverTargetsOwnProposal(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)
	seedProposals(t, engine, session.ID)

	result, err := engine.RunStep(context.Background(), session.ID, StepVote, testCreds())
	require.NoError(t, err)

	authors := make(map[int64]string)
	for _, msg := range result.Session.Messages {
		if msg.Role == core.RoleAgentProposal {
			authors[msg.ID] = msg.AgentID
		}
	}
	for _, vote := range result.Session.Votes {
		author, ok := authors[vote.TargetMessageID]
		require.True(t, ok, "vote targets a non-proposal message")
		assert.NotEqual(t, author, vote.AgentID)
	}
}

func TestVoteParsesModelJudgment(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)
	seedProposals(t, engine, session.ID)

	invoker.InvokeFunc = func(ctx context.Context, agent *core.Agent, creds core.CredentialMap, conversation []providers.Message, opts providers.Options) (*providers.Result, error) {
		return &providers.Result{
			Content:      `{"score": 87, "reason": "solid"}`,
			ProviderUsed: agent.Provider,
		}, nil
	}

	result, err := engine.RunStep(context.Background(), session.ID, StepVote, testCreds())
	require.NoError(t, err)

	for _, vote := range result.Session.Votes {
		assert.Equal(t, 87, vote.Score)
		assert.Equal(t, "solid", vote.Rationale)
	}
}

func TestVoteFallsBackOnProviderFailure(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)
	seedProposals(t, engine, session.ID)

	invoker.Errors[core.SlugMelchior] = core.ErrTimeout("provider call exceeded 20s")
	invoker.Responses[core.SlugCasper] = "definitely not json"
	invoker.Responses[core.SlugBalthasar] = `{"score": 70, "reason": "decent"}`

	result, err := engine.RunStep(context.Background(), session.ID, StepVote, testCreds())
	require.NoError(t, err)
	require.Len(t, result.Session.Votes, 6)

	fallbacks := 0
	for _, vote := range result.Session.Votes {
		if vote.AgentID == "agent-balthasar" {
			assert.Equal(t, 70, vote.Score)
			continue
		}
		// Unparsable and failed calls both take the heuristic path.
		assert.Contains(t, vote.Rationale, "heuristic")
		assert.GreaterOrEqual(t, vote.Score, 30)
		assert.LessOrEqual(t, vote.Score, 90)
		fallbacks++
	}
	assert.Equal(t, 4, fallbacks)

	perAgent := make(map[string]int)
	for _, ad := range result.Diagnostics.Agents {
		perAgent[ad.Slug] = ad.FallbackTriggers
	}
	assert.Equal(t, 2, perAgent[core.SlugCasper])
	assert.Equal(t, 0, perAgent[core.SlugBalthasar])
	assert.Equal(t, 2, perAgent[core.SlugMelchior])
}

func TestVoteSkipsAgentWithNoEligibleTargets(t *testing.T) {
	repo := testutil.NewMockRepository().WithAgents([]*core.Agent{
		{ID: "agent-solo", Slug: "solo", Name: "Solo", Provider: core.ProviderOpenAI, Model: "gpt-4o"},
	})
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)
	seedProposals(t, engine, session.ID)

	result, err := engine.RunStep(context.Background(), session.ID, StepVote, testCreds())
	require.NoError(t, err)

	assert.Empty(t, result.Session.Votes)
	found := false
	for _, event := range result.Diagnostics.Events {
		if event == "[Solo] skipped: no eligible proposals to vote on" {
			found = true
		}
	}
	assert.True(t, found, "expected a skip note in the event log")
}

// voteWith persists a vote directly, bypassing the vote step.
func voteWith(t *testing.T, repo *testutil.MockRepository, sessionID, agentID string, target int64, score int) {
	t.Helper()
	_, err := repo.AddVote(context.Background(), &core.Vote{
		SessionID:       sessionID,
		AgentID:         agentID,
		TargetMessageID: target,
		Score:           score,
	})
	require.NoError(t, err)
}

func TestConsensusSelectsStrictMaximum(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)
	seedProposals(t, engine, session.ID)

	full, err := repo.GetSessionFull(context.Background(), session.ID)
	require.NoError(t, err)
	var proposalIDs []int64
	for _, msg := range full.Messages {
		if msg.Role == core.RoleAgentProposal {
			proposalIDs = append(proposalIDs, msg.ID)
		}
	}
	require.Len(t, proposalIDs, 3)

	// P1 totals 120, P2 totals 150, P3 totals 90.
	voteWith(t, repo, session.ID, "agent-balthasar", proposalIDs[0], 60)
	voteWith(t, repo, session.ID, "agent-melchior", proposalIDs[0], 60)
	voteWith(t, repo, session.ID, "agent-casper", proposalIDs[1], 75)
	voteWith(t, repo, session.ID, "agent-melchior", proposalIDs[1], 75)
	voteWith(t, repo, session.ID, "agent-casper", proposalIDs[2], 45)
	voteWith(t, repo, session.ID, "agent-balthasar", proposalIDs[2], 45)

	result, err := engine.RunStep(context.Background(), session.ID, StepConsensus, nil)
	require.NoError(t, err)

	assert.Equal(t, proposalIDs[1], result.Diagnostics.WinningProposalID)
	assert.Equal(t, 150, result.Diagnostics.WinningScore)
	assert.Equal(t, core.SessionStatusConsensus, result.Session.Session.Status)

	require.NotNil(t, result.Session.Consensus)
	assert.Equal(t, proposalIDs[1], result.Session.Consensus.FinalMessageID)

	var echoed *core.Message
	for _, msg := range result.Session.Messages {
		if msg.Role == core.RoleConsensus {
			echoed = msg
		}
	}
	require.NotNil(t, echoed)
	assert.Equal(t, proposalIDs[1], echoed.Meta.FromMessageID)
	assert.Equal(t, 150, echoed.Meta.TotalScore)
}

func TestConsensusTieFirstProposalStands(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)
	seedProposals(t, engine, session.ID)

	full, err := repo.GetSessionFull(context.Background(), session.ID)
	require.NoError(t, err)
	var proposalIDs []int64
	for _, msg := range full.Messages {
		if msg.Role == core.RoleAgentProposal {
			proposalIDs = append(proposalIDs, msg.ID)
		}
	}

	// Equal totals: a later equal score never displaces the running best.
	voteWith(t, repo, session.ID, "agent-balthasar", proposalIDs[0], 80)
	voteWith(t, repo, session.ID, "agent-casper", proposalIDs[1], 80)

	result, err := engine.RunStep(context.Background(), session.ID, StepConsensus, nil)
	require.NoError(t, err)
	assert.Equal(t, proposalIDs[0], result.Diagnostics.WinningProposalID)
}

func TestConsensusWithoutProposalsRecordsFailure(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)

	result, err := engine.RunStep(context.Background(), session.ID, StepConsensus, nil)
	require.NoError(t, err)

	assert.Equal(t, core.SessionStatusError, result.Session.Session.Status)
	assert.Nil(t, result.Session.Consensus)
	for _, msg := range result.Session.Messages {
		assert.NotEqual(t, core.RoleConsensus, msg.Role)
	}
}

func TestParseStep(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Step
		wantErr bool
	}{
		{"propose", "propose", StepPropose, false},
		{"vote", "vote", StepVote, false},
		{"consensus", "consensus", StepConsensus, false},
		{"critique rejected", "critique", "", true},
		{"empty rejected", "", "", true},
		{"garbage rejected", "destroy", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStep(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var domErr *core.DomainError
				require.True(t, errors.As(err, &domErr))
				assert.Equal(t, core.CodeUnknownStep, domErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVoteStorageFailureIsFatal(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)
	seedProposals(t, engine, session.ID)

	repo.FailWith = core.ErrStorage("disk full")
	_, err := engine.RunStep(context.Background(), session.ID, StepVote, testCreds())
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatStorage))
}

func TestDiagnosticsEventsAreHumanReadable(t *testing.T) {
	repo := testutil.NewMockRepository()
	invoker := testutil.NewMockInvoker()
	engine := newTestEngine(repo, invoker)
	session := newTestSession(t, repo)

	result, err := engine.RunStep(context.Background(), session.ID, StepPropose, testCreds())
	require.NoError(t, err)

	require.NotEmpty(t, result.Diagnostics.Events)
	assert.Contains(t, result.Diagnostics.Events[1], "[Casper] proposal stored as #")
	assert.Contains(t, result.Diagnostics.Events[1], fmt.Sprintf("via %s", core.ProviderOpenAI))
}

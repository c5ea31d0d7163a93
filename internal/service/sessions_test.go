package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magi-sh/magi/internal/core"
	"github.com/magi-sh/magi/internal/deliberation"
	"github.com/magi-sh/magi/internal/logging"
	"github.com/magi-sh/magi/internal/promptctx"
	"github.com/magi-sh/magi/internal/testutil"
)

func newTestService(t *testing.T) (*Sessions, *testutil.MockRepository) {
	t.Helper()
	repo := testutil.NewMockRepository()
	logger := logging.NewNop()
	assembler := promptctx.New(testutil.NewMockChunkStore(), nil, logger)
	engine := deliberation.NewEngine(repo, testutil.NewMockInvoker(), assembler, logger)
	return NewSessions(repo, engine, logger), repo
}

func TestCreateRecordsQuestionAsUserMessage(t *testing.T) {
	svc, _ := newTestService(t)

	session, err := svc.Create(context.Background(), "user-1", "  should we ship?  ", "", "")
	require.NoError(t, err)
	assert.Equal(t, core.SessionStatusPending, session.Status)

	full, err := svc.Get(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, full.Messages, 1)
	assert.Equal(t, core.RoleUser, full.Messages[0].Role)
	// The question is persisted trimmed.
	assert.Equal(t, "should we ship?", full.Messages[0].Content)
}

func TestCreateRejectsEmptyQuestion(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), "user-1", "   \n\t ", "", "")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	var domainErr *core.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, core.CodeEmptyQuestion, domainErr.Code)
}

func TestCreateRejectsOversizedQuestion(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), "user-1", strings.Repeat("q", core.MaxQuestionLength+1), "", "")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestRunStepRejectsUnknownStep(t *testing.T) {
	svc, repo := newTestService(t)

	session, err := repo.CreateSession(context.Background(), "user-1", "q", "", "")
	require.NoError(t, err)

	_, err = svc.RunStep(context.Background(), session.ID, "critique", nil)
	require.Error(t, err)
	var domainErr *core.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, core.CodeUnknownStep, domainErr.Code)
}

func TestRunStepProposeEndToEnd(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "user-1", "pick a database", "", "")
	require.NoError(t, err)

	result, err := svc.RunStep(ctx, session.ID, "propose", core.CredentialMap{
		"openai": "sk-test", "anthropic": "sk-ant-test", "grok": "xai-test",
	})
	require.NoError(t, err)
	assert.Equal(t, deliberation.StepPropose, result.Step)
	assert.Equal(t, 3, result.Diagnostics.Totals.Proposals)
}

func TestAgentsListsSeededRoster(t *testing.T) {
	svc, _ := newTestService(t)

	agents, err := svc.Agents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, core.SlugCasper, agents[0].Slug)
	assert.Equal(t, core.SlugBalthasar, agents[1].Slug)
	assert.Equal(t, core.SlugMelchior, agents[2].Slug)
}

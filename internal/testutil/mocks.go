// Package testutil provides in-memory fakes for the engine's ports.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magi-sh/magi/internal/core"
	"github.com/magi-sh/magi/internal/providers"
)

// MockRepository is an in-memory core.SessionRepository. Message IDs are
// assigned from a single monotonic counter, matching the SQLite store.
type MockRepository struct {
	mu        sync.Mutex
	sessions  map[string]*core.Session
	messages  map[string][]*core.Message
	votes     map[string][]*core.Vote
	consensus map[string]*core.Consensus
	agents    []*core.Agent
	nextMsgID int64

	// FailWith, when set, is returned by every method.
	FailWith error
}

// NewMockRepository creates a repository pre-seeded with the three agents.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		sessions:  make(map[string]*core.Session),
		messages:  make(map[string][]*core.Message),
		votes:     make(map[string][]*core.Vote),
		consensus: make(map[string]*core.Consensus),
		agents:    SeedAgents(),
	}
}

// SeedAgents returns the canonical three-agent roster.
func SeedAgents() []*core.Agent {
	return []*core.Agent{
		{ID: "agent-casper", Slug: core.SlugCasper, Name: "Casper", Provider: core.ProviderOpenAI, Model: "gpt-4o", Color: "#22c55e"},
		{ID: "agent-balthasar", Slug: core.SlugBalthasar, Name: "Balthasar", Provider: core.ProviderAnthropic, Model: "claude-sonnet-4-20250514", Color: "#f97316"},
		{ID: "agent-melchior", Slug: core.SlugMelchior, Name: "Melchior", Provider: core.ProviderGrok, Model: "grok-3", Color: "#3b82f6"},
	}
}

// WithAgents replaces the seeded roster.
func (m *MockRepository) WithAgents(agents []*core.Agent) *MockRepository {
	m.agents = agents
	return m
}

// CreateSession stores a new session.
func (m *MockRepository) CreateSession(ctx context.Context, userID, question, artifactID, liveURL string) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	now := time.Now().UTC()
	session := &core.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		Question:   question,
		ArtifactID: artifactID,
		LiveURL:    liveURL,
		Status:     core.SessionStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.sessions[session.ID] = session
	return cloneSession(session), nil
}

// AddMessage appends a message with the next monotonic ID.
func (m *MockRepository) AddMessage(ctx context.Context, msg *core.Message) (*core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return nil, core.ErrNotFound("session", msg.SessionID)
	}

	m.nextMsgID++
	stored := *msg
	stored.ID = m.nextMsgID
	stored.CreatedAt = time.Now().UTC()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &stored)
	clone := stored
	return &clone, nil
}

// AddVote appends a vote.
func (m *MockRepository) AddVote(ctx context.Context, vote *core.Vote) (*core.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if _, ok := m.sessions[vote.SessionID]; !ok {
		return nil, core.ErrNotFound("session", vote.SessionID)
	}

	stored := *vote
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()
	m.votes[vote.SessionID] = append(m.votes[vote.SessionID], &stored)
	clone := stored
	return &clone, nil
}

// SetSessionStatus updates session status and error message.
func (m *MockRepository) SetSessionStatus(ctx context.Context, sessionID string, status core.SessionStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	session, ok := m.sessions[sessionID]
	if !ok {
		return core.ErrNotFound("session", sessionID)
	}
	session.Status = status
	session.Error = errMsg
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// UpsertConsensus stores or replaces the consensus record.
func (m *MockRepository) UpsertConsensus(ctx context.Context, consensus *core.Consensus) (*core.Consensus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if _, ok := m.sessions[consensus.SessionID]; !ok {
		return nil, core.ErrNotFound("session", consensus.SessionID)
	}

	stored := *consensus
	stored.UpdatedAt = time.Now().UTC()
	m.consensus[consensus.SessionID] = &stored
	clone := stored
	return &clone, nil
}

// GetSessionFull returns the materialized view of a session.
func (m *MockRepository) GetSessionFull(ctx context.Context, sessionID string) (*core.SessionFull, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, core.ErrNotFound("session", sessionID)
	}

	full := &core.SessionFull{
		Session:  cloneSession(session),
		Messages: make([]*core.Message, 0, len(m.messages[sessionID])),
		Votes:    make([]*core.Vote, 0, len(m.votes[sessionID])),
		Agents:   m.agents,
	}
	for _, msg := range m.messages[sessionID] {
		clone := *msg
		full.Messages = append(full.Messages, &clone)
	}
	for _, vote := range m.votes[sessionID] {
		clone := *vote
		full.Votes = append(full.Votes, &clone)
	}
	if c, ok := m.consensus[sessionID]; ok {
		clone := *c
		full.Consensus = &clone
	}
	return full, nil
}

// ListAgents returns the seeded agents.
func (m *MockRepository) ListAgents(ctx context.Context) ([]*core.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	return m.agents, nil
}

func cloneSession(s *core.Session) *core.Session {
	clone := *s
	return &clone
}

// MockInvoker implements providers.Invoker with scripted per-agent
// behavior.
type MockInvoker struct {
	mu sync.Mutex
	// InvokeFunc, when set, handles every call.
	InvokeFunc func(ctx context.Context, agent *core.Agent, creds core.CredentialMap, conversation []providers.Message, opts providers.Options) (*providers.Result, error)
	// Responses maps agent slug to canned content, used when InvokeFunc is nil.
	Responses map[string]string
	// Errors maps agent slug to a forced error, checked before Responses.
	Errors map[string]error
	calls  []InvokeCall
}

// InvokeCall records one invocation.
type InvokeCall struct {
	AgentSlug    string
	Conversation []providers.Message
	Options      providers.Options
}

// NewMockInvoker creates an invoker that echoes a canned response.
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		Responses: make(map[string]string),
		Errors:    make(map[string]error),
	}
}

// Invoke implements providers.Invoker.
func (m *MockInvoker) Invoke(ctx context.Context, agent *core.Agent, creds core.CredentialMap, conversation []providers.Message, opts providers.Options) (*providers.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, InvokeCall{AgentSlug: agent.Slug, Conversation: conversation, Options: opts})
	m.mu.Unlock()

	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, agent, creds, conversation, opts)
	}
	if err, ok := m.Errors[agent.Slug]; ok && err != nil {
		return nil, err
	}
	content, ok := m.Responses[agent.Slug]
	if !ok {
		content = fmt.Sprintf("mock response from %s", agent.Slug)
	}
	return &providers.Result{
		Content:      content,
		ProviderUsed: agent.Provider,
	}, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockInvoker) Calls() []InvokeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]InvokeCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns the number of invocations so far.
func (m *MockInvoker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockChunkStore is an in-memory core.ChunkStore.
type MockChunkStore struct {
	Artifacts map[string]*core.Artifact
	Chunks    map[string][]*core.Chunk
}

// NewMockChunkStore creates an empty chunk store.
func NewMockChunkStore() *MockChunkStore {
	return &MockChunkStore{
		Artifacts: make(map[string]*core.Artifact),
		Chunks:    make(map[string][]*core.Chunk),
	}
}

// GetArtifact implements core.ChunkStore.
func (m *MockChunkStore) GetArtifact(ctx context.Context, id string) (*core.Artifact, error) {
	artifact, ok := m.Artifacts[id]
	if !ok {
		return nil, core.ErrNotFound("artifact", id)
	}
	return artifact, nil
}

// ListArtifactChunks implements core.ChunkStore.
func (m *MockChunkStore) ListArtifactChunks(ctx context.Context, artifactID string, limit int, languageFilter string) ([]*core.Chunk, error) {
	chunks := m.Chunks[artifactID]
	result := make([]*core.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if languageFilter != "" && chunk.Language != languageFilter {
			continue
		}
		result = append(result, chunk)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewStepStarted("sess-1", "propose"))

	event := <-ch
	assert.Equal(t, TypeStepStarted, event.EventType())
	assert.Equal(t, "sess-1", event.SessionID())
	assert.False(t, event.Timestamp().IsZero())
}

func TestSubscribeFiltersByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	votes := bus.Subscribe(TypeVoteStored)
	bus.Publish(NewStepStarted("sess-1", "vote"))
	bus.Publish(NewVoteStored("sess-1", "casper", 4, 87, false))
	bus.Publish(NewConsensusReached("sess-1", 4, 150))

	event := <-votes
	require.Equal(t, TypeVoteStored, event.EventType())
	vote, ok := event.(VoteStoredEvent)
	require.True(t, ok)
	assert.Equal(t, "casper", vote.AgentSlug)
	assert.Equal(t, int64(4), vote.TargetMessageID)
	assert.Equal(t, 87, vote.Score)

	// Only the matching event was delivered.
	assert.Empty(t, votes)
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()
	bus.Publish(NewStepFailed("sess-1", "consensus", "no proposals"))

	for _, ch := range []<-chan Event{a, b} {
		event := <-ch
		failed, ok := event.(StepFailedEvent)
		require.True(t, ok)
		assert.Equal(t, "no proposals", failed.Error)
	}
}

func TestFullBufferDropsOldest(t *testing.T) {
	bus := New(2)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewProposalStored("sess-1", "casper", 1, "openai"))
	bus.Publish(NewProposalStored("sess-1", "balthasar", 2, "anthropic"))
	bus.Publish(NewProposalStored("sess-1", "melchior", 3, "grok"))

	first := (<-ch).(ProposalStoredEvent)
	second := (<-ch).(ProposalStoredEvent)
	assert.Equal(t, int64(2), first.MessageID)
	assert.Equal(t, int64(3), second.MessageID)
	assert.Equal(t, int64(1), bus.DroppedCount())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(NewStepStarted("sess-1", "propose"))
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := New(10)
	ch := bus.Subscribe()

	bus.Close()
	bus.Close() // second close is a no-op

	_, open := <-ch
	assert.False(t, open)

	bus.Publish(NewStepStarted("sess-1", "propose"))
	assert.Equal(t, int64(0), bus.DroppedCount())
}

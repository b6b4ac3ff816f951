package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := b.Subscribe(ctx, "sess-1")
	defer unsubscribe()

	b.Publish("sess-1", Event{"type": "agent_message", "data": "hi"})

	select {
	case evt := <-events:
		assert.Equal(t, "agent_message", evt["type"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishDoesNotCrossSessions(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := b.Subscribe(ctx, "sess-1")
	defer unsubscribe()

	b.Publish("sess-2", Event{"type": "agent_message"})

	select {
	case <-events:
		t.Fatal("received event published to a different session")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_Unsubscribe_RemovesFromRegistry(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, unsubscribe := b.Subscribe(ctx, "sess-1")
	require.Equal(t, 1, b.SubscriberCount("sess-1"))

	unsubscribe()
	assert.Equal(t, 0, b.SubscriberCount("sess-1"))
}

func TestBus_Publish_NeverBlocksOnUndrainedSubscriber(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const eventCount = 10_000
	b.Subscribe(ctx, "sess-1") // no reader draining events

	done := make(chan struct{})
	go func() {
		for i := 0; i < eventCount; i++ {
			b.Publish("sess-1", Event{"type": "tool_call", "i": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on an undrained subscriber queue")
	}
}

func TestBus_Publish_QueuesEveryEventForASlowSubscriber(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const eventCount = 500
	events, unsubscribe := b.Subscribe(ctx, "sess-1")
	defer unsubscribe()

	for i := 0; i < eventCount; i++ {
		b.Publish("sess-1", Event{"type": "tool_call", "i": i})
	}

	seen := 0
	for seen < eventCount {
		select {
		case evt := <-events:
			assert.Equal(t, "tool_call", evt["type"])
			seen++
		case <-time.After(time.Second):
			t.Fatalf("only received %d/%d queued events", seen, eventCount)
		}
	}
}

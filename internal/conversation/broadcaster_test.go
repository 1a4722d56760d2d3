// ABOUTME: Tests for EventBroadcaster fan-out pub/sub system
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, concurrency

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-asana/internal/store"
)

func stateEvent(id, convID, state string) *store.LedgerEvent {
	return &store.LedgerEvent{
		ID:        id,
		ThreadID:  convID,
		Direction: store.EventDirectionOutbound,
		Author:    "agent:test",
		Timestamp: time.Now(),
		Type:      store.EventTypeState,
		Text:      state,
	}
}

func TestBroadcaster_SubscribersReceiveEvent(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "conv-1")
	ch2, _ := b.Subscribe(t.Context(), "conv-1")

	b.Publish("conv-1", stateEvent("evt-1", "conv-1", StateFinished))

	for i, ch := range []<-chan *store.LedgerEvent{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "evt-1", got.ID, "subscriber %d", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_ConversationsAreIsolated(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "conv-1")
	ch2, _ := b.Subscribe(t.Context(), "conv-2")

	b.Publish("conv-1", stateEvent("evt-1", "conv-1", StateRunning))

	select {
	case got := <-ch1:
		assert.Equal(t, "evt-1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	select {
	case <-ch2:
		t.Fatal("conv-2 should not receive conv-1 events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	b.Subscribe(t.Context(), "conv-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish("conv-1", stateEvent("evt", "conv-1", StateRunning))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "conv-1")
	assert.Equal(t, 1, b.SubscriberCount("conv-1"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Eventually(t, func() bool { return b.SubscriberCount("conv-1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "conv-1")
	b.Unsubscribe("conv-1", subID)
	b.Unsubscribe("conv-1", subID)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount("conv-1"))
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewEventBroadcaster(nil)

	ch, _ := b.Subscribe(t.Context(), "conv-1")
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(t.Context(), "conv-1")
	_, ok = <-late
	assert.False(t, ok, "subscribe after close returns a closed channel")
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			ch, _ := b.Subscribe(ctx, "conv-1")
			cancel()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish("conv-1", stateEvent("evt", "conv-1", StateRunning))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "concurrent publish/subscribe deadlocked")
	}
}

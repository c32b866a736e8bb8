// ABOUTME: Tests for the message change-event Bus
// ABOUTME: Covers filtering, drops for slow subscribers, cleanup, relay hand-off and concurrency

package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/lectern/internal/store"
)

func makeEvent(id, sender, receiver string) *ChangeEvent {
	return &ChangeEvent{
		ID:   id,
		Type: EventInsert,
		Row: &MessageRow{
			ID:             "msg-" + id,
			ConversationID: "conv-1",
			SenderID:       sender,
			ReceiverID:     receiver,
			Content:        "hello from " + sender,
			CreatedAt:      time.Now().UTC(),
		},
	}
}

func receive(t *testing.T, ch <-chan *ChangeEvent) *ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func expectNothing(t *testing.T, ch <-chan *ChangeEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_TableWideSubscriberReceivesAll(t *testing.T) {
	b := NewBus(nil, 0)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), nil)

	b.Publish(t.Context(), makeEvent("e1", "alice", "bob"))
	b.Publish(t.Context(), makeEvent("e2", "carol", "dave"))

	assert.Equal(t, "e1", receive(t, ch).ID)
	assert.Equal(t, "e2", receive(t, ch).ID)
}

func TestBus_UserFilter(t *testing.T) {
	b := NewBus(nil, 0)
	defer b.Close()

	bobCh, _ := b.Subscribe(t.Context(), ForUser("bob"))
	carolCh, _ := b.Subscribe(t.Context(), ForUser("carol"))

	b.Publish(t.Context(), makeEvent("e1", "alice", "bob"))

	assert.Equal(t, "e1", receive(t, bobCh).ID)
	expectNothing(t, carolCh)
}

func TestBus_PublishStampsEvent(t *testing.T) {
	b := NewBus(nil, 0)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), nil)
	b.Publish(t.Context(), &ChangeEvent{Type: EventUpdate, Row: &MessageRow{ID: "m1"}})

	ev := receive(t, ch)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.At.IsZero())
	assert.Equal(t, TableMessages, ev.Table)
	assert.Equal(t, b.InstanceID(), ev.Origin)
}

func TestBus_PublishMessageEvent(t *testing.T) {
	b := NewBus(nil, 0)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), nil)
	msg := &store.Message{ID: "m1", ConversationID: "c1", SenderID: "a", ReceiverID: "b", Content: "hi", Seq: 7}
	b.Publish(t.Context(), NewMessageEvent(EventInsert, msg))

	ev := receive(t, ch)
	assert.Equal(t, EventInsert, ev.Type)
	assert.Equal(t, "m1", ev.Row.ID)
	assert.Equal(t, int64(7), ev.Row.Seq)
	assert.Equal(t, msg, ev.Row.Message())
}

func TestBus_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBus(nil, 4)
	defer b.Close()

	// Never read from the first subscriber
	_, _ = b.Subscribe(t.Context(), nil)
	fast, _ := b.Subscribe(t.Context(), nil)

	done := make(chan struct{})
	go func() {
		for range 20 {
			b.Publish(t.Context(), makeEvent("overflow", "a", "b"))
		}
		close(done)
	}()

	received := 0
	for {
		select {
		case <-fast:
			received++
		case <-done:
			assert.Greater(t, received+len(fast), 0, "fast consumer should receive events")
			return
		case <-time.After(2 * time.Second):
			t.Fatal("publisher blocked on slow subscriber")
		}
	}
}

func TestBus_ContextCancellationCleansUp(t *testing.T) {
	b := NewBus(nil, 0)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, nil)
	assert.Equal(t, 1, b.SubscriberCount())

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBus_ManualUnsubscribe(t *testing.T) {
	b := NewBus(nil, 0)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), nil)
	b.Unsubscribe(subID)

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing afterwards and unsubscribing twice are both safe
	b.Publish(t.Context(), makeEvent("late", "a", "b"))
	b.Unsubscribe(subID)
}

func TestBus_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewBus(nil, 0)

	ch1, _ := b.Subscribe(t.Context(), nil)
	ch2, _ := b.Subscribe(t.Context(), ForUser("x"))
	b.Close()

	for i, ch := range []<-chan *ChangeEvent{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}

	late, _ := b.Subscribe(t.Context(), nil)
	_, ok := <-late
	assert.False(t, ok, "subscribing to a closed bus returns a closed channel")
}

type recordingRelay struct {
	mu     sync.Mutex
	events []*ChangeEvent
	err    error
}

func (r *recordingRelay) Forward(ctx context.Context, event *ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func TestBus_RelayReceivesPublishedEvents(t *testing.T) {
	b := NewBus(nil, 0)
	defer b.Close()

	relay := &recordingRelay{}
	b.SetRelay(relay)

	ch, _ := b.Subscribe(t.Context(), nil)
	b.Publish(t.Context(), makeEvent("e1", "a", "b"))
	receive(t, ch)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.events, 1)
	assert.Equal(t, b.InstanceID(), relay.events[0].Origin)
}

func TestBus_RelayFailureStillDeliversLocally(t *testing.T) {
	b := NewBus(nil, 0)
	defer b.Close()
	b.SetRelay(&recordingRelay{err: errors.New("redis down")})

	ch, _ := b.Subscribe(t.Context(), nil)
	b.Publish(t.Context(), makeEvent("e1", "a", "b"))
	assert.Equal(t, "e1", receive(t, ch).ID)
}

func TestBus_DeliverDoesNotRelay(t *testing.T) {
	b := NewBus(nil, 0)
	defer b.Close()

	relay := &recordingRelay{}
	b.SetRelay(relay)

	ch, _ := b.Subscribe(t.Context(), nil)
	b.Deliver(makeEvent("remote", "a", "b"))
	assert.Equal(t, "remote", receive(t, ch).ID)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Empty(t, relay.events)
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBus(nil, 0)
	defer b.Close()

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			subCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			ch, _ := b.Subscribe(subCtx, nil)
			for range 5 {
				select {
				case <-ch:
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				b.Publish(ctx, makeEvent("concurrent", "a", "b"))
			}
		})
	}

	wg.Wait()
}

func TestChangeEvent_Involves(t *testing.T) {
	ev := makeEvent("e", "alice", "bob")

	assert.True(t, ev.Involves("alice"))
	assert.True(t, ev.Involves("bob"))
	assert.False(t, ev.Involves("carol"))
	assert.False(t, ev.Involves(""))
	assert.False(t, (&ChangeEvent{}).Involves("alice"))
}

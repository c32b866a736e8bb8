// ABOUTME: In-memory fan-out bus for message row-change events
// ABOUTME: Table-wide subscriptions with per-subscriber filters and an optional cross-instance relay

package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/lectern/internal/store"
)

// DefaultBufferSize is the channel buffer for each subscriber.
const DefaultBufferSize = 64

// Publisher is what services need to announce row changes.
type Publisher interface {
	Publish(ctx context.Context, event *ChangeEvent)
}

// Relay forwards locally published events to other gateway instances.
type Relay interface {
	Forward(ctx context.Context, event *ChangeEvent) error
}

type subscriber struct {
	ch     chan *ChangeEvent
	filter Filter
}

// Bus provides in-memory pub/sub for message change events. Every
// subscription covers the whole messages table; filters narrow it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber // subID -> subscriber
	relay       Relay
	closed      bool

	instanceID string
	bufferSize int
	logger     *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default and 0 for the default
// buffer size.
func NewBus(logger *slog.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		instanceID:  uuid.New().String(),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "realtime"),
	}
}

// InstanceID identifies this bus as the origin of the events it publishes.
func (b *Bus) InstanceID() string {
	return b.instanceID
}

// SetRelay attaches a relay that receives every locally published event.
func (b *Bus) SetRelay(r Relay) {
	b.mu.Lock()
	b.relay = r
	b.mu.Unlock()
}

// Subscribe registers a subscriber. It returns a channel of events and a
// subscription ID. The subscription is removed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, filter Filter) (<-chan *ChangeEvent, string) {
	subID := uuid.New().String()
	sub := &subscriber{
		ch:     make(chan *ChangeEvent, b.bufferSize),
		filter: filter,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, subID
	}
	b.subscribers[subID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return sub.ch, subID
}

// Publish stamps the event with an ID, time and this instance as origin,
// delivers it locally and hands it to the relay if one is attached.
func (b *Bus) Publish(ctx context.Context, event *ChangeEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if event.Table == "" {
		event.Table = TableMessages
	}
	event.Origin = b.instanceID

	b.Deliver(event)

	b.mu.RLock()
	relay := b.relay
	b.mu.RUnlock()

	if relay != nil {
		if err := relay.Forward(ctx, event); err != nil {
			b.logger.Warn("failed to relay event", "event_id", event.ID, "error", err)
		}
	}
}

// NewMessageEvent builds a change event for one message row. Publish
// stamps the id, time and origin.
func NewMessageEvent(typ EventType, msg *store.Message) *ChangeEvent {
	return &ChangeEvent{Type: typ, Row: RowFromMessage(msg)}
}

// Deliver fans event out to local subscribers only. Non-blocking: events
// are dropped for subscribers whose channels are full.
func (b *Bus) Deliver(event *ChangeEvent) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	ids := make([]string, 0, len(b.subscribers))
	for id, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		targets = append(targets, sub)
		ids = append(ids, id)
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; the select never blocks.
	for i, sub := range targets {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("dropped event for slow subscriber",
				"sub_id", ids[i],
				"event_id", event.ID)
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(sub.ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, subID)
	}
	b.closed = true

	b.logger.Debug("bus closed")
}

var _ Publisher = (*Bus)(nil)

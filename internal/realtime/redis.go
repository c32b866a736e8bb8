// ABOUTME: Redis pub/sub relay that joins the buses of several gateway instances
// ABOUTME: Forwards local events to a channel and delivers remote ones, skipping its own echoes

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRelayChannel is the Redis channel used when none is configured.
const DefaultRelayChannel = "lectern:messages"

// RedisRelay publishes bus events to Redis and feeds events from other
// instances back into the local bus.
type RedisRelay struct {
	client  *redis.Client
	channel string
	bus     *Bus
	logger  *slog.Logger
}

// NewRedisRelay connects to url, verifies the connection with a ping and
// attaches itself to bus. Call Run to start receiving.
func NewRedisRelay(ctx context.Context, url, channel string, bus *Bus) (*RedisRelay, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	if channel == "" {
		channel = DefaultRelayChannel
	}

	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	r := &RedisRelay{
		client:  c,
		channel: channel,
		bus:     bus,
		logger:  bus.logger.With("relay", "redis"),
	}
	bus.SetRelay(r)
	return r, nil
}

// Forward publishes a locally originated event to the relay channel.
func (r *RedisRelay) Forward(ctx context.Context, event *ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// Run receives events from the relay channel until ctx is cancelled.
// Events that this instance published are skipped; they were already
// delivered locally.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reading
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var event ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.logger.Warn("discarding malformed relay event", "error", err)
		return
	}
	if event.Origin == r.bus.InstanceID() {
		return
	}
	r.bus.Deliver(&event)
}

// Close detaches the relay from the bus and closes the Redis client.
func (r *RedisRelay) Close() error {
	r.bus.SetRelay(nil)
	return r.client.Close()
}

var _ Relay = (*RedisRelay)(nil)

package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// subscriberBuffer matches the in-process bus so both deployments drop
// under the same backlog.
const subscriberBuffer = 128

// SignalBus carries session events and external quotes between processes
// over Redis Pub/Sub. Delivery is at-most-once: a subscriber that is
// disconnected or too slow misses messages, and the audit log remains the
// durable record.
type SignalBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client, logger *slog.Logger) *SignalBus {
	return &SignalBus{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "redis_bus")),
	}
}

// Publish sends payload on channel. A message nobody is subscribed to is
// not an error.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	receivers, err := sb.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	if receivers == 0 {
		sb.logger.DebugContext(ctx, "redis: published with no subscribers", slog.String("channel", channel))
	}
	return nil
}

// Subscribe confirms the subscription with Redis before returning, so a
// publish that follows is delivered. The returned channel closes with ctx.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	msgs := pubsub.Channel(redis.WithChannelSize(subscriberBuffer))
	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					sb.logger.WarnContext(ctx, "redis: subscriber full, dropping message",
						slog.String("channel", channel),
					)
				}
			}
		}
	}()
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)

// Package events provides an in-process SignalBus for single-node runs where
// Redis is disabled.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

const subscriberBuffer = 128

type subscriber struct {
	ch  chan []byte
	ctx context.Context
}

// LocalBus fans published payloads out to every subscriber of a channel.
// Slow subscribers drop messages rather than block publishers.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	logger *slog.Logger
}

// NewLocalBus creates an empty bus.
func NewLocalBus(logger *slog.Logger) *LocalBus {
	return &LocalBus{
		subs:   make(map[string][]*subscriber),
		logger: logger.With(slog.String("component", "local_bus")),
	}
}

// Publish delivers payload to the current subscribers of channel.
func (b *LocalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs[channel] {
		if s.ctx.Err() != nil {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
			b.logger.WarnContext(ctx, "local_bus: subscriber full, dropping message",
				slog.String("channel", channel),
			)
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel. The channel is
// closed when ctx is cancelled.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{ch: make(chan []byte, subscriberBuffer), ctx: ctx}

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], s)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, cand := range list {
			if cand == s {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(s.ch)
	}()

	return s.ch, nil
}

var _ domain.SignalBus = (*LocalBus)(nil)

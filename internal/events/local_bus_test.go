package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBus_FanOut(t *testing.T) {
	t.Parallel()
	bus := NewLocalBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx, "session_events")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "session_events")
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, "other")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "session_events", []byte("hello")))

	for _, ch := range []<-chan []byte{a, b} {
		select {
		case msg := <-ch:
			assert.Equal(t, "hello", string(msg))
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
	select {
	case <-other:
		t.Fatal("unexpected message on other channel")
	default:
	}
}

func TestLocalBus_CloseOnCancel(t *testing.T) {
	t.Parallel()
	bus := NewLocalBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "x")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	// Publishing after the subscriber left is harmless.
	assert.NoError(t, bus.Publish(context.Background(), "x", []byte("late")))
}

package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/events"
	"github.com/alanyoungcy/tradeguard/internal/server/middleware"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, srv *httptest.Server, trader string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if trader != "" {
		url += "?trader=" + trader
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHubRoutesEventsByTrader(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewLocalBus(logger)
	hub := NewHub(bus, "server", nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	// Stand-in for the auth middleware: trust ?trader=.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tr := r.URL.Query().Get("trader"); tr != "" {
			r = r.WithContext(middleware.WithTrader(r.Context(), tr))
		}
		hub.HandleWS(w, r)
	}))
	defer srv.Close()

	alice := dial(t, srv, "alice")
	admin := dial(t, srv, "")
	assert.Equal(t, "hello", readFrame(t, alice).Type)
	assert.Equal(t, "hello", readFrame(t, admin).Type)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	publish := func(trader string) {
		data, err := json.Marshal(domain.SessionEvent{Kind: domain.EventTradeClosed, TraderID: trader})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, domain.SessionEventsChannel, data))
	}
	publish("bob")
	publish("alice")

	// The admin connection sees both, in order.
	var got []string
	for i := 0; i < 2; i++ {
		f := readFrame(t, admin)
		require.Equal(t, "session_event", f.Type)
		var evt domain.SessionEvent
		require.NoError(t, json.Unmarshal(f.Payload, &evt))
		got = append(got, evt.TraderID)
	}
	assert.Equal(t, []string{"bob", "alice"}, got)

	// Alice only sees her own.
	f := readFrame(t, alice)
	var evt domain.SessionEvent
	require.NoError(t, json.Unmarshal(f.Payload, &evt))
	assert.Equal(t, "alice", evt.TraderID)
}

func TestClientKindFilter(t *testing.T) {
	t.Parallel()

	c := &client{kinds: map[domain.EventKind]bool{}}
	locked := domain.SessionEvent{Kind: domain.EventBreakerLocked}
	closed := domain.SessionEvent{Kind: domain.EventTradeClosed}
	assert.True(t, c.wants(closed))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Kinds: []domain.EventKind{domain.EventBreakerLocked}})
	assert.True(t, c.wants(locked))
	assert.False(t, c.wants(closed))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Kinds: []domain.EventKind{domain.EventBreakerLocked}})
	assert.True(t, c.wants(closed))

	c.trader = "alice"
	assert.False(t, c.wants(domain.SessionEvent{Kind: domain.EventTradeClosed, TraderID: "bob"}))
}

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// subscribeCommand is sent once per connection.
type subscribeCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// QuoteStream keeps a websocket quote connection open and writes every tick
// into a PriceCache. It reconnects with exponential backoff until ctx ends.
type QuoteStream struct {
	url     string
	symbols []string
	prices  domain.PriceCache
	now     func() time.Time
	logger  *slog.Logger
}

// NewQuoteStream creates a QuoteStream for the given symbols.
func NewQuoteStream(url string, symbols []string, prices domain.PriceCache, logger *slog.Logger) *QuoteStream {
	return &QuoteStream{
		url:     url,
		symbols: symbols,
		prices:  prices,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "quote_stream")),
	}
}

// Run blocks until ctx is cancelled.
func (q *QuoteStream) Run(ctx context.Context) error {
	if len(q.symbols) == 0 {
		q.logger.Info("quote stream: no symbols configured, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		started := time.Now()
		err := q.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A connection that stayed up a while resets the backoff.
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		q.logger.Warn("quote stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (q *QuoteStream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, q.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", q.url, err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Action: "subscribe", Symbols: q.symbols}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	q.logger.Info("quote stream subscribed", slog.Int("symbols", len(q.symbols)))

	// Closing the connection unblocks ReadMessage when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		if err := q.handle(ctx, data); err != nil {
			q.logger.Debug("quote stream: dropped message", slog.String("error", err.Error()))
		}
	}
}

// handle accepts a single quote or an array of quotes.
func (q *QuoteStream) handle(ctx context.Context, data []byte) error {
	var batch []Quote
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &batch); err != nil {
			return err
		}
	} else {
		var one Quote
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		batch = []Quote{one}
	}

	now := q.now()
	for _, quote := range batch {
		sym, price, ts, err := quote.last(now)
		if err != nil {
			continue
		}
		if err := q.prices.SetPrice(ctx, sym, price, ts); err != nil {
			return err
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

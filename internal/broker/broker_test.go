package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/crypto"
	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/feed"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func order(dir domain.Direction) domain.OrderRequest {
	return domain.OrderRequest{
		ClientOrderID: "c1",
		SessionID:     "s1",
		Symbol:        "AAPL",
		Direction:     dir,
		Shares:        200,
		StopLossPrice: d("49"),
		Target1Price:  d("51"),
		Target1Shares: 100,
	}
}

func TestPaperFillsWithSlippage(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 13, 15, 0, 0, 0, time.UTC)
	f := feed.NewStaticFeed(func() time.Time { return at })
	f.Set("AAPL", d("50"))
	p := NewPaper(f, d("10000"), 10)

	res, err := p.SubmitOrder(context.Background(), order(domain.DirectionLong))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, "50.05", res.FilledPrice.String())
	assert.Equal(t, at, res.SubmittedAt)

	res, err = p.SubmitOrder(context.Background(), order(domain.DirectionShort))
	require.NoError(t, err)
	assert.Equal(t, "49.95", res.FilledPrice.String())
	assert.Len(t, p.Orders(), 2)

	eq, err := p.Equity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10000", eq.String())
}

func TestPaperRejectsWithoutPrice(t *testing.T) {
	t.Parallel()

	p := NewPaper(feed.NewStaticFeed(nil), d("10000"), 0)
	res, err := p.SubmitOrder(context.Background(), order(domain.DirectionLong))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Contains(t, res.Message, "AAPL")
	assert.Empty(t, p.Orders())
}

func TestPaperHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	f := feed.NewStaticFeed(nil)
	f.Set("AAPL", d("50"))
	p := NewPaper(f, d("10000"), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.SubmitOrder(ctx, order(domain.DirectionLong))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPSubmitSignedOrder(t *testing.T) {
	t.Parallel()

	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ordersPath, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.True(t, auth.Verify(
			r.Header.Get(crypto.HeaderTimestamp), r.Method, r.URL.Path, body,
			r.Header.Get(crypto.HeaderSignature),
		))

		var req domain.OrderRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, int64(200), req.Shares)

		_ = json.NewEncoder(w).Encode(domain.OrderResult{
			Success:     true,
			OrderID:     "o-1",
			Status:      domain.OrderStatusFilled,
			FilledPrice: d("50.01"),
		})
	}))
	defer srv.Close()

	b := NewHTTP(srv.URL+"/", "k", "s", 2*time.Second)
	res, err := b.SubmitOrder(context.Background(), order(domain.DirectionLong))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "o-1", res.OrderID)
	assert.Equal(t, "50.01", res.FilledPrice.String())
}

func TestHTTPRejectionAndServerError(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusUnprocessableEntity)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"message":"insufficient buying power"}`))
	}))
	defer srv.Close()

	b := NewHTTP(srv.URL, "", "", 2*time.Second)
	res, err := b.SubmitOrder(context.Background(), order(domain.DirectionLong))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient buying power", res.Message)

	status.Store(http.StatusBadGateway)
	_, err = b.SubmitOrder(context.Background(), order(domain.DirectionLong))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPTimeoutIsContextError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	b := NewHTTP(srv.URL, "", "", 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.SubmitOrder(ctx, order(domain.DirectionLong))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPEquity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, accountPath, r.URL.Path)
		_, _ = w.Write([]byte(`{"equity":"25000.50"}`))
	}))
	defer srv.Close()

	eq, err := NewHTTP(srv.URL, "", "", time.Second).Equity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "25000.5", eq.String())
}

package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoTrader writes the authenticated trader, or "-".
var echoTrader = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, ok := TraderFrom(r.Context())
	if !ok {
		id = "-"
	}
	_, _ = w.Write([]byte(id))
})

func TestAuthDisabledPassesThrough(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Auth(AuthConfig{})(echoTrader).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "-", rec.Body.String())
}

func TestAuthAPIKeyAndJWT(t *testing.T) {
	t.Parallel()

	cfg := AuthConfig{
		JWTSecret: "secret",
		APIKeys:   map[string]string{"key-a": "alice"},
		Public:    []string{"/api/health"},
	}
	h := Auth(cfg)(echoTrader)

	serve := func(r *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.Header.Set("X-API-Key", "key-a")
	rec := serve(r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	r = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.Header.Set("X-API-Key", "nope")
	assert.Equal(t, http.StatusUnauthorized, serve(r).Code)

	tok, err := IssueToken("secret", "bob", time.Hour, time.Now())
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	rec = serve(r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", rec.Body.String())

	r = httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
	assert.Equal(t, "bob", serve(r).Body.String())

	r = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r).Code)

	r = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec = serve(r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "-", rec.Body.String())
}

func TestParseTokenRejectsBadTokens(t *testing.T) {
	t.Parallel()

	expired, err := IssueToken("secret", "bob", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseToken("secret", expired)
	assert.Error(t, err)

	other, err := IssueToken("other", "bob", time.Hour, time.Now())
	require.NoError(t, err)
	_, err = ParseToken("secret", other)
	assert.Error(t, err)

	_, err = IssueToken("", "bob", time.Hour, time.Now())
	assert.Error(t, err)
}

type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (f *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.counts[key]++
	return f.counts[key] <= limit, nil
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	lim := &fakeLimiter{counts: map[string]int{}}
	h := RateLimit(lim, 2, time.Minute, discardLogger())(echoTrader)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/clock", nil)
		r.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// Traders get their own bucket.
	r := httptest.NewRequest(http.MethodGet, "/api/clock", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	r = r.WithContext(WithTrader(r.Context(), "alice"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, lim.counts["api:trader:alice"])
}

func TestRateLimitFailsOpen(t *testing.T) {
	t.Parallel()

	lim := &fakeLimiter{err: errors.New("redis down")}
	rec := httptest.NewRecorder()
	RateLimit(lim, 1, time.Minute, discardLogger())(echoTrader).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSAndRequestID(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"http://localhost:3000"})(Logging(discardLogger())(echoTrader))

	r := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Len(t, rec.Header().Get(HeaderRequestID), 26)

	r = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.Header.Set(HeaderRequestID, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, "abc", rec.Header().Get(HeaderRequestID))
}

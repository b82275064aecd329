package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/privymarket/internal/crypto"
	"github.com/alanyoungcy/privymarket/internal/domain"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

// echoCaller writes the caller address or "anonymous", plus the body.
var echoCaller = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if id, ok := CallerFrom(r.Context()); ok {
		io.WriteString(w, id.Hex()+"|"+string(body))
		return
	}
	io.WriteString(w, "anonymous|"+string(body))
})

func signed(t *testing.T, s *crypto.Signer, ts time.Time, method, target, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	h, err := s.RequestHeaders(ts.Unix(), method, req.URL.RequestURI(), []byte(body))
	require.NoError(t, err)
	for k, v := range h {
		req.Header.Set(k, v)
	}
	return req
}

func TestIdentity(t *testing.T) {
	s, err := crypto.GenerateSigner()
	require.NoError(t, err)
	mw := Identity(5*time.Minute, fixedNow)(echoCaller)

	t.Run("anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "anonymous|", rec.Body.String())
	})

	t.Run("signed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, signed(t, s, now.Add(-time.Minute), http.MethodPost, "/api/markets/1/bets?x=1", `{"amount":5}`))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, s.Address().Hex()+`|{"amount":5}`, rec.Body.String(), "body is restored for the handler")
	})

	t.Run("stale", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, signed(t, s, now.Add(-10*time.Minute), http.MethodPost, "/api/faucet", `{}`))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "StaleTimestamp")
	})

	t.Run("wrong address", func(t *testing.T) {
		other, err := crypto.GenerateSigner()
		require.NoError(t, err)
		req := signed(t, s, now, http.MethodPost, "/api/faucet", `{}`)
		req.Header.Set(crypto.HeaderAddress, other.Address().Hex())
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "InvalidSignature")
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signed(t, s, now, http.MethodPost, "/api/faucet", `{"amount":1}`)
		req.Body = io.NopCloser(strings.NewReader(`{"amount":1000}`))
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("partial headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/faucet", nil)
		req.Header.Set(crypto.HeaderAddress, s.Address().Hex())
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "InvalidTimestamp")
	})
}

func TestLogging_RequestID(t *testing.T) {
	var seen string
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "given")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "given", seen)
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter()
	clock := now
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := l.Allow(ctx, "k", 3, time.Second)
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "other", 3, time.Second)
	assert.True(t, ok, "keys are independent")

	clock = clock.Add(time.Second)
	ok, _ = l.Allow(ctx, "k", 3, time.Second)
	assert.True(t, ok, "bucket refills")
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

type denyingLimiter struct{}

func (denyingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func TestRateLimit(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name    string
		limiter domain.RateLimiter
		want    int
	}{
		{"denied", denyingLimiter{}, http.StatusTooManyRequests},
		{"fails open", failingLimiter{}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RateLimit(tt.limiter, 1, time.Second, quiet)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

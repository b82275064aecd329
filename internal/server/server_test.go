package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/privymarket/internal/commitment"
	"github.com/alanyoungcy/privymarket/internal/crypto"
	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/server"
	"github.com/alanyoungcy/privymarket/internal/service"
	"github.com/alanyoungcy/privymarket/internal/settlement"
	"github.com/alanyoungcy/privymarket/internal/store/memory"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type api struct {
	t     *testing.T
	h     http.Handler
	clock *settlement.ManualClock
}

func newAPI(t *testing.T, cfg server.Config) *api {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := settlement.NewManualClock(epoch)
	program := settlement.New(memory.NewLedger(), clock, settlement.Options{ClaimWindow: time.Hour}, quiet)
	svc := service.NewMarketService(program, nil, nil, memory.NewAuditStore(), nil, quiet)
	if cfg.MaxSkew == 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	h := server.NewHandler(cfg, server.Deps{Settlement: svc, Now: clock.Now}, quiet)
	return &api{t: t, h: h, clock: clock}
}

func signer(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateSigner()
	require.NoError(t, err)
	return s
}

// do sends a request, signed when s is non-nil, and decodes the JSON reply
// into out when out is non-nil.
func (a *api) do(s *crypto.Signer, method, path string, body any, out any) int {
	a.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(a.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if s != nil {
		headers, err := s.RequestHeaders(a.clock.Now().Unix(), method, path, raw)
		require.NoError(a.t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *api) expectError(s *crypto.Signer, method, path string, body any, status int, code string) {
	a.t.Helper()
	var e apiError
	assert.Equal(a.t, status, a.do(s, method, path, body, &e))
	assert.Equal(a.t, code, e.Error)
}

func TestHealth(t *testing.T) {
	a := newAPI(t, server.Config{})
	var body map[string]any
	assert.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, "/api/health", nil, &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2026-01-01T00:00:00Z", body["ledger_time"])
}

func TestLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t, server.Config{FaucetEnabled: true})
	admin, alice, bob := signer(t), signer(t), signer(t)

	var reg domain.Registry
	require.Equal(t, http.StatusCreated, a.do(admin, http.MethodPost, "/api/registry", nil, &reg))
	assert.Equal(t, admin.Address(), reg.Admin)

	var m domain.Market
	require.Equal(t, http.StatusCreated, a.do(admin, http.MethodPost, "/api/markets", map[string]any{
		"id": 7, "question": "Will it rain?", "deadline": epoch.Add(24 * time.Hour),
	}, &m))
	assert.Equal(t, domain.MarketStatusOpen, m.Status)

	for _, s := range []*crypto.Signer{alice, bob} {
		require.Equal(t, http.StatusOK, a.do(s, http.MethodPost, "/api/faucet", map[string]any{"amount": 1000}, nil))
	}

	secret, err := commitment.NewSecret()
	require.NoError(t, err)
	var pos domain.Position
	require.Equal(t, http.StatusCreated, a.do(alice, http.MethodPost, "/api/markets/7/bets", map[string]any{
		"commitment": commitment.Commit(secret, true).Hex(), "amount": 400,
	}, &pos))
	assert.Equal(t, uint64(400), pos.Amount)

	bobSecret, err := commitment.NewSecret()
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, a.do(bob, http.MethodPost, "/api/markets/7/bets", map[string]any{
		"commitment": commitment.Commit(bobSecret, false).Hex(), "amount": 600,
	}, nil))

	a.expectError(admin, http.MethodPost, "/api/markets/7/resolve", map[string]any{"outcome": true},
		http.StatusConflict, "DeadlineNotPassed")

	a.clock.Set(epoch.Add(24 * time.Hour))
	require.Equal(t, http.StatusOK, a.do(admin, http.MethodPost, "/api/markets/7/resolve", map[string]any{"outcome": true}, &m))
	require.NotNil(t, m.Outcome)
	assert.True(t, *m.Outcome)

	a.expectError(bob, http.MethodPost, "/api/markets/7/claims", map[string]any{"secret": bobSecret.Hex(), "side": false},
		http.StatusUnprocessableEntity, "NotAWinner")
	a.expectError(alice, http.MethodPost, "/api/markets/7/claims", map[string]any{"secret": bobSecret.Hex(), "side": true},
		http.StatusUnprocessableEntity, "InvalidCommitment")

	var claim struct {
		Payout uint64 `json:"payout"`
	}
	require.Equal(t, http.StatusOK, a.do(alice, http.MethodPost, "/api/markets/7/claims", map[string]any{
		"secret": secret.Hex(), "side": true,
	}, &claim))
	assert.Equal(t, uint64(400), claim.Payout)

	a.expectError(bob, http.MethodPost, "/api/markets/7/finalize", nil, http.StatusConflict, "ClaimWindowOpen")
	a.clock.Advance(time.Hour)

	var fin struct {
		Distributed uint64 `json:"distributed"`
		Winners     int    `json:"winners"`
	}
	require.Equal(t, http.StatusOK, a.do(bob, http.MethodPost, "/api/markets/7/finalize", nil, &fin))
	assert.Equal(t, uint64(600), fin.Distributed)
	assert.Equal(t, 1, fin.Winners)

	var acct domain.Account
	require.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, "/api/accounts/"+alice.Address().Hex(), nil, &acct))
	assert.Equal(t, uint64(1600), acct.Balance)

	var detail settlement.MarketDetail
	require.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, "/api/markets/7?vault=true", nil, &detail))
	assert.Equal(t, uint64(0), detail.Vault.Balance)
	assert.True(t, detail.Market.Finalized)

	var got domain.Position
	require.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, "/api/markets/7/positions/"+alice.Address().Hex(), nil, &got))
	assert.True(t, got.Claimed)
	assert.Equal(t, uint64(600), got.Bonus)
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t, server.Config{})
	admin, mallory := signer(t), signer(t)
	require.Equal(t, http.StatusCreated, a.do(admin, http.MethodPost, "/api/registry", nil, nil))

	market := map[string]any{"id": 1, "question": "q", "deadline": epoch.Add(time.Hour)}

	a.expectError(nil, http.MethodPost, "/api/markets", market, http.StatusUnauthorized, "Unauthenticated")
	a.expectError(mallory, http.MethodPost, "/api/markets", market, http.StatusForbidden, "Unauthorized")
	a.expectError(admin, http.MethodPost, "/api/registry", nil, http.StatusConflict, "AlreadyInitialized")
	a.expectError(admin, http.MethodPost, "/api/markets", map[string]any{"id": 1, "question": "q", "deadline": epoch},
		http.StatusBadRequest, "DeadlinePassed")
	a.expectError(admin, http.MethodPost, "/api/markets", map[string]any{"id": 1, "bogus": true},
		http.StatusBadRequest, "BadRequest")
	a.expectError(nil, http.MethodGet, "/api/markets/99", nil, http.StatusNotFound, "MarketNotFound")
	a.expectError(nil, http.MethodGet, "/api/markets/abc", nil, http.StatusBadRequest, "BadRequest")
	a.expectError(mallory, http.MethodPost, "/api/markets/99/bets", map[string]any{
		"commitment": "0x1234", "amount": 1,
	}, http.StatusBadRequest, "BadRequest")

	require.Equal(t, http.StatusCreated, a.do(admin, http.MethodPost, "/api/markets", market, nil))
	a.expectError(mallory, http.MethodPost, "/api/markets/1/bets", map[string]any{
		"commitment": domain.Hash{1}.Hex(), "amount": 5,
	}, http.StatusUnprocessableEntity, "InsufficientFunds")
	a.expectError(nil, http.MethodGet, "/api/markets?status=closed", nil, http.StatusBadRequest, "BadRequest")
}

func TestCreateMarketClaimWindowBounds(t *testing.T) {
	a := newAPI(t, server.Config{})
	admin := signer(t)
	require.Equal(t, http.StatusCreated, a.do(admin, http.MethodPost, "/api/registry", nil, nil))

	maxSeconds := int64(math.MaxInt64 / int64(time.Second))
	for _, seconds := range []int64{-1, maxSeconds + 1, math.MaxInt64} {
		a.expectError(admin, http.MethodPost, "/api/markets", map[string]any{
			"id": 1, "question": "q", "deadline": epoch.Add(time.Hour), "claim_window_seconds": seconds,
		}, http.StatusBadRequest, "BadRequest")
	}

	var m domain.Market
	require.Equal(t, http.StatusCreated, a.do(admin, http.MethodPost, "/api/markets", map[string]any{
		"id": 1, "question": "q", "deadline": epoch.Add(time.Hour), "claim_window_seconds": maxSeconds,
	}, &m))
	assert.Equal(t, time.Duration(maxSeconds)*time.Second, m.ClaimWindow)
}

func TestMarketHistory(t *testing.T) {
	a := newAPI(t, server.Config{FaucetEnabled: true})
	admin, alice := signer(t), signer(t)
	require.Equal(t, http.StatusCreated, a.do(admin, http.MethodPost, "/api/registry", nil, nil))
	for _, id := range []int{0, 5} {
		require.Equal(t, http.StatusCreated, a.do(admin, http.MethodPost, "/api/markets", map[string]any{
			"id": id, "question": "q", "deadline": epoch.Add(time.Hour),
		}, nil))
	}
	require.Equal(t, http.StatusOK, a.do(alice, http.MethodPost, "/api/faucet", map[string]any{"amount": 10}, nil))
	require.Equal(t, http.StatusCreated, a.do(alice, http.MethodPost, "/api/markets/5/bets", map[string]any{
		"commitment": domain.Hash{7}.Hex(), "amount": 4,
	}, nil))

	var resp struct {
		MarketID uint64              `json:"market_id"`
		Entries  []domain.AuditEntry `json:"entries"`
	}
	require.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, "/api/markets/5/history", nil, &resp))
	assert.Equal(t, uint64(5), resp.MarketID)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "settlement.bet_placed", resp.Entries[0].Event)
	assert.Equal(t, "settlement.market_created", resp.Entries[1].Event)

	require.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, "/api/markets/0/history?limit=5", nil, &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "settlement.market_created", resp.Entries[0].Event)

	a.expectError(nil, http.MethodGet, "/api/markets/9/history", nil, http.StatusNotFound, "MarketNotFound")
}

func TestFaucetDisabled(t *testing.T) {
	a := newAPI(t, server.Config{})
	assert.Equal(t, http.StatusNotFound, a.do(signer(t), http.MethodPost, "/api/faucet", map[string]any{"amount": 1}, nil))
}

func TestListMarkets(t *testing.T) {
	a := newAPI(t, server.Config{})
	admin := signer(t)
	require.Equal(t, http.StatusCreated, a.do(admin, http.MethodPost, "/api/registry", nil, nil))
	for _, id := range []int{3, 1, 2} {
		require.Equal(t, http.StatusCreated, a.do(admin, http.MethodPost, "/api/markets", map[string]any{
			"id": id, "question": "q", "deadline": epoch.Add(time.Hour),
		}, nil))
	}

	var resp struct {
		Markets []domain.Market `json:"markets"`
		Limit   int             `json:"limit"`
	}
	require.Equal(t, http.StatusOK, a.do(nil, http.MethodGet, "/api/markets?limit=2", nil, &resp))
	require.Len(t, resp.Markets, 2)
	assert.Equal(t, uint64(1), resp.Markets[0].ID)
	assert.Equal(t, uint64(2), resp.Markets[1].ID)
	assert.Equal(t, 2, resp.Limit)
}

func TestCORSPreflight(t *testing.T) {
	a := newAPI(t, server.Config{CORSOrigins: []string{"https://app.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", crypto.HeaderSignature)
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerRun(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.NewServer(server.Config{Addr: "127.0.0.1:0"}, server.Deps{}, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

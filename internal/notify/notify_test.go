package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyEvent_Filter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"market_resolved", " market_finalized "}, quiet())
	ctx := context.Background()

	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventBetPlaced, MarketID: 1}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventMarketFinalized, MarketID: 1}))

	assert.Equal(t, []string{"Market finalized"}, s.titles)
}

func TestNotifyEvent_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quiet())

	err := n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventMarketCreated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestNotifier_Disabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventMarketCreated}))
}

func TestRender(t *testing.T) {
	yes, no := true, false
	actor := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	tests := []struct {
		evt         domain.Event
		title, body string
	}{
		{domain.Event{Type: domain.EventMarketResolved, MarketID: 3, Outcome: &yes}, "Market resolved", "market 3 resolved YES"},
		{domain.Event{Type: domain.EventMarketResolved, MarketID: 3, Outcome: &no}, "Market resolved", "market 3 resolved NO"},
		{domain.Event{Type: domain.EventMarketFinalized, MarketID: 3, Amount: 900}, "Market finalized", "market 3 finalized, 900 distributed"},
		{domain.Event{Type: domain.EventBetPlaced, MarketID: 3, Amount: 5, Actor: actor}, "Bet placed", "market 3: 5 staked by " + actor.Hex()},
	}
	for _, tt := range tests {
		title, body := Render(tt.evt)
		assert.Equal(t, tt.title, title)
		assert.Equal(t, tt.body, body)
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s := NewTelegramSender(srv.URL+"/", "tok", "chat-1")
	require.NoError(t, s.Send(context.Background(), "T", "body"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "chat-1", got["chat_id"])
	assert.Equal(t, "*T*\nbody", got["text"])
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}

func TestDiscordSender_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, NewDiscordSender(srv.URL).Send(ctx, "T", "body"))
}

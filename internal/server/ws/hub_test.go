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

	"github.com/alanyoungcy/privymarket/internal/domain"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// fakeBus delivers whatever is written to feed as ch:events payloads.
type fakeBus struct {
	feed chan []byte
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	if channel != domain.ChannelEvents {
		return nil, io.EOF
	}
	return b.feed, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func startHub(t *testing.T, bus domain.SignalBus) (*Hub, string) {
	t.Helper()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Equal(t, "hello", read(t, conn).Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	f := read(t, conn)
	require.Equal(t, "event", f.Type)
	var evt domain.Event
	require.NoError(t, json.Unmarshal(f.Payload, &evt))
	return evt
}

func TestHub_PublishEvent(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)

	require.NoError(t, hub.PublishEvent(context.Background(), domain.Event{
		ID: "e1", Type: domain.EventBetPlaced, MarketID: 4, Amount: 10,
	}))

	evt := readEvent(t, conn)
	assert.Equal(t, "e1", evt.ID)
	assert.Equal(t, uint64(4), evt.MarketID)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHub_MarketFilter(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Markets: []uint64{7, 2}}))
	ack := read(t, conn)
	require.Equal(t, "subscribed", ack.Type)
	assert.JSONEq(t, `[2,7]`, string(ack.Payload))

	ctx := context.Background()
	require.NoError(t, hub.PublishEvent(ctx, domain.Event{ID: "skip", Type: domain.EventBetPlaced, MarketID: 3}))
	require.NoError(t, hub.PublishEvent(ctx, domain.Event{ID: "fund", Type: domain.EventAccountFunded}))
	require.NoError(t, hub.PublishEvent(ctx, domain.Event{ID: "keep", Type: domain.EventMarketResolved, MarketID: 7}))

	assert.Equal(t, "keep", readEvent(t, conn).ID)
}

func TestHub_MarketZeroFilter(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Markets: []uint64{0}}))
	require.Equal(t, "subscribed", read(t, conn).Type)

	ctx := context.Background()
	require.NoError(t, hub.PublishEvent(ctx, domain.Event{ID: "fund", Type: domain.EventAccountFunded}))
	require.NoError(t, hub.PublishEvent(ctx, domain.Event{ID: "other", Type: domain.EventBetPlaced, MarketID: 1}))
	require.NoError(t, hub.PublishEvent(ctx, domain.Event{ID: "zero", Type: domain.EventBetPlaced, MarketID: 0}))

	evt := readEvent(t, conn)
	assert.Equal(t, "zero", evt.ID)
	assert.Equal(t, uint64(0), evt.MarketID)
}

func TestClientWants(t *testing.T) {
	c := &client{markets: map[uint64]bool{}}
	fund := broadcastMsg{}
	zero := broadcastMsg{marketID: 0, hasMarket: true}
	assert.True(t, c.wants(fund), "unfiltered clients get everything")
	assert.True(t, c.wants(zero))

	c.markets[0] = true
	assert.False(t, c.wants(fund))
	assert.True(t, c.wants(zero))
	assert.False(t, c.wants(broadcastMsg{marketID: 4, hasMarket: true}))
}

func TestHub_RelaysBus(t *testing.T) {
	bus := &fakeBus{feed: make(chan []byte, 4)}
	_, url := startHub(t, bus)
	conn := dial(t, url)

	raw, err := json.Marshal(domain.Event{ID: "from-bus", Type: domain.EventMarketCreated, MarketID: 1})
	require.NoError(t, err)
	bus.feed <- []byte("not json")
	bus.feed <- raw

	assert.Equal(t, "from-bus", readEvent(t, conn).ID)
}

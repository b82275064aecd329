package domain

import (
	"strconv"
	"time"
)

// EventType names a settlement event.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventBetPlaced       EventType = "bet_placed"
	EventMarketResolved  EventType = "market_resolved"
	EventWinningsClaimed EventType = "winnings_claimed"
	EventMarketFinalized EventType = "market_finalized"
	EventAccountFunded   EventType = "account_funded"
)

// Event is emitted after a settlement operation commits. A bet_placed event
// never carries the side of the bet. MarketID is meaningful only when
// HasMarket reports true; 0 is a valid market id.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	MarketID uint64    `json:"market_id"`
	Actor    Identity  `json:"actor"`
	Amount   uint64    `json:"amount,omitempty"`
	Outcome  *bool     `json:"outcome,omitempty"`
	At       time.Time `json:"at"`
}

// HasMarket reports whether the event belongs to a market. Account funding
// does not.
func (e Event) HasMarket() bool {
	return e.Type != EventAccountFunded
}

// Channel names used on the signal bus.
const (
	ChannelEvents       = "ch:events"
	channelMarketPrefix = "ch:market:"
)

// MarketChannel returns the bus channel carrying events of a single market.
func MarketChannel(id uint64) string {
	return channelMarketPrefix + strconv.FormatUint(id, 10)
}

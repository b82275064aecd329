package domain

import "time"

// Position is one user's hidden stake on one market. The side is never
// stored; only the commitment binding it.
type Position struct {
	MarketID   uint64     `json:"market_id"`
	Address    Identity   `json:"address"`
	User       Identity   `json:"user"`
	Commitment Hash       `json:"commitment"`
	Amount     uint64     `json:"amount"`
	Claimed    bool       `json:"claimed"`
	Payout     uint64     `json:"payout"`
	Bonus      uint64     `json:"bonus"`
	CreatedAt  time.Time  `json:"created_at"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
}

// Received is the total paid to the position so far.
func (p Position) Received() uint64 {
	return p.Payout + p.Bonus
}

package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
)

// MaxQuestionLen is the longest question, in bytes, a market may carry.
const MaxQuestionLen = 200

// Market is one binary question, its deadline, status and pooled stakes.
//
// TotalYesPool and TotalNoPool stay at zero while betting is open; they only
// grow as winners reveal their positions at claim time.
type Market struct {
	ID            uint64        `json:"id"`
	Address       Identity      `json:"address"`
	Creator       Identity      `json:"creator"`
	Question      string        `json:"question"`
	Deadline      time.Time     `json:"deadline"`
	Status        MarketStatus  `json:"status"`
	Outcome       *bool         `json:"outcome,omitempty"`
	TotalPool     uint64        `json:"total_pool"`
	TotalYesPool  uint64        `json:"total_yes_pool"`
	TotalNoPool   uint64        `json:"total_no_pool"`
	TotalPaidOut  uint64        `json:"total_paid_out"`
	ClaimWindow   time.Duration `json:"claim_window"`
	ClaimDeadline *time.Time    `json:"claim_deadline,omitempty"`
	Finalized     bool          `json:"finalized"`
	CreatedAt     time.Time     `json:"created_at"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
	FinalizedAt   *time.Time    `json:"finalized_at,omitempty"`
}

// IsResolved reports whether the market has reached its terminal status.
func (m Market) IsResolved() bool {
	return m.Status == MarketStatusResolved
}

// AcceptsBets reports whether a bet placed at now may enter the pool.
func (m Market) AcceptsBets(now time.Time) bool {
	return m.Status == MarketStatusOpen && now.Before(m.Deadline)
}

// WinningPool returns the revealed stake on the winning side. It is zero for
// an unresolved market.
func (m Market) WinningPool() uint64 {
	if m.Outcome == nil {
		return 0
	}
	if *m.Outcome {
		return m.TotalYesPool
	}
	return m.TotalNoPool
}

// LosingPool returns the part of the pool not revealed as winning stake.
func (m Market) LosingPool() uint64 {
	w := m.WinningPool()
	if w > m.TotalPool {
		return 0
	}
	return m.TotalPool - w
}

// Outstanding is the amount the vault must still be able to cover.
func (m Market) Outstanding() uint64 {
	if m.TotalPaidOut > m.TotalPool {
		return 0
	}
	return m.TotalPool - m.TotalPaidOut
}

package domain

import "time"

// Registry is the singleton authority record. It is created once and never
// mutated afterwards.
type Registry struct {
	Address   Identity  `json:"address"`
	Admin     Identity  `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Vault is the escrow balance paired 1:1 with a market.
type Vault struct {
	MarketID uint64   `json:"market_id"`
	Address  Identity `json:"address"`
	Balance  uint64   `json:"balance"`
}

// Account is the native balance held by an identity outside any vault.
type Account struct {
	Owner   Identity `json:"owner"`
	Balance uint64   `json:"balance"`
}

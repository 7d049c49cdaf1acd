package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered account
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Cash         decimal.Decimal
	CreatedAt    time.Time
}

// Transaction is one immutable ledger row. Positive shares record a buy,
// negative shares a sell. Price is the quote price at execution time.
type Transaction struct {
	ID         int             `json:"id"`
	UserID     int             `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Shares     int             `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Quote is the price lookup result for a ticker symbol
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// Holding is the derived position for one symbol: SUM(shares) over the
// user's ledger rows, never stored directly.
type Holding struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	TotalShares int             `json:"total_shares"`
	Price       decimal.Decimal `json:"price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Portfolio is the priced view of an account: open holdings, cash, and
// net worth (cash plus market value of all holdings).
type Portfolio struct {
	Holdings []Holding       `json:"holdings"`
	Cash     decimal.Decimal `json:"cash"`
	NetWorth decimal.Decimal `json:"net_worth"`
}

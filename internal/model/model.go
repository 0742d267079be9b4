// Package model defines the core domain types shared across the competition
// engine. All monetary values and quantities use shopspring/decimal, never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetType distinguishes instruments that trade on an exchange calendar
// from those that trade around the clock.
type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetCrypto AssetType = "crypto"
)

// Valid reports whether t is a known asset type.
func (t AssetType) Valid() bool {
	return t == AssetStock || t == AssetCrypto
}

// TradeType is the side recorded on a transaction log entry.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Competition is an isolated trading game with its own starting cash.
// Immutable after creation except ParticipantCount.
type Competition struct {
	ID               string          `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	CreatorID        string          `json:"creator_id" db:"creator_id"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	StartingCash     decimal.Decimal `json:"starting_cash" db:"starting_cash"`
	ParticipantCount int             `json:"participant_count" db:"participant_count"`
}

// Participant is one user's membership in one competition.
//
// CashBalance is written only by the order transaction; TotalPortfolioValue
// and Rank only by the leaderboard aggregator.
type Participant struct {
	CompetitionID       string          `json:"competition_id" db:"competition_id"`
	UserID              string          `json:"user_id" db:"user_id"`
	CashBalance         decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	TotalPortfolioValue decimal.Decimal `json:"total_portfolio_value" db:"total_portfolio_value"`
	Rank                int             `json:"rank" db:"rank"`
	JoinedAt            time.Time       `json:"joined_at" db:"joined_at"`
}

// Holding is a participant's position in one symbol. Quantity is always
// strictly positive; a fully sold position is deleted, never zeroed.
type Holding struct {
	CompetitionID string          `json:"competition_id" db:"competition_id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	AssetType     AssetType       `json:"asset_type" db:"asset_type"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// TransactionLogEntry is an immutable record of an executed order.
// Once created, these are never modified or deleted.
type TransactionLogEntry struct {
	ID            string          `json:"id" db:"id"`
	CompetitionID string          `json:"competition_id" db:"competition_id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	AssetType     AssetType       `json:"asset_type" db:"asset_type"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"` // signed: +buy, -sell
	Price         decimal.Decimal `json:"price" db:"price"`       // price read inside the transaction
	Total         decimal.Decimal `json:"total" db:"total"`       // price * quantity (signed)
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
	Type          TradeType       `json:"type" db:"type"`
}

// PriceQuote is the latest known price for a symbol. Only the most recent
// quote is kept.
type PriceQuote struct {
	Symbol        string           `json:"symbol" db:"symbol"`
	Price         decimal.Decimal  `json:"price" db:"price"`
	ChangePercent *decimal.Decimal `json:"change_percent,omitempty" db:"change_percent"` // stocks only
	Name          string           `json:"name,omitempty" db:"name"`                     // crypto only
	LastUpdated   time.Time        `json:"last_updated" db:"last_updated"`
	Type          AssetType        `json:"type" db:"type"`
}

// SymbolRef identifies an instrument the market-data updater refreshes.
type SymbolRef struct {
	Symbol string    `json:"symbol"`
	Type   AssetType `json:"type"`
	Name   string    `json:"name,omitempty"`
}

// Valuation is the leaderboard's write-back for one participant.
type Valuation struct {
	UserID              string          `json:"user_id"`
	TotalPortfolioValue decimal.Decimal `json:"total_portfolio_value"`
	Rank                int             `json:"rank"`
}

// Portfolio is a participant with its current holdings.
type Portfolio struct {
	Participant Participant `json:"participant"`
	Holdings    []Holding   `json:"holdings"`
}

// Package order is the single entry point that mutates the ledger in
// response to a trade request.
//
// PlaceOrder validates the request, checks the market calendar, and then
// runs the read-then-write state transition inside one ledger transaction.
// Conflicting concurrent commits are retried; every other failure is
// reported as a gRPC status error whose code tells the caller what went
// wrong.
package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeclash/competition-engine/internal/model"
)

// User-visible failure messages.
const (
	MsgUnauthenticated    = "authentication required"
	MsgMarketClosed       = "market is closed"
	MsgInsufficientFunds  = "insufficient funds"
	MsgInsufficientShares = "insufficient shares"
	MsgStalePrice         = "price is stale"
	MsgInternal           = "internal error"
)

// Request is a buy (positive quantity) or sell (negative quantity) of a
// whole number of units.
type Request struct {
	CompetitionID string          `json:"competitionId"`
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AssetType     model.AssetType `json:"assetType"`
}

// UnmarshalJSON also accepts competition_id and asset_type, the spelling
// used by the rest of the API. The camelCase field wins when both are set.
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	var v struct {
		plain
		SnakeCompetitionID string          `json:"competition_id"`
		SnakeAssetType     model.AssetType `json:"asset_type"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Request(v.plain)
	if r.CompetitionID == "" {
		r.CompetitionID = v.SnakeCompetitionID
	}
	if r.AssetType == "" {
		r.AssetType = v.SnakeAssetType
	}
	return nil
}

// Result describes an executed order.
type Result struct {
	Success       bool            `json:"success"`
	Message       string          `json:"message"`
	TransactionID string          `json:"transaction_id"`
	Symbol        string          `json:"symbol"`
	Type          model.TradeType `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Total         decimal.Decimal `json:"total"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// Config bounds the transaction retry loop.
type Config struct {
	// MaxAttempts is the number of times a conflicting ledger transaction
	// is tried before the order fails with Internal.
	MaxAttempts int
	// BaseBackoff is the delay after the first conflict; it doubles on each
	// further conflict.
	BaseBackoff time.Duration
	// Timeout bounds the whole order, retries included.
	Timeout time.Duration
	// MaxQuoteAge rejects orders against quotes older than this. Zero
	// accepts any age.
	MaxQuoteAge time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseBackoff: 10 * time.Millisecond,
		Timeout:     10 * time.Second,
	}
}

func successMessage(side model.TradeType, qty decimal.Decimal, sym string, price decimal.Decimal) string {
	verb := "bought"
	if side == model.TradeSell {
		verb = "sold"
	}
	return fmt.Sprintf("Successfully %s %s %s at %s", verb, qty.Abs().String(), sym, price.StringFixed(2))
}

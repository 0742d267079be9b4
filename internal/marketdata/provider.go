// Package marketdata refreshes the price store from an upstream quote
// provider on a fixed interval.
package marketdata

import (
	"context"
	"errors"

	"github.com/tradeclash/competition-engine/internal/model"
)

// ErrNoQuote is returned when the upstream answered but carried no usable
// price for the symbol.
var ErrNoQuote = errors.New("marketdata: no quote in response")

// Provider fetches the latest quote for one symbol. Implementations fill
// Symbol, Price, Type and whatever of ChangePercent and Name the upstream
// supplies; LastUpdated is set by the updater.
type Provider interface {
	Name() string
	FetchQuote(ctx context.Context, ref model.SymbolRef) (*model.PriceQuote, error)
}

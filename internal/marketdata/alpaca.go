package marketdata

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"github.com/tradeclash/competition-engine/internal/model"
	"github.com/tradeclash/competition-engine/internal/symbol"
)

// AlpacaClient is the subset of *marketdata.Client the provider uses.
type AlpacaClient interface {
	GetSnapshot(symbol string, req marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error)
	GetLatestCryptoTrade(symbol string, req marketdata.GetLatestCryptoTradeRequest) (*marketdata.CryptoTrade, error)
}

var _ AlpacaClient = (*marketdata.Client)(nil)

// NewAlpacaClient builds the SDK client. An empty dataURL uses the SDK
// default.
func NewAlpacaClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// Alpaca prices stocks from the latest trade of a snapshot and crypto from
// the latest trade of the <SYM>/USD pair.
type Alpaca struct {
	client AlpacaClient
	feed   string
}

// NewAlpaca creates a provider using the given stock data feed ("iex" or
// "sip").
func NewAlpaca(client AlpacaClient, feed string) *Alpaca {
	return &Alpaca{client: client, feed: feed}
}

func (a *Alpaca) Name() string { return "alpaca" }

func (a *Alpaca) FetchQuote(ctx context.Context, ref model.SymbolRef) (*model.PriceQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch ref.Type {
	case model.AssetStock:
		return a.stock(ref)
	case model.AssetCrypto:
		return a.crypto(ref)
	default:
		return nil, fmt.Errorf("alpaca: unsupported asset type %q", ref.Type)
	}
}

func (a *Alpaca) stock(ref model.SymbolRef) (*model.PriceQuote, error) {
	snap, err := a.client.GetSnapshot(ref.Symbol, marketdata.GetSnapshotRequest{
		Feed: marketdata.Feed(a.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetSnapshot %s: %w", ref.Symbol, err)
	}
	if snap == nil || snap.LatestTrade == nil || snap.LatestTrade.Price <= 0 {
		return nil, fmt.Errorf("%s: %w", ref.Symbol, ErrNoQuote)
	}

	q := &model.PriceQuote{
		Symbol: ref.Symbol,
		Price:  decimal.NewFromFloat(snap.LatestTrade.Price),
		Type:   model.AssetStock,
	}
	if snap.PrevDailyBar != nil && snap.PrevDailyBar.Close > 0 {
		prev := decimal.NewFromFloat(snap.PrevDailyBar.Close)
		change := q.Price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(4)
		q.ChangePercent = &change
	}
	return q, nil
}

func (a *Alpaca) crypto(ref model.SymbolRef) (*model.PriceQuote, error) {
	pair := symbol.USDPair(ref.Symbol)
	trade, err := a.client.GetLatestCryptoTrade(pair, marketdata.GetLatestCryptoTradeRequest{})
	if err != nil {
		return nil, fmt.Errorf("GetLatestCryptoTrade %s: %w", pair, err)
	}
	if trade == nil || trade.Price <= 0 {
		return nil, fmt.Errorf("%s: %w", pair, ErrNoQuote)
	}
	return &model.PriceQuote{
		Symbol: ref.Symbol,
		Price:  decimal.NewFromFloat(trade.Price),
		Name:   ref.Name,
		Type:   model.AssetCrypto,
	}, nil
}

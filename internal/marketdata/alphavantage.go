package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeclash/competition-engine/internal/model"
)

// DefaultAlphaVantageURL is the Alpha Vantage query endpoint.
const DefaultAlphaVantageURL = "https://www.alphavantage.co/query"

// AlphaVantage fetches stock quotes with GLOBAL_QUOTE and crypto prices
// with CURRENCY_EXCHANGE_RATE against USD.
type AlphaVantage struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewAlphaVantage creates a provider. An empty baseURL uses the public
// endpoint.
func NewAlphaVantage(apiKey, baseURL string, timeout time.Duration) *AlphaVantage {
	if baseURL == "" {
		baseURL = DefaultAlphaVantageURL
	}
	return &AlphaVantage{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (a *AlphaVantage) Name() string { return "alphavantage" }

func (a *AlphaVantage) FetchQuote(ctx context.Context, ref model.SymbolRef) (*model.PriceQuote, error) {
	switch ref.Type {
	case model.AssetStock:
		return a.globalQuote(ctx, ref)
	case model.AssetCrypto:
		return a.exchangeRate(ctx, ref)
	default:
		return nil, fmt.Errorf("alphavantage: unsupported asset type %q", ref.Type)
	}
}

type globalQuoteResponse struct {
	Quote map[string]string `json:"Global Quote"`
	upstreamMessages
}

type exchangeRateResponse struct {
	Rate map[string]string `json:"Realtime Currency Exchange Rate"`
	upstreamMessages
}

// upstreamMessages are the fields Alpha Vantage returns with HTTP 200 in
// place of data when a request is rejected or throttled.
type upstreamMessages struct {
	Note        string `json:"Note"`
	Information string `json:"Information"`
	Error       string `json:"Error Message"`
}

func (m upstreamMessages) err() error {
	switch {
	case m.Error != "":
		return fmt.Errorf("alphavantage: %s", m.Error)
	case m.Note != "":
		return fmt.Errorf("alphavantage: %s", m.Note)
	case m.Information != "":
		return fmt.Errorf("alphavantage: %s", m.Information)
	}
	return nil
}

func (a *AlphaVantage) globalQuote(ctx context.Context, ref model.SymbolRef) (*model.PriceQuote, error) {
	var resp globalQuoteResponse
	if err := a.get(ctx, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {ref.Symbol},
	}, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}

	price, err := parsePrice(resp.Quote["05. price"])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.Symbol, err)
	}
	q := &model.PriceQuote{Symbol: ref.Symbol, Price: price, Type: model.AssetStock}
	if raw := strings.TrimSuffix(strings.TrimSpace(resp.Quote["10. change percent"]), "%"); raw != "" {
		if change, err := decimal.NewFromString(raw); err == nil {
			q.ChangePercent = &change
		}
	}
	return q, nil
}

func (a *AlphaVantage) exchangeRate(ctx context.Context, ref model.SymbolRef) (*model.PriceQuote, error) {
	var resp exchangeRateResponse
	if err := a.get(ctx, url.Values{
		"function":      {"CURRENCY_EXCHANGE_RATE"},
		"from_currency": {ref.Symbol},
		"to_currency":   {"USD"},
	}, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}

	price, err := parsePrice(resp.Rate["5. Exchange Rate"])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.Symbol, err)
	}
	name := ref.Name
	if name == "" {
		name = resp.Rate["2. From_Currency Name"]
	}
	return &model.PriceQuote{Symbol: ref.Symbol, Price: price, Name: name, Type: model.AssetCrypto}, nil
}

func (a *AlphaVantage) get(ctx context.Context, params url.Values, out any) error {
	params.Set("apikey", a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("alphavantage %s: %w", params.Get("function"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alphavantage %s: HTTP %d", params.Get("function"), resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("alphavantage %s: decode: %w", params.Get("function"), err)
	}
	return nil
}

// parsePrice requires a strictly positive decimal.
func parsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrNoQuote
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s: %w", p, ErrNoQuote)
	}
	return p, nil
}

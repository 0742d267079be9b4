// Package symbol handles instrument symbol normalization and validation,
// and parsing of the configured symbol lists the market-data updater
// refreshes.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tradeclash/competition-engine/internal/model"
)

// stockRegex matches exchange tickers such as AAPL, BRK.B or BF-B.
var stockRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,5}([.-][A-Z0-9]{1,2})?$`)

// cryptoRegex matches base-currency codes such as BTC or ETH. Quotes are
// always against USD, so pairs are not accepted here.
var cryptoRegex = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

var (
	ErrInvalidSymbol = errors.New("symbol: invalid symbol")
	ErrInvalidType   = errors.New("symbol: unsupported asset type")
)

// Normalize trims surrounding whitespace and upper-cases s.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Validate checks that sym (already normalized) is well-formed for t.
func Validate(sym string, t model.AssetType) error {
	switch t {
	case model.AssetStock:
		if !stockRegex.MatchString(sym) {
			return fmt.Errorf("%w: %q is not a stock ticker", ErrInvalidSymbol, sym)
		}
	case model.AssetCrypto:
		if !cryptoRegex.MatchString(sym) {
			return fmt.Errorf("%w: %q is not a crypto symbol", ErrInvalidSymbol, sym)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	return nil
}

// USDPair returns the <SYM>/USD pair used by crypto data providers.
func USDPair(sym string) string {
	return sym + "/USD"
}

// ParseList parses configured entries of the form SYMBOL or SYMBOL:Display
// Name into references of type t. Empty entries are skipped.
func ParseList(entries []string, t model.AssetType) ([]model.SymbolRef, error) {
	refs := make([]model.SymbolRef, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		raw, name, _ := strings.Cut(entry, ":")
		sym := Normalize(raw)
		if err := Validate(sym, t); err != nil {
			return nil, err
		}
		refs = append(refs, model.SymbolRef{
			Symbol: sym,
			Type:   t,
			Name:   strings.TrimSpace(name),
		})
	}
	return refs, nil
}

// Merge returns the union of the given lists keyed by symbol. The first
// occurrence of a symbol wins, so static configuration (with display names)
// should be passed first.
func Merge(lists ...[]model.SymbolRef) []model.SymbolRef {
	seen := make(map[string]bool)
	var out []model.SymbolRef
	for _, list := range lists {
		for _, ref := range list {
			if seen[ref.Symbol] {
				continue
			}
			seen[ref.Symbol] = true
			out = append(out, ref)
		}
	}
	return out
}

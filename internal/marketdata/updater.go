package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradeclash/competition-engine/internal/calendar"
	"github.com/tradeclash/competition-engine/internal/events"
	"github.com/tradeclash/competition-engine/internal/metrics"
	"github.com/tradeclash/competition-engine/internal/model"
	"github.com/tradeclash/competition-engine/internal/store"
	"github.com/tradeclash/competition-engine/internal/symbol"
)

// HeldSymbolSource lists the symbols currently held by any participant.
type HeldSymbolSource interface {
	HeldSymbols(ctx context.Context) ([]model.SymbolRef, error)
}

// Limiter paces upstream requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Options configures an Updater.
type Options struct {
	// Static is the configured symbol list. It is always refreshed.
	Static []model.SymbolRef
	// Held, when non-nil, adds every held symbol to each run.
	Held    HeldSymbolSource
	Limiter Limiter
	// Concurrency bounds in-flight fetches. Values below 1 mean 1.
	Concurrency int
	Clock       calendar.Clock
	// Publisher receives a prices_updated event after each written batch.
	Publisher events.Publisher
}

// Report summarizes one refresh.
type Report struct {
	Updated []string          `json:"updated"`
	Failed  map[string]string `json:"failed,omitempty"`
	At      time.Time         `json:"at"`
}

// Updater refreshes the price store from a Provider.
type Updater struct {
	provider Provider
	prices   store.PriceStore
	opts     Options
	logger   *slog.Logger
}

// NewUpdater creates an updater writing to prices.
func NewUpdater(provider Provider, prices store.PriceStore, opts Options, logger *slog.Logger) *Updater {
	if opts.Clock == nil {
		opts.Clock = calendar.SystemClock
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	return &Updater{
		provider: provider,
		prices:   prices,
		opts:     opts,
		logger:   logger.With("component", "marketdata", "provider", provider.Name()),
	}
}

// Symbols returns the set refreshed by the next run: the static list
// followed by any held symbols not already in it. A failure to list held
// symbols is logged and the static list is used alone.
func (u *Updater) Symbols(ctx context.Context) []model.SymbolRef {
	if u.opts.Held == nil {
		return symbol.Merge(u.opts.Static)
	}
	held, err := u.opts.Held.HeldSymbols(ctx)
	if err != nil {
		u.logger.Warn("list held symbols", "err", err)
		return symbol.Merge(u.opts.Static)
	}
	return symbol.Merge(u.opts.Static, held)
}

// RunOnce fetches every symbol and writes the successful quotes in one
// batch. A failed symbol keeps its previous stored quote. Only cancellation
// or a failure to write the batch is returned.
func (u *Updater) RunOnce(ctx context.Context) (Report, error) {
	refs := u.Symbols(ctx)
	report := Report{Failed: make(map[string]string)}

	fetched := make([]*model.PriceQuote, len(refs))
	errs := make([]error, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			if u.opts.Limiter != nil {
				if err := u.opts.Limiter.Wait(gctx); err != nil {
					return err
				}
			}
			fetched[i], errs[i] = u.provider.FetchQuote(gctx, ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	quotes := make([]model.PriceQuote, 0, len(refs))
	for i, ref := range refs {
		err := errs[i]
		if err == nil && fetched[i] == nil {
			err = ErrNoQuote
		}
		if err != nil {
			metrics.MarketDataFetches.WithLabelValues(u.provider.Name(), "error").Inc()
			report.Failed[ref.Symbol] = err.Error()
			u.logger.Warn("fetch quote", "symbol", ref.Symbol, "type", ref.Type, "err", err)
			continue
		}
		metrics.MarketDataFetches.WithLabelValues(u.provider.Name(), "ok").Inc()
		q := *fetched[i]
		q.Symbol = ref.Symbol
		q.Type = ref.Type
		if ref.Name != "" {
			q.Name = ref.Name
		}
		quotes = append(quotes, q)
	}

	report.At = u.opts.Clock.Now().UTC()
	if len(quotes) == 0 {
		u.logger.Warn("no quotes fetched", "symbols", len(refs))
		return report, nil
	}
	for i := range quotes {
		quotes[i].LastUpdated = report.At
		report.Updated = append(report.Updated, quotes[i].Symbol)
	}
	if err := u.prices.SetQuotes(ctx, quotes); err != nil {
		return report, fmt.Errorf("write %d quotes: %w", len(quotes), err)
	}
	metrics.MarketDataLastSuccess.Set(float64(report.At.Unix()))

	u.opts.Publisher.Publish(ctx, events.Event{
		Type:      events.PricesUpdated,
		Symbols:   report.Updated,
		Timestamp: report.At,
	})
	u.logger.Info("quotes updated", "updated", len(report.Updated), "failed", len(report.Failed))
	return report, nil
}

// Run refreshes immediately and then every interval until ctx is
// cancelled.
func (u *Updater) Run(ctx context.Context, interval time.Duration) {
	u.logger.Info("market data updater started", "interval", interval.String())
	u.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			u.logger.Info("market data updater stopped")
			return
		case <-ticker.C:
			u.runLogged(ctx)
		}
	}
}

func (u *Updater) runLogged(ctx context.Context) {
	if _, err := u.RunOnce(ctx); err != nil && ctx.Err() == nil {
		u.logger.Error("market data refresh failed", "err", err)
	}
}

// Package leaderboard values participants' portfolios and ranks them.
//
// Standings are computed on read (cash plus holdings at the latest quote)
// and cached briefly. Recompute additionally writes each participant's
// TotalPortfolioValue and Rank back to the store; it never touches cash.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tradeclash/competition-engine/internal/calendar"
	"github.com/tradeclash/competition-engine/internal/events"
	"github.com/tradeclash/competition-engine/internal/metrics"
	"github.com/tradeclash/competition-engine/internal/model"
	"github.com/tradeclash/competition-engine/internal/store"
)

// Source is the read and write-back surface the aggregator needs.
type Source interface {
	GetCompetition(ctx context.Context, id string) (*model.Competition, error)
	ListCompetitions(ctx context.Context) ([]model.Competition, error)
	ListParticipants(ctx context.Context, competitionID string) ([]model.Participant, error)
	ListHoldings(ctx context.Context, competitionID, userID string) ([]model.Holding, error)
	ListQuotes(ctx context.Context) ([]model.PriceQuote, error)
	UpdateValuations(ctx context.Context, competitionID string, vals []model.Valuation) error
}

// Entry is one participant's standing.
type Entry struct {
	Rank                int             `json:"rank"`
	UserID              string          `json:"user_id"`
	CashBalance         decimal.Decimal `json:"cash_balance"`
	HoldingsValue       decimal.Decimal `json:"holdings_value"`
	TotalPortfolioValue decimal.Decimal `json:"total_portfolio_value"`
	// Unpriced lists held symbols with no quote; they are valued at zero.
	Unpriced []string `json:"unpriced,omitempty"`
}

// Standings is a ranked snapshot of one competition.
type Standings struct {
	CompetitionID string    `json:"competition_id"`
	ComputedAt    time.Time `json:"computed_at"`
	Entries       []Entry   `json:"entries"`
}

// Aggregator computes and caches standings.
type Aggregator struct {
	src       Source
	cache     *ristretto.Cache
	ttl       time.Duration
	clock     calendar.Clock
	publisher events.Publisher
	logger    *slog.Logger
}

// NewAggregator creates an aggregator whose cached standings live for ttl.
// A zero ttl disables caching.
func NewAggregator(src Source, ttl time.Duration, clock calendar.Clock, pub events.Publisher, logger *slog.Logger) (*Aggregator, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        10_000,
		MaxCost:            1_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("leaderboard cache: %w", err)
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Aggregator{
		src:       src,
		cache:     cache,
		ttl:       ttl,
		clock:     clock,
		publisher: pub,
		logger:    logger.With("component", "leaderboard"),
	}, nil
}

// Close releases the cache.
func (a *Aggregator) Close() {
	a.cache.Close()
}

// Standings returns the ranked standings, from cache when fresh.
func (a *Aggregator) Standings(ctx context.Context, competitionID string) (*Standings, error) {
	if v, ok := a.cache.Get(competitionID); ok {
		if s, ok := v.(*Standings); ok {
			return s, nil
		}
	}
	s, err := a.compute(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	a.remember(s)
	return s, nil
}

// Recompute computes fresh standings and writes TotalPortfolioValue and
// Rank back to every participant.
func (a *Aggregator) Recompute(ctx context.Context, competitionID string) (*Standings, error) {
	s, err := a.compute(ctx, competitionID)
	if err != nil {
		return nil, err
	}

	vals := make([]model.Valuation, len(s.Entries))
	for i, e := range s.Entries {
		vals[i] = model.Valuation{UserID: e.UserID, TotalPortfolioValue: e.TotalPortfolioValue, Rank: e.Rank}
	}
	if err := a.src.UpdateValuations(ctx, competitionID, vals); err != nil {
		return nil, a.internal("update valuations", competitionID, err)
	}
	metrics.LeaderboardRecomputes.Inc()
	a.remember(s)

	a.publisher.Publish(ctx, events.Event{
		Type:          events.LeaderboardUpdated,
		CompetitionID: competitionID,
		Timestamp:     s.ComputedAt,
	})
	a.logger.Info("leaderboard recomputed", "competition_id", competitionID, "participants", len(s.Entries))
	return s, nil
}

// RecomputeAll recomputes every competition. Failures are logged and the
// loop continues; the number of successful recomputes is returned.
func (a *Aggregator) RecomputeAll(ctx context.Context) (int, error) {
	comps, err := a.src.ListCompetitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list competitions: %w", err)
	}
	done := 0
	for _, c := range comps {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := a.Recompute(ctx, c.ID); err != nil {
			a.logger.Warn("recompute failed", "competition_id", c.ID, "err", err)
			continue
		}
		done++
	}
	return done, nil
}

// Run recomputes all competitions every interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.RecomputeAll(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("periodic recompute", "err", err)
			}
		}
	}
}

func (a *Aggregator) compute(ctx context.Context, competitionID string) (*Standings, error) {
	if _, err := a.src.GetCompetition(ctx, competitionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "competition %s not found", competitionID)
		}
		return nil, a.internal("get competition", competitionID, err)
	}

	participants, err := a.src.ListParticipants(ctx, competitionID)
	if err != nil {
		return nil, a.internal("list participants", competitionID, err)
	}
	quotes, err := a.src.ListQuotes(ctx)
	if err != nil {
		return nil, a.internal("list quotes", competitionID, err)
	}
	prices := make(map[string]decimal.Decimal, len(quotes))
	for _, q := range quotes {
		prices[q.Symbol] = q.Price
	}

	entries := make([]Entry, 0, len(participants))
	for _, p := range participants {
		holdings, err := a.src.ListHoldings(ctx, competitionID, p.UserID)
		if err != nil {
			return nil, a.internal("list holdings", competitionID, err)
		}
		entries = append(entries, Value(p, holdings, prices))
	}
	Rank(entries)

	return &Standings{
		CompetitionID: competitionID,
		ComputedAt:    a.clock.Now().UTC(),
		Entries:       entries,
	}, nil
}

func (a *Aggregator) remember(s *Standings) {
	if a.ttl <= 0 {
		return
	}
	a.cache.SetWithTTL(s.CompetitionID, s, 1, a.ttl)
	a.cache.Wait()
}

func (a *Aggregator) internal(op, competitionID string, err error) error {
	a.logger.Error(op, "competition_id", competitionID, "err", err)
	return status.Error(codes.Internal, "internal error")
}

// Value returns p's standing: cash plus each holding at its price.
// Holdings without a price contribute zero and are listed as unpriced.
func Value(p model.Participant, holdings []model.Holding, prices map[string]decimal.Decimal) Entry {
	e := Entry{
		UserID:        p.UserID,
		CashBalance:   p.CashBalance,
		HoldingsValue: decimal.Zero,
	}
	for _, h := range holdings {
		price, ok := prices[h.Symbol]
		if !ok {
			e.Unpriced = append(e.Unpriced, h.Symbol)
			continue
		}
		e.HoldingsValue = e.HoldingsValue.Add(h.Quantity.Mul(price))
	}
	e.TotalPortfolioValue = e.CashBalance.Add(e.HoldingsValue)
	return e
}

// Rank sorts entries by value descending (ties by user id) and assigns
// competition ranks: equal values share a rank and the next distinct value
// skips ahead, as in 1, 2, 2, 4.
func Rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].TotalPortfolioValue.Cmp(entries[j].TotalPortfolioValue); c != 0 {
			return c > 0
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		if i > 0 && entries[i].TotalPortfolioValue.Equal(entries[i-1].TotalPortfolioValue) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

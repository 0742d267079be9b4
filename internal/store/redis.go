package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeclash/competition-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for quotes. Quote writes go to the primary store and then refresh
// the cache; reads check Redis first then fall back to the primary.
//
// Ledger transactions always read quotes from the primary so the execution
// price is never served from cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SetQuotes(ctx context.Context, quotes []model.PriceQuote) error {
	if err := s.primary.SetQuotes(ctx, quotes); err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for i := range quotes {
		data, err := json.Marshal(&quotes[i])
		if err != nil {
			s.logger.Warn("quote cache encode failed", "symbol", quotes[i].Symbol, "err", err)
			pipe.Del(ctx, quoteKey(quotes[i].Symbol))
			continue
		}
		pipe.Set(ctx, quoteKey(quotes[i].Symbol), data, s.ttl)
	}
	pipe.Del(ctx, allQuotesKey)
	// A failed refresh leaves entries that expire with the TTL.
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("quote cache refresh failed", "symbols", len(quotes), "ttl", s.ttl.String(), "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetQuote(ctx context.Context, symbol string) (*model.PriceQuote, error) {
	data, err := s.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err == nil {
		var q model.PriceQuote
		if json.Unmarshal(data, &q) == nil {
			return &q, nil
		}
	}

	// Cache miss: read from primary.
	q, err := s.primary.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(q); err == nil {
		s.rdb.Set(ctx, quoteKey(symbol), data, s.ttl)
	}
	return q, nil
}

func (s *CachedStore) ListQuotes(ctx context.Context) ([]model.PriceQuote, error) {
	data, err := s.rdb.Get(ctx, allQuotesKey).Bytes()
	if err == nil {
		var quotes []model.PriceQuote
		if json.Unmarshal(data, &quotes) == nil {
			return quotes, nil
		}
	}

	quotes, err := s.primary.ListQuotes(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(quotes); err == nil {
		s.rdb.Set(ctx, allQuotesKey, data, s.ttl)
	}
	return quotes, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) RunTx(ctx context.Context, competitionID, userID string, fn func(context.Context, LedgerTx) error) error {
	return s.primary.RunTx(ctx, competitionID, userID, fn)
}

func (s *CachedStore) CreateCompetition(ctx context.Context, c *model.Competition, creator *model.Participant) error {
	return s.primary.CreateCompetition(ctx, c, creator)
}

func (s *CachedStore) JoinCompetition(ctx context.Context, p *model.Participant) error {
	return s.primary.JoinCompetition(ctx, p)
}

func (s *CachedStore) GetCompetition(ctx context.Context, id string) (*model.Competition, error) {
	return s.primary.GetCompetition(ctx, id)
}

func (s *CachedStore) ListCompetitions(ctx context.Context) ([]model.Competition, error) {
	return s.primary.ListCompetitions(ctx)
}

func (s *CachedStore) ListCompetitionsForUser(ctx context.Context, userID string) ([]model.Competition, error) {
	return s.primary.ListCompetitionsForUser(ctx, userID)
}

func (s *CachedStore) GetParticipant(ctx context.Context, competitionID, userID string) (*model.Participant, error) {
	return s.primary.GetParticipant(ctx, competitionID, userID)
}

func (s *CachedStore) ListParticipants(ctx context.Context, competitionID string) ([]model.Participant, error) {
	return s.primary.ListParticipants(ctx, competitionID)
}

func (s *CachedStore) ListHoldings(ctx context.Context, competitionID, userID string) ([]model.Holding, error) {
	return s.primary.ListHoldings(ctx, competitionID, userID)
}

func (s *CachedStore) ListTransactions(ctx context.Context, competitionID, userID string) ([]model.TransactionLogEntry, error) {
	return s.primary.ListTransactions(ctx, competitionID, userID)
}

func (s *CachedStore) UpdateValuations(ctx context.Context, competitionID string, vals []model.Valuation) error {
	return s.primary.UpdateValuations(ctx, competitionID, vals)
}

func (s *CachedStore) HeldSymbols(ctx context.Context) ([]model.SymbolRef, error) {
	return s.primary.HeldSymbols(ctx)
}

// --- Cache helpers ---

const allQuotesKey = "quotes:all"

func quoteKey(symbol string) string { return fmt.Sprintf("quote:%s", symbol) }

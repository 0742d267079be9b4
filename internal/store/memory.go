package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tradeclash/competition-engine/internal/model"
)

// errNegativeCash and errNonPositiveHolding mirror the CHECK constraints of
// the PostgreSQL schema.
var (
	errNegativeCash       = errors.New("store: cash balance would be negative")
	errNonPositiveHolding = errors.New("store: holding quantity must be positive")
)

type participantKey struct {
	competitionID string
	userID        string
}

// participantRecord is one participant subtree: the participant document,
// its holdings and its transaction log. version increments on every ledger
// commit and is what optimistic transactions validate against.
type participantRecord struct {
	participant model.Participant
	holdings    map[string]model.Holding
	txns        []model.TransactionLogEntry
	version     uint64
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Ledger transactions use optimistic concurrency: RunTx reads from a
// snapshot taken at begin and commit fails with ErrConflict if the
// participant was committed to in the meantime. The store lock is held only
// while snapshotting and committing, never while fn runs.
type MemoryStore struct {
	mu           sync.RWMutex
	competitions map[string]*model.Competition
	participants map[participantKey]*participantRecord
	quotes       map[string]model.PriceQuote

	// txWriteHook, when set, runs for each staged log entry during commit;
	// an error aborts the whole commit.
	txWriteHook func(model.TransactionLogEntry) error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		competitions: make(map[string]*model.Competition),
		participants: make(map[participantKey]*participantRecord),
		quotes:       make(map[string]model.PriceQuote),
	}
}

// SetTransactionWriteHook installs fn to run when a transaction log entry is
// written. Pass nil to remove it.
func (s *MemoryStore) SetTransactionWriteHook(fn func(model.TransactionLogEntry) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txWriteHook = fn
}

// --- PriceStore ---

func (s *MemoryStore) GetQuote(_ context.Context, symbol string) (*model.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", symbol, ErrNotFound)
	}
	return &q, nil
}

func (s *MemoryStore) SetQuotes(_ context.Context, quotes []model.PriceQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range quotes {
		s.quotes[q.Symbol] = q
	}
	return nil
}

func (s *MemoryStore) ListQuotes(_ context.Context) ([]model.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := make([]model.PriceQuote, 0, len(s.quotes))
	for _, q := range s.quotes {
		quotes = append(quotes, q)
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })
	return quotes, nil
}

// --- Ledger ---

type holdingOp struct {
	symbol  string
	holding *model.Holding // nil deletes
}

type memoryTx struct {
	store   *MemoryStore
	key     participantKey
	snap    *participantRecord // nil when the participant did not exist
	version uint64

	cash     *decimal.Decimal
	holdings []holdingOp
	entries  []model.TransactionLogEntry
}

func (s *MemoryStore) RunTx(ctx context.Context, competitionID, userID string, fn func(context.Context, LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store: s,
		key:   participantKey{competitionID: competitionID, userID: userID},
	}

	s.mu.RLock()
	if rec, ok := s.participants[tx.key]; ok {
		tx.snap = rec.clone()
		tx.version = rec.version
	}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !tx.dirty() {
		return nil
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.participants[tx.key]
	if !ok || tx.snap == nil {
		return fmt.Errorf("participant %s/%s: %w", tx.key.competitionID, tx.key.userID, ErrNotFound)
	}
	if rec.version != tx.version {
		return ErrConflict
	}

	// Stage everything on copies; the record is only touched once every
	// write has succeeded.
	cash := rec.participant.CashBalance
	if tx.cash != nil {
		cash = *tx.cash
	}
	if cash.IsNegative() {
		return errNegativeCash
	}

	holdings := make(map[string]model.Holding, len(rec.holdings))
	for sym, h := range rec.holdings {
		holdings[sym] = h
	}
	for _, op := range tx.holdings {
		if op.holding == nil {
			delete(holdings, op.symbol)
			continue
		}
		if !op.holding.Quantity.IsPositive() {
			return errNonPositiveHolding
		}
		holdings[op.symbol] = *op.holding
	}

	for _, e := range tx.entries {
		if s.txWriteHook != nil {
			if err := s.txWriteHook(e); err != nil {
				return fmt.Errorf("append transaction: %w", err)
			}
		}
	}

	rec.participant.CashBalance = cash
	rec.holdings = holdings
	rec.txns = append(rec.txns, tx.entries...)
	rec.version++
	return nil
}

func (tx *memoryTx) dirty() bool {
	return tx.cash != nil || len(tx.holdings) > 0 || len(tx.entries) > 0
}

func (tx *memoryTx) Participant(_ context.Context) (*model.Participant, error) {
	if tx.snap == nil {
		return nil, fmt.Errorf("participant %s/%s: %w", tx.key.competitionID, tx.key.userID, ErrNotFound)
	}
	p := tx.snap.participant
	return &p, nil
}

func (tx *memoryTx) Holding(_ context.Context, symbol string) (*model.Holding, error) {
	if tx.snap != nil {
		if h, ok := tx.snap.holdings[symbol]; ok {
			return &h, nil
		}
	}
	return nil, fmt.Errorf("holding %s: %w", symbol, ErrNotFound)
}

func (tx *memoryTx) Quote(ctx context.Context, symbol string) (*model.PriceQuote, error) {
	return tx.store.GetQuote(ctx, symbol)
}

func (tx *memoryTx) SetCash(balance decimal.Decimal) {
	tx.cash = &balance
}

func (tx *memoryTx) PutHolding(h model.Holding) {
	tx.holdings = append(tx.holdings, holdingOp{symbol: h.Symbol, holding: &h})
}

func (tx *memoryTx) DeleteHolding(symbol string) {
	tx.holdings = append(tx.holdings, holdingOp{symbol: symbol})
}

func (tx *memoryTx) AppendTransaction(entry model.TransactionLogEntry) {
	tx.entries = append(tx.entries, entry)
}

func (r *participantRecord) clone() *participantRecord {
	holdings := make(map[string]model.Holding, len(r.holdings))
	for sym, h := range r.holdings {
		holdings[sym] = h
	}
	return &participantRecord{
		participant: r.participant,
		holdings:    holdings,
		version:     r.version,
	}
}

// --- CompetitionStore ---

func (s *MemoryStore) CreateCompetition(_ context.Context, c *model.Competition, creator *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.competitions[c.ID]; exists {
		return fmt.Errorf("competition %s: %w", c.ID, ErrAlreadyExists)
	}

	// Store copies to avoid external mutation.
	comp := *c
	comp.ParticipantCount = 1
	s.competitions[c.ID] = &comp
	s.participants[participantKey{c.ID, creator.UserID}] = &participantRecord{
		participant: *creator,
		holdings:    make(map[string]model.Holding),
	}
	return nil
}

func (s *MemoryStore) JoinCompetition(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	comp, ok := s.competitions[p.CompetitionID]
	if !ok {
		return fmt.Errorf("competition %s: %w", p.CompetitionID, ErrNotFound)
	}
	key := participantKey{p.CompetitionID, p.UserID}
	if _, exists := s.participants[key]; exists {
		return fmt.Errorf("participant %s/%s: %w", p.CompetitionID, p.UserID, ErrAlreadyExists)
	}

	s.participants[key] = &participantRecord{
		participant: *p,
		holdings:    make(map[string]model.Holding),
	}
	comp.ParticipantCount++
	return nil
}

func (s *MemoryStore) GetCompetition(_ context.Context, id string) (*model.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.competitions[id]
	if !ok {
		return nil, fmt.Errorf("competition %s: %w", id, ErrNotFound)
	}
	comp := *c
	return &comp, nil
}

func (s *MemoryStore) ListCompetitions(_ context.Context) ([]model.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Competition, 0, len(s.competitions))
	for _, c := range s.competitions {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) ListCompetitionsForUser(_ context.Context, userID string) ([]model.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Competition
	for key := range s.participants {
		if key.userID != userID {
			continue
		}
		if c, ok := s.competitions[key.competitionID]; ok {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, competitionID, userID string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.participants[participantKey{competitionID, userID}]
	if !ok {
		return nil, fmt.Errorf("participant %s/%s: %w", competitionID, userID, ErrNotFound)
	}
	p := rec.participant
	return &p, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, competitionID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Participant
	for key, rec := range s.participants {
		if key.competitionID == competitionID {
			result = append(result, rec.participant)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, competitionID, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.participants[participantKey{competitionID, userID}]
	if !ok {
		return nil, fmt.Errorf("participant %s/%s: %w", competitionID, userID, ErrNotFound)
	}
	result := make([]model.Holding, 0, len(rec.holdings))
	for _, h := range rec.holdings {
		result = append(result, h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, competitionID, userID string) ([]model.TransactionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.participants[participantKey{competitionID, userID}]
	if !ok {
		return nil, fmt.Errorf("participant %s/%s: %w", competitionID, userID, ErrNotFound)
	}
	result := make([]model.TransactionLogEntry, len(rec.txns))
	copy(result, rec.txns)
	return result, nil
}

// UpdateValuations does not bump the ledger version: the fields it writes
// are disjoint from the ones order transactions write.
func (s *MemoryStore) UpdateValuations(_ context.Context, competitionID string, vals []model.Valuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vals {
		rec, ok := s.participants[participantKey{competitionID, v.UserID}]
		if !ok {
			continue
		}
		rec.participant.TotalPortfolioValue = v.TotalPortfolioValue
		rec.participant.Rank = v.Rank
	}
	return nil
}

func (s *MemoryStore) HeldSymbols(_ context.Context) ([]model.SymbolRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]model.SymbolRef)
	for _, rec := range s.participants {
		for sym, h := range rec.holdings {
			if _, ok := seen[sym]; !ok {
				seen[sym] = model.SymbolRef{Symbol: sym, Type: h.AssetType}
			}
		}
	}
	refs := make([]model.SymbolRef, 0, len(seen))
	for _, ref := range seen {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Symbol < refs[j].Symbol })
	return refs, nil
}

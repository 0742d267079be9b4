// Package store defines the persistence interfaces for the competition
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through quote cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/tradeclash/competition-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned by Ledger.RunTx when a concurrent transaction
	// committed a change to the same participant first. Nothing was written;
	// the caller may retry.
	ErrConflict = errors.New("store: transaction conflict")
)

// Store is the full persistence interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache for quotes.
type Store interface {
	PriceStore
	Ledger
	CompetitionStore
}

// PriceStore maps symbol to its latest quote. Writes are last-write-wins.
type PriceStore interface {
	// GetQuote returns the latest quote for symbol or ErrNotFound.
	GetQuote(ctx context.Context, symbol string) (*model.PriceQuote, error)

	// SetQuotes overwrites the quotes in one atomic batch.
	SetQuotes(ctx context.Context, quotes []model.PriceQuote) error

	// ListQuotes returns all stored quotes ordered by symbol.
	ListQuotes(ctx context.Context) ([]model.PriceQuote, error)
}

// Ledger runs atomic read-then-write units over one participant's cash,
// holdings and transaction log.
type Ledger interface {
	// RunTx executes fn against a consistent view of the participant
	// (competitionID, userID) and commits the writes fn staged if it returns
	// nil. If fn returns an error nothing is written and that error is
	// returned unchanged. ErrConflict means a concurrent commit won; no
	// writes were applied.
	RunTx(ctx context.Context, competitionID, userID string, fn func(ctx context.Context, tx LedgerTx) error) error
}

// LedgerTx is the view of the ledger available inside RunTx. Reads observe
// the state as of the start of the transaction; writes are staged and become
// visible only on commit.
type LedgerTx interface {
	// Participant returns the participant or ErrNotFound.
	Participant(ctx context.Context) (*model.Participant, error)

	// Holding returns the participant's holding in symbol or ErrNotFound.
	Holding(ctx context.Context, symbol string) (*model.Holding, error)

	// Quote returns the latest quote for symbol or ErrNotFound.
	Quote(ctx context.Context, symbol string) (*model.PriceQuote, error)

	// SetCash stages a new cash balance.
	SetCash(balance decimal.Decimal)

	// PutHolding stages an insert-or-update of a holding.
	PutHolding(h model.Holding)

	// DeleteHolding stages removal of the holding in symbol.
	DeleteHolding(symbol string)

	// AppendTransaction stages a new transaction log entry.
	AppendTransaction(entry model.TransactionLogEntry)
}

// CompetitionStore holds competitions and the read side of participant
// state used by collaborators (competition service, leaderboard, HTTP).
type CompetitionStore interface {
	// CreateCompetition atomically persists the competition and its
	// creator's participant record.
	CreateCompetition(ctx context.Context, c *model.Competition, creator *model.Participant) error

	// JoinCompetition atomically inserts p and increments the competition's
	// participant count. ErrNotFound if the competition does not exist,
	// ErrAlreadyExists if the user is already a participant.
	JoinCompetition(ctx context.Context, p *model.Participant) error

	// GetCompetition retrieves a competition by ID.
	GetCompetition(ctx context.Context, id string) (*model.Competition, error)

	// ListCompetitions returns every competition, newest first.
	ListCompetitions(ctx context.Context) ([]model.Competition, error)

	// ListCompetitionsForUser returns competitions userID participates in.
	ListCompetitionsForUser(ctx context.Context, userID string) ([]model.Competition, error)

	// GetParticipant retrieves one participant.
	GetParticipant(ctx context.Context, competitionID, userID string) (*model.Participant, error)

	// ListParticipants returns all participants of a competition.
	ListParticipants(ctx context.Context, competitionID string) ([]model.Participant, error)

	// ListHoldings returns a participant's holdings ordered by symbol.
	ListHoldings(ctx context.Context, competitionID, userID string) ([]model.Holding, error)

	// ListTransactions returns a participant's log, oldest first.
	ListTransactions(ctx context.Context, competitionID, userID string) ([]model.TransactionLogEntry, error)

	// UpdateValuations writes TotalPortfolioValue and Rank only.
	UpdateValuations(ctx context.Context, competitionID string, vals []model.Valuation) error

	// HeldSymbols returns the distinct symbols with a holding in any
	// competition.
	HeldSymbols(ctx context.Context) ([]model.SymbolRef, error)
}

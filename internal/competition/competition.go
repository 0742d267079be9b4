// Package competition creates competitions and manages membership.
package competition

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tradeclash/competition-engine/internal/calendar"
	"github.com/tradeclash/competition-engine/internal/model"
	"github.com/tradeclash/competition-engine/internal/store"
)

// MaxNameLength bounds competition names, counted in characters.
const MaxNameLength = 100

// DefaultStartingCash is the cash every participant starts with.
var DefaultStartingCash = decimal.NewFromInt(100000)

// Service creates and joins competitions. Errors are gRPC status errors.
type Service struct {
	store        store.CompetitionStore
	startingCash decimal.Decimal
	clock        calendar.Clock
	logger       *slog.Logger
}

// NewService creates a competition service. A non-positive startingCash
// falls back to DefaultStartingCash.
func NewService(st store.CompetitionStore, startingCash decimal.Decimal, clock calendar.Clock, logger *slog.Logger) *Service {
	if !startingCash.IsPositive() {
		startingCash = DefaultStartingCash
	}
	return &Service{
		store:        st,
		startingCash: startingCash,
		clock:        clock,
		logger:       logger.With("component", "competition"),
	}
}

// Create makes a new competition owned by userID and enrolls the creator
// with the starting cash. Both records are written atomically.
func (s *Service) Create(ctx context.Context, userID, name string) (*model.Competition, error) {
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, status.Errorf(codes.InvalidArgument, "name must be at most %d characters", MaxNameLength)
	}

	now := s.clock.Now().UTC()
	c := &model.Competition{
		ID:               uuid.New().String(),
		Name:             name,
		CreatorID:        userID,
		CreatedAt:        now,
		StartingCash:     s.startingCash,
		ParticipantCount: 1,
	}
	if err := s.store.CreateCompetition(ctx, c, s.newParticipant(c.ID, userID, now)); err != nil {
		return nil, s.internal("create competition", err)
	}

	s.logger.Info("competition created", "id", c.ID, "creator", userID, "starting_cash", c.StartingCash.String())
	return c, nil
}

// Join enrolls userID in an existing competition.
func (s *Service) Join(ctx context.Context, userID, competitionID string) (*model.Participant, error) {
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if competitionID == "" {
		return nil, status.Error(codes.InvalidArgument, "competition_id is required")
	}

	c, err := s.store.GetCompetition(ctx, competitionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "competition %s not found", competitionID)
	}
	if err != nil {
		return nil, s.internal("get competition", err)
	}

	p := s.newParticipant(c.ID, userID, s.clock.Now().UTC())
	p.CashBalance = c.StartingCash
	p.TotalPortfolioValue = c.StartingCash

	switch err := s.store.JoinCompetition(ctx, p); {
	case errors.Is(err, store.ErrAlreadyExists):
		return nil, status.Error(codes.AlreadyExists, "already a participant")
	case errors.Is(err, store.ErrNotFound):
		return nil, status.Errorf(codes.NotFound, "competition %s not found", competitionID)
	case err != nil:
		return nil, s.internal("join competition", err)
	}

	s.logger.Info("competition joined", "id", c.ID, "user_id", userID)
	return p, nil
}

// Get returns one competition.
func (s *Service) Get(ctx context.Context, competitionID string) (*model.Competition, error) {
	c, err := s.store.GetCompetition(ctx, competitionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "competition %s not found", competitionID)
	}
	if err != nil {
		return nil, s.internal("get competition", err)
	}
	return c, nil
}

// ListForUser returns the competitions userID participates in, newest
// first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.Competition, error) {
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	comps, err := s.store.ListCompetitionsForUser(ctx, userID)
	if err != nil {
		return nil, s.internal("list competitions", err)
	}
	if comps == nil {
		comps = []model.Competition{}
	}
	return comps, nil
}

// Portfolio returns the caller's participant record and holdings.
func (s *Service) Portfolio(ctx context.Context, userID, competitionID string) (*model.Portfolio, error) {
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	p, err := s.store.GetParticipant(ctx, competitionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "not a participant in competition %s", competitionID)
	}
	if err != nil {
		return nil, s.internal("get participant", err)
	}
	holdings, err := s.store.ListHoldings(ctx, competitionID, userID)
	if err != nil {
		return nil, s.internal("list holdings", err)
	}
	return &model.Portfolio{Participant: *p, Holdings: holdings}, nil
}

// Transactions returns the caller's transaction log, oldest first.
func (s *Service) Transactions(ctx context.Context, userID, competitionID string) ([]model.TransactionLogEntry, error) {
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if _, err := s.store.GetParticipant(ctx, competitionID, userID); errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "not a participant in competition %s", competitionID)
	} else if err != nil {
		return nil, s.internal("get participant", err)
	}
	txns, err := s.store.ListTransactions(ctx, competitionID, userID)
	if err != nil {
		return nil, s.internal("list transactions", err)
	}
	if txns == nil {
		txns = []model.TransactionLogEntry{}
	}
	return txns, nil
}

func (s *Service) newParticipant(competitionID, userID string, now time.Time) *model.Participant {
	return &model.Participant{
		CompetitionID:       competitionID,
		UserID:              userID,
		CashBalance:         s.startingCash,
		TotalPortfolioValue: s.startingCash,
		JoinedAt:            now,
	}
}

func (s *Service) internal(op string, err error) error {
	s.logger.Error(op, "err", err)
	return status.Error(codes.Internal, "internal error")
}

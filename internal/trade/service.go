// Package trade provides the HTTP handlers for placing orders, reading
// prices, and managing competitions, plus the WebSocket event hub.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tradeclash/competition-engine/internal/auth"
	"github.com/tradeclash/competition-engine/internal/competition"
	"github.com/tradeclash/competition-engine/internal/leaderboard"
	"github.com/tradeclash/competition-engine/internal/model"
	"github.com/tradeclash/competition-engine/internal/order"
	"github.com/tradeclash/competition-engine/internal/store"
	"github.com/tradeclash/competition-engine/internal/symbol"
)

// Service exposes the engine over HTTP. Caller identity comes from the
// request context (see auth.Middleware), never from the request body.
type Service struct {
	orders       *order.Engine
	competitions *competition.Service
	leaderboard  *leaderboard.Aggregator
	prices       store.PriceStore
	logger       *slog.Logger
}

// NewService creates the HTTP service.
func NewService(orders *order.Engine, comps *competition.Service, lb *leaderboard.Aggregator, prices store.PriceStore, logger *slog.Logger) *Service {
	return &Service{
		orders:       orders,
		competitions: comps,
		leaderboard:  lb,
		prices:       prices,
		logger:       logger.With("component", "http"),
	}
}

// Routes registers the API on r. Mount it under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Post("/orders", s.PlaceOrder)

	r.Get("/prices", s.ListPrices)
	r.Get("/prices/{symbol}", s.GetPrice)

	r.Route("/competitions", func(r chi.Router) {
		r.Get("/", s.ListCompetitions)
		r.Post("/", s.CreateCompetition)
		r.Route("/{competitionID}", func(r chi.Router) {
			r.Get("/", s.GetCompetition)
			r.Post("/join", s.JoinCompetition)
			r.Get("/portfolio", s.GetPortfolio)
			r.Get("/transactions", s.ListTransactions)
			r.Get("/leaderboard", s.GetLeaderboard)
			r.Post("/leaderboard/recompute", s.RecomputeLeaderboard)
		})
	})
}

// CreateCompetitionRequest is the JSON body for POST /competitions.
type CreateCompetitionRequest struct {
	Name string `json:"name"`
}

// PlaceOrder handles POST /api/v1/orders.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		writeError(w, order.MsgUnauthenticated, http.StatusUnauthorized, codes.Unauthenticated)
		return
	}

	var req order.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, codes.InvalidArgument)
		return
	}

	res, err := s.orders.PlaceOrder(r.Context(), userID, req)
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListPrices handles GET /api/v1/prices.
func (s *Service) ListPrices(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.prices.ListQuotes(r.Context())
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	if quotes == nil {
		quotes = []model.PriceQuote{}
	}
	writeJSON(w, http.StatusOK, quotes)
}

// GetPrice handles GET /api/v1/prices/{symbol}.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	sym := symbol.Normalize(chi.URLParam(r, "symbol"))

	q, err := s.prices.GetQuote(r.Context(), sym)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no price available for "+sym, http.StatusNotFound, codes.NotFound)
		return
	}
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// CreateCompetition handles POST /api/v1/competitions.
func (s *Service) CreateCompetition(w http.ResponseWriter, r *http.Request) {
	var req CreateCompetitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, codes.InvalidArgument)
		return
	}

	c, err := s.competitions.Create(r.Context(), auth.UserID(r.Context()), req.Name)
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCompetitions handles GET /api/v1/competitions, returning the
// caller's competitions.
func (s *Service) ListCompetitions(w http.ResponseWriter, r *http.Request) {
	comps, err := s.competitions.ListForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comps)
}

// GetCompetition handles GET /api/v1/competitions/{competitionID}.
func (s *Service) GetCompetition(w http.ResponseWriter, r *http.Request) {
	c, err := s.competitions.Get(r.Context(), chi.URLParam(r, "competitionID"))
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// JoinCompetition handles POST /api/v1/competitions/{competitionID}/join.
func (s *Service) JoinCompetition(w http.ResponseWriter, r *http.Request) {
	p, err := s.competitions.Join(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "competitionID"))
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetPortfolio handles GET /api/v1/competitions/{competitionID}/portfolio.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.competitions.Portfolio(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "competitionID"))
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListTransactions handles GET /api/v1/competitions/{competitionID}/transactions.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.competitions.Transactions(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "competitionID"))
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetLeaderboard handles GET /api/v1/competitions/{competitionID}/leaderboard.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	standings, err := s.leaderboard.Standings(r.Context(), chi.URLParam(r, "competitionID"))
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, standings)
}

// RecomputeLeaderboard handles
// POST /api/v1/competitions/{competitionID}/leaderboard/recompute.
func (s *Service) RecomputeLeaderboard(w http.ResponseWriter, r *http.Request) {
	if auth.UserID(r.Context()) == "" {
		writeError(w, order.MsgUnauthenticated, http.StatusUnauthorized, codes.Unauthenticated)
		return
	}
	standings, err := s.leaderboard.Recompute(r.Context(), chi.URLParam(r, "competitionID"))
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, standings)
}

var httpStatus = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.Aborted:            http.StatusConflict,
	codes.FailedPrecondition: http.StatusPreconditionFailed,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.Canceled:           499,
}

var codeNames = map[codes.Code]string{
	codes.InvalidArgument:    "INVALID_ARGUMENT",
	codes.Unauthenticated:    "UNAUTHENTICATED",
	codes.PermissionDenied:   "PERMISSION_DENIED",
	codes.NotFound:           "NOT_FOUND",
	codes.AlreadyExists:      "ALREADY_EXISTS",
	codes.Aborted:            "ABORTED",
	codes.FailedPrecondition: "FAILED_PRECONDITION",
	codes.DeadlineExceeded:   "DEADLINE_EXCEEDED",
	codes.Canceled:           "CANCELLED",
	codes.Internal:           "INTERNAL",
}

// writeStatusError translates a status error into an HTTP response.
// Anything that is not a known caller-facing code becomes a 500 with a
// generic message.
func (s *Service) writeStatusError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	code, known := httpStatus[st.Code()]
	if !ok || !known {
		if st.Code() != codes.Internal {
			s.logger.Error("unhandled error", "err", err)
		}
		writeError(w, order.MsgInternal, http.StatusInternalServerError, codes.Internal)
		return
	}
	writeError(w, st.Message(), code, st.Code())
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int, code codes.Code) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
		"code":  codeNames[code],
	})
}

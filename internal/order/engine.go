package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tradeclash/competition-engine/internal/calendar"
	"github.com/tradeclash/competition-engine/internal/events"
	"github.com/tradeclash/competition-engine/internal/metrics"
	"github.com/tradeclash/competition-engine/internal/model"
	"github.com/tradeclash/competition-engine/internal/store"
	"github.com/tradeclash/competition-engine/internal/symbol"
)

// Engine executes orders against a Ledger.
type Engine struct {
	ledger    store.Ledger
	calendar  *calendar.Calendar
	clock     calendar.Clock
	publisher events.Publisher
	logger    *slog.Logger
	cfg       Config
	newID     func() string
}

// NewEngine creates an order engine. The calendar gates stock orders; the
// clock supplies both the market-hours instant and commit timestamps.
// Pass nil for pub if events are not needed.
func NewEngine(ledger store.Ledger, cal *calendar.Calendar, clock calendar.Clock, pub events.Publisher, logger *slog.Logger, cfg Config) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Engine{
		ledger:    ledger,
		calendar:  cal,
		clock:     clock,
		publisher: pub,
		logger:    logger.With("component", "order"),
		cfg:       cfg,
		newID:     func() string { return uuid.New().String() },
	}
}

// PlaceOrder executes req on behalf of userID. Identity is an explicit
// parameter; an empty userID is an unauthenticated caller.
//
// Errors are gRPC status errors: Unauthenticated, InvalidArgument,
// FailedPrecondition (market closed, insufficient funds or shares, stale
// price), NotFound (participant, quote) or Internal. On any error the ledger
// is unchanged.
func (e *Engine) PlaceOrder(ctx context.Context, userID string, req Request) (*Result, error) {
	start := time.Now()
	side := sideOf(req.Quantity)

	res, err := e.placeOrder(ctx, userID, req)

	metrics.OrdersTotal.WithLabelValues(string(side), status.Code(err).String()).Inc()
	metrics.OrderLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	metrics.TradeVolume.WithLabelValues(string(req.AssetType)).Add(res.Total.Abs().InexactFloat64())
	e.logger.Info("order executed",
		"transaction_id", res.TransactionID,
		"competition_id", req.CompetitionID,
		"user_id", userID,
		"symbol", res.Symbol,
		"quantity", res.Quantity.String(),
		"price", res.Price.String(),
		"total", res.Total.String(),
	)

	qty, price, total := res.Quantity, res.Price, res.Total
	e.publisher.Publish(ctx, events.Event{
		Type:          events.TradeExecuted,
		CompetitionID: req.CompetitionID,
		UserID:        userID,
		TransactionID: res.TransactionID,
		Symbol:        res.Symbol,
		AssetType:     string(req.AssetType),
		Quantity:      &qty,
		Price:         &price,
		Total:         &total,
		Timestamp:     res.ExecutedAt,
	})
	return res, nil
}

func (e *Engine) placeOrder(ctx context.Context, userID string, req Request) (*Result, error) {
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, MsgUnauthenticated)
	}
	sym, err := validate(req)
	if err != nil {
		return nil, err
	}
	req.Symbol = sym

	if now := e.clock.Now(); req.AssetType == model.AssetStock && !e.calendar.IsOpen(now) {
		return nil, status.Error(codes.FailedPrecondition, e.closedMessage(now))
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var res *Result
	attempts := 0
	err = retry(ctx, e.cfg.MaxAttempts, e.cfg.BaseBackoff, isConflict, func() error {
		attempts++
		if attempts > 1 {
			metrics.OrderConflictRetries.Inc()
		}
		var txErr error
		res, txErr = e.execute(ctx, userID, req)
		return txErr
	})
	if err == nil {
		return res, nil
	}

	if s, ok := status.FromError(err); ok {
		return nil, s.Err()
	}
	e.logger.Error("order failed",
		"competition_id", req.CompetitionID,
		"user_id", userID,
		"symbol", req.Symbol,
		"attempts", attempts,
		"err", err,
	)
	return nil, status.Error(codes.Internal, MsgInternal)
}

// execute runs one attempt of the state transition. Business-rule failures
// are returned as status errors; store errors are returned unchanged.
func (e *Engine) execute(ctx context.Context, userID string, req Request) (*Result, error) {
	var res *Result
	err := e.ledger.RunTx(ctx, req.CompetitionID, userID, func(ctx context.Context, tx store.LedgerTx) error {
		p, err := tx.Participant(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return status.Errorf(codes.NotFound, "not a participant in competition %s", req.CompetitionID)
		}
		if err != nil {
			return err
		}

		quote, err := tx.Quote(ctx, req.Symbol)
		if errors.Is(err, store.ErrNotFound) {
			return status.Errorf(codes.NotFound, "no price available for %s", req.Symbol)
		}
		if err != nil {
			return err
		}
		if quote.Type != req.AssetType {
			return status.Errorf(codes.InvalidArgument, "%s is a %s, not a %s", req.Symbol, quote.Type, req.AssetType)
		}

		now := e.clock.Now().UTC()
		if e.cfg.MaxQuoteAge > 0 && now.Sub(quote.LastUpdated) > e.cfg.MaxQuoteAge {
			return status.Error(codes.FailedPrecondition, MsgStalePrice)
		}

		held := decimal.Zero
		holding, err := tx.Holding(ctx, req.Symbol)
		switch {
		case errors.Is(err, store.ErrNotFound):
			holding = nil
		case err != nil:
			return err
		default:
			held = holding.Quantity
		}

		total := quote.Price.Mul(req.Quantity)
		side := sideOf(req.Quantity)
		var newQty decimal.Decimal

		if side == model.TradeBuy {
			if p.CashBalance.LessThan(total) {
				return status.Error(codes.FailedPrecondition, MsgInsufficientFunds)
			}
			newQty = held.Add(req.Quantity)
		} else {
			shares := req.Quantity.Abs()
			if holding == nil || held.LessThan(shares) {
				return status.Error(codes.FailedPrecondition, MsgInsufficientShares)
			}
			newQty = held.Sub(shares)
		}

		cash := p.CashBalance.Sub(total)
		tx.SetCash(cash)
		if newQty.IsZero() {
			tx.DeleteHolding(req.Symbol)
		} else {
			tx.PutHolding(model.Holding{
				CompetitionID: req.CompetitionID,
				UserID:        userID,
				Symbol:        req.Symbol,
				AssetType:     quote.Type,
				Quantity:      newQty,
				UpdatedAt:     now,
			})
		}

		entry := model.TransactionLogEntry{
			ID:            e.newID(),
			CompetitionID: req.CompetitionID,
			UserID:        userID,
			Symbol:        req.Symbol,
			AssetType:     quote.Type,
			Quantity:      req.Quantity,
			Price:         quote.Price,
			Total:         total,
			Timestamp:     now,
			Type:          side,
		}
		tx.AppendTransaction(entry)

		res = &Result{
			Success:       true,
			Message:       successMessage(side, req.Quantity, req.Symbol, quote.Price),
			TransactionID: entry.ID,
			Symbol:        req.Symbol,
			Type:          side,
			Quantity:      req.Quantity,
			Price:         quote.Price,
			Total:         total,
			CashBalance:   cash,
			ExecutedAt:    now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// validate checks field presence and shape and returns the normalized
// symbol.
func validate(req Request) (string, error) {
	if req.CompetitionID == "" {
		return "", status.Error(codes.InvalidArgument, "competition_id is required")
	}
	if req.Symbol == "" {
		return "", status.Error(codes.InvalidArgument, "symbol is required")
	}
	if req.AssetType == "" {
		return "", status.Error(codes.InvalidArgument, "asset_type is required")
	}
	if !req.AssetType.Valid() {
		return "", status.Errorf(codes.InvalidArgument, "asset_type must be %q or %q", model.AssetStock, model.AssetCrypto)
	}
	if req.Quantity.IsZero() {
		return "", status.Error(codes.InvalidArgument, "quantity must be non-zero")
	}
	if !req.Quantity.Equal(req.Quantity.Truncate(0)) {
		return "", status.Error(codes.InvalidArgument, "quantity must be a whole number")
	}
	sym := symbol.Normalize(req.Symbol)
	if err := symbol.Validate(sym, req.AssetType); err != nil {
		return "", status.Errorf(codes.InvalidArgument, "invalid symbol %q", req.Symbol)
	}
	return sym, nil
}

func sideOf(qty decimal.Decimal) model.TradeType {
	if qty.IsNegative() {
		return model.TradeSell
	}
	return model.TradeBuy
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict)
}

// closedMessage names the next session open when one is known.
func (e *Engine) closedMessage(now time.Time) string {
	next := e.calendar.NextOpen(now)
	if next.IsZero() {
		return MsgMarketClosed
	}
	return fmt.Sprintf("%s; opens at %s", MsgMarketClosed, next.Format("2006-01-02 15:04 MST"))
}

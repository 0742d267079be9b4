package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradeclash/competition-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Ledger transactions lock the participant row (SELECT ... FOR UPDATE), so
// concurrent orders for the same participant serialize while different
// participants never wait on each other.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// --- PriceStore ---

const quoteColumns = `symbol, price::TEXT, change_percent::TEXT, name, last_updated, type`

func (s *PostgresStore) GetQuote(ctx context.Context, symbol string) (*model.PriceQuote, error) {
	return getQuote(ctx, s.pool, symbol)
}

func (s *PostgresStore) SetQuotes(ctx context.Context, quotes []model.PriceQuote) error {
	if len(quotes) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, q := range quotes {
		var change *string
		if q.ChangePercent != nil {
			c := q.ChangePercent.String()
			change = &c
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO market_data (symbol, price, change_percent, name, last_updated, type)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5, $6)
			 ON CONFLICT (symbol) DO UPDATE
			 SET price = EXCLUDED.price, change_percent = EXCLUDED.change_percent,
			     name = EXCLUDED.name, last_updated = EXCLUDED.last_updated, type = EXCLUDED.type`,
			q.Symbol, q.Price.String(), change, q.Name, q.LastUpdated, string(q.Type),
		)
		if err != nil {
			return fmt.Errorf("upsert quote %s: %w", q.Symbol, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListQuotes(ctx context.Context) ([]model.PriceQuote, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+quoteColumns+` FROM market_data ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []model.PriceQuote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, rows.Err()
}

// --- Ledger ---

type pgHoldingOp struct {
	symbol  string
	holding *model.Holding // nil deletes
}

type pgLedgerTx struct {
	tx            pgx.Tx
	competitionID string
	userID        string

	cash     *decimal.Decimal
	holdings []pgHoldingOp
	entries  []model.TransactionLogEntry
}

func (s *PostgresStore) RunTx(ctx context.Context, competitionID, userID string, fn func(context.Context, LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx)

	ltx := &pgLedgerTx{tx: tx, competitionID: competitionID, userID: userID}
	if err := fn(ctx, ltx); err != nil {
		return err
	}
	if err := ltx.flush(ctx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (t *pgLedgerTx) Participant(ctx context.Context) (*model.Participant, error) {
	p, err := scanParticipant(t.tx.QueryRow(ctx,
		`SELECT `+participantColumns+`
		 FROM participants WHERE competition_id = $1 AND user_id = $2
		 FOR UPDATE`, t.competitionID, t.userID))
	if err != nil {
		return nil, notFound(fmt.Errorf("participant %s/%s: %w", t.competitionID, t.userID, err))
	}
	return p, nil
}

func (t *pgLedgerTx) Holding(ctx context.Context, symbol string) (*model.Holding, error) {
	h, err := scanHolding(t.tx.QueryRow(ctx,
		`SELECT `+holdingColumns+`
		 FROM holdings WHERE competition_id = $1 AND user_id = $2 AND symbol = $3`,
		t.competitionID, t.userID, symbol))
	if err != nil {
		return nil, notFound(fmt.Errorf("holding %s: %w", symbol, err))
	}
	return h, nil
}

func (t *pgLedgerTx) Quote(ctx context.Context, symbol string) (*model.PriceQuote, error) {
	return getQuote(ctx, t.tx, symbol)
}

func (t *pgLedgerTx) SetCash(balance decimal.Decimal) { t.cash = &balance }

func (t *pgLedgerTx) PutHolding(h model.Holding) {
	t.holdings = append(t.holdings, pgHoldingOp{symbol: h.Symbol, holding: &h})
}

func (t *pgLedgerTx) DeleteHolding(symbol string) {
	t.holdings = append(t.holdings, pgHoldingOp{symbol: symbol})
}

func (t *pgLedgerTx) AppendTransaction(e model.TransactionLogEntry) {
	t.entries = append(t.entries, e)
}

// flush writes the staged changes inside the still-open transaction.
func (t *pgLedgerTx) flush(ctx context.Context) error {
	if t.cash != nil {
		tag, err := t.tx.Exec(ctx,
			`UPDATE participants SET cash_balance = $3::NUMERIC
			 WHERE competition_id = $1 AND user_id = $2`,
			t.competitionID, t.userID, t.cash.String())
		if err != nil {
			return fmt.Errorf("update cash: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update cash: participant %s/%s: %w", t.competitionID, t.userID, ErrNotFound)
		}
	}

	for _, op := range t.holdings {
		if op.holding == nil {
			if _, err := t.tx.Exec(ctx,
				`DELETE FROM holdings WHERE competition_id = $1 AND user_id = $2 AND symbol = $3`,
				t.competitionID, t.userID, op.symbol); err != nil {
				return fmt.Errorf("delete holding %s: %w", op.symbol, err)
			}
			continue
		}
		h := op.holding
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO holdings (competition_id, user_id, symbol, asset_type, quantity, updated_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)
			 ON CONFLICT (competition_id, user_id, symbol) DO UPDATE
			 SET quantity = EXCLUDED.quantity, asset_type = EXCLUDED.asset_type, updated_at = EXCLUDED.updated_at`,
			t.competitionID, t.userID, h.Symbol, string(h.AssetType), h.Quantity.String(), h.UpdatedAt); err != nil {
			return fmt.Errorf("upsert holding %s: %w", h.Symbol, err)
		}
	}

	for _, e := range t.entries {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO transactions (id, competition_id, user_id, symbol, asset_type, quantity, price, total, timestamp, type)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
			e.ID, t.competitionID, t.userID, e.Symbol, string(e.AssetType),
			e.Quantity.String(), e.Price.String(), e.Total.String(), e.Timestamp, string(e.Type)); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}
	return nil
}

// --- CompetitionStore ---

const (
	competitionColumns = `id, name, creator_id, created_at, starting_cash::TEXT, participant_count`
	participantColumns = `competition_id, user_id, cash_balance::TEXT, total_portfolio_value::TEXT, rank, joined_at`
	holdingColumns     = `competition_id, user_id, symbol, asset_type, quantity::TEXT, updated_at`
)

func (s *PostgresStore) CreateCompetition(ctx context.Context, c *model.Competition, creator *model.Participant) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO competitions (id, name, creator_id, created_at, starting_cash, participant_count)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, 1)`,
		c.ID, c.Name, c.CreatorID, c.CreatedAt, c.StartingCash.String()); err != nil {
		return classify(fmt.Errorf("insert competition %s: %w", c.ID, err))
	}
	if err := insertParticipant(ctx, tx, creator); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) JoinCompetition(ctx context.Context, p *model.Participant) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE competitions SET participant_count = participant_count + 1 WHERE id = $1`,
		p.CompetitionID)
	if err != nil {
		return fmt.Errorf("increment participant count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("competition %s: %w", p.CompetitionID, ErrNotFound)
	}
	if err := insertParticipant(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertParticipant(ctx context.Context, tx pgx.Tx, p *model.Participant) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO participants (competition_id, user_id, cash_balance, total_portfolio_value, rank, joined_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
		p.CompetitionID, p.UserID, p.CashBalance.String(), p.TotalPortfolioValue.String(), p.Rank, p.JoinedAt)
	if err != nil {
		return classify(fmt.Errorf("insert participant %s/%s: %w", p.CompetitionID, p.UserID, err))
	}
	return nil
}

func (s *PostgresStore) GetCompetition(ctx context.Context, id string) (*model.Competition, error) {
	c, err := scanCompetition(s.pool.QueryRow(ctx,
		`SELECT `+competitionColumns+` FROM competitions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(fmt.Errorf("get competition %s: %w", id, err))
	}
	return c, nil
}

func (s *PostgresStore) ListCompetitions(ctx context.Context) ([]model.Competition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+competitionColumns+` FROM competitions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListCompetitionsForUser(ctx context.Context, userID string) ([]model.Competition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.name, c.creator_id, c.created_at, c.starting_cash::TEXT, c.participant_count
		 FROM competitions c
		 JOIN participants p ON p.competition_id = c.id
		 WHERE p.user_id = $1
		 ORDER BY c.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetParticipant(ctx context.Context, competitionID, userID string) (*model.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE competition_id = $1 AND user_id = $2`,
		competitionID, userID))
	if err != nil {
		return nil, notFound(fmt.Errorf("get participant %s/%s: %w", competitionID, userID, err))
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, competitionID string) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE competition_id = $1 ORDER BY user_id`,
		competitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListHoldings(ctx context.Context, competitionID, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings
		 WHERE competition_id = $1 AND user_id = $2 ORDER BY symbol`,
		competitionID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.Holding, 0)
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *h)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, competitionID, userID string) ([]model.TransactionLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, competition_id, user_id, symbol, asset_type,
		        quantity::TEXT, price::TEXT, total::TEXT, timestamp, type
		 FROM transactions WHERE competition_id = $1 AND user_id = $2
		 ORDER BY timestamp, id`, competitionID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.TransactionLogEntry
	for rows.Next() {
		var e model.TransactionLogEntry
		var assetType, tradeType, qtyS, priceS, totalS string
		if err := rows.Scan(&e.ID, &e.CompetitionID, &e.UserID, &e.Symbol, &assetType,
			&qtyS, &priceS, &totalS, &e.Timestamp, &tradeType); err != nil {
			return nil, err
		}
		e.AssetType = model.AssetType(assetType)
		e.Type = model.TradeType(tradeType)
		if e.Quantity, err = decimal.NewFromString(qtyS); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if e.Price, err = decimal.NewFromString(priceS); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if e.Total, err = decimal.NewFromString(totalS); err != nil {
			return nil, fmt.Errorf("parse total: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) UpdateValuations(ctx context.Context, competitionID string, vals []model.Valuation) error {
	if len(vals) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, v := range vals {
		if _, err := tx.Exec(ctx,
			`UPDATE participants SET total_portfolio_value = $3::NUMERIC, rank = $4
			 WHERE competition_id = $1 AND user_id = $2`,
			competitionID, v.UserID, v.TotalPortfolioValue.String(), v.Rank); err != nil {
			return fmt.Errorf("update valuation %s: %w", v.UserID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) HeldSymbols(ctx context.Context) ([]model.SymbolRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (symbol) symbol, asset_type FROM holdings ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []model.SymbolRef
	for rows.Next() {
		var ref model.SymbolRef
		var assetType string
		if err := rows.Scan(&ref.Symbol, &assetType); err != nil {
			return nil, err
		}
		ref.Type = model.AssetType(assetType)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// --- scanning helpers ---

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getQuote(ctx context.Context, q querier, symbol string) (*model.PriceQuote, error) {
	quote, err := scanQuote(q.QueryRow(ctx,
		`SELECT `+quoteColumns+` FROM market_data WHERE symbol = $1`, symbol))
	if err != nil {
		return nil, notFound(fmt.Errorf("quote %s: %w", symbol, err))
	}
	return quote, nil
}

func scanQuote(row pgx.Row) (*model.PriceQuote, error) {
	var q model.PriceQuote
	var priceS, assetType string
	var changeS *string
	if err := row.Scan(&q.Symbol, &priceS, &changeS, &q.Name, &q.LastUpdated, &assetType); err != nil {
		return nil, err
	}
	var err error
	if q.Price, err = decimal.NewFromString(priceS); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if changeS != nil {
		change, err := decimal.NewFromString(*changeS)
		if err != nil {
			return nil, fmt.Errorf("parse change percent: %w", err)
		}
		q.ChangePercent = &change
	}
	q.Type = model.AssetType(assetType)
	return &q, nil
}

func scanCompetition(row pgx.Row) (*model.Competition, error) {
	var c model.Competition
	var cashS string
	if err := row.Scan(&c.ID, &c.Name, &c.CreatorID, &c.CreatedAt, &cashS, &c.ParticipantCount); err != nil {
		return nil, err
	}
	var err error
	if c.StartingCash, err = decimal.NewFromString(cashS); err != nil {
		return nil, fmt.Errorf("parse starting cash: %w", err)
	}
	return &c, nil
}

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	var cashS, valueS string
	if err := row.Scan(&p.CompetitionID, &p.UserID, &cashS, &valueS, &p.Rank, &p.JoinedAt); err != nil {
		return nil, err
	}
	var err error
	if p.CashBalance, err = decimal.NewFromString(cashS); err != nil {
		return nil, fmt.Errorf("parse cash balance: %w", err)
	}
	if p.TotalPortfolioValue, err = decimal.NewFromString(valueS); err != nil {
		return nil, fmt.Errorf("parse portfolio value: %w", err)
	}
	return &p, nil
}

func scanHolding(row pgx.Row) (*model.Holding, error) {
	var h model.Holding
	var assetType, qtyS string
	if err := row.Scan(&h.CompetitionID, &h.UserID, &h.Symbol, &assetType, &qtyS, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.AssetType = model.AssetType(assetType)
	var err error
	if h.Quantity, err = decimal.NewFromString(qtyS); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	return &h, nil
}

// notFound maps pgx.ErrNoRows onto ErrNotFound, keeping the context.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// classify maps PostgreSQL errors onto the store's sentinel errors.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case "23505": // unique_violation
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}
	return err
}

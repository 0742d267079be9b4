package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeclash/competition-engine/internal/model"
	"github.com/tradeclash/competition-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// seedCompetition creates competition "c1" with user "alice" holding cash.
func seedCompetition(t *testing.T, ms *store.MemoryStore, cash float64) {
	t.Helper()
	now := time.Now().UTC()
	err := ms.CreateCompetition(context.Background(),
		&model.Competition{ID: "c1", Name: "Test", CreatorID: "alice", CreatedAt: now, StartingCash: d(cash)},
		&model.Participant{CompetitionID: "c1", UserID: "alice", CashBalance: d(cash), TotalPortfolioValue: d(cash), JoinedAt: now},
	)
	if err != nil {
		t.Fatalf("seed competition: %v", err)
	}
}

func TestRunTx_CommitsStagedWrites(t *testing.T) {
	ms := store.NewMemoryStore()
	seedCompetition(t, ms, 1000)
	ctx := context.Background()

	err := ms.RunTx(ctx, "c1", "alice", func(ctx context.Context, tx store.LedgerTx) error {
		p, err := tx.Participant(ctx)
		if err != nil {
			return err
		}
		tx.SetCash(p.CashBalance.Sub(d(500)))
		tx.PutHolding(model.Holding{CompetitionID: "c1", UserID: "alice", Symbol: "AAPL", AssetType: model.AssetStock, Quantity: d(5)})
		tx.AppendTransaction(model.TransactionLogEntry{ID: "t1", Symbol: "AAPL", Quantity: d(5), Price: d(100), Total: d(500), Type: model.TradeBuy})
		return nil
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	p, _ := ms.GetParticipant(ctx, "c1", "alice")
	if !p.CashBalance.Equal(d(500)) {
		t.Errorf("cash = %s, want 500", p.CashBalance)
	}
	holdings, _ := ms.ListHoldings(ctx, "c1", "alice")
	if len(holdings) != 1 || !holdings[0].Quantity.Equal(d(5)) {
		t.Errorf("holdings = %+v", holdings)
	}
	txns, _ := ms.ListTransactions(ctx, "c1", "alice")
	if len(txns) != 1 || txns[0].ID != "t1" {
		t.Errorf("transactions = %+v", txns)
	}
}

func TestRunTx_CallbackErrorWritesNothing(t *testing.T) {
	ms := store.NewMemoryStore()
	seedCompetition(t, ms, 1000)
	ctx := context.Background()
	boom := errors.New("boom")

	err := ms.RunTx(ctx, "c1", "alice", func(ctx context.Context, tx store.LedgerTx) error {
		tx.SetCash(d(1))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	p, _ := ms.GetParticipant(ctx, "c1", "alice")
	if !p.CashBalance.Equal(d(1000)) {
		t.Errorf("cash changed to %s", p.CashBalance)
	}
}

func TestRunTx_ConflictOnConcurrentCommit(t *testing.T) {
	ms := store.NewMemoryStore()
	seedCompetition(t, ms, 1000)
	ctx := context.Background()

	err := ms.RunTx(ctx, "c1", "alice", func(ctx context.Context, tx store.LedgerTx) error {
		// A second transaction commits while the first is still running.
		inner := ms.RunTx(ctx, "c1", "alice", func(ctx context.Context, tx store.LedgerTx) error {
			tx.SetCash(d(900))
			return nil
		})
		if inner != nil {
			t.Fatalf("inner RunTx: %v", inner)
		}
		tx.SetCash(d(800))
		return nil
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	p, _ := ms.GetParticipant(ctx, "c1", "alice")
	if !p.CashBalance.Equal(d(900)) {
		t.Errorf("cash = %s, want 900 from the winning commit", p.CashBalance)
	}
}

func TestRunTx_WriteHookFailureIsAtomic(t *testing.T) {
	ms := store.NewMemoryStore()
	seedCompetition(t, ms, 1000)
	ms.SetTransactionWriteHook(func(model.TransactionLogEntry) error {
		return errors.New("disk full")
	})
	ctx := context.Background()

	err := ms.RunTx(ctx, "c1", "alice", func(ctx context.Context, tx store.LedgerTx) error {
		tx.SetCash(d(500))
		tx.PutHolding(model.Holding{Symbol: "AAPL", AssetType: model.AssetStock, Quantity: d(5)})
		tx.AppendTransaction(model.TransactionLogEntry{ID: "t1"})
		return nil
	})
	if err == nil {
		t.Fatal("expected commit to fail")
	}

	p, _ := ms.GetParticipant(ctx, "c1", "alice")
	if !p.CashBalance.Equal(d(1000)) {
		t.Errorf("cash = %s, want 1000", p.CashBalance)
	}
	holdings, _ := ms.ListHoldings(ctx, "c1", "alice")
	if len(holdings) != 0 {
		t.Errorf("holdings = %+v, want none", holdings)
	}
	txns, _ := ms.ListTransactions(ctx, "c1", "alice")
	if len(txns) != 0 {
		t.Errorf("transactions = %+v, want none", txns)
	}
}

func TestRunTx_RejectsNegativeCash(t *testing.T) {
	ms := store.NewMemoryStore()
	seedCompetition(t, ms, 100)

	err := ms.RunTx(context.Background(), "c1", "alice", func(ctx context.Context, tx store.LedgerTx) error {
		tx.SetCash(d(-1))
		return nil
	})
	if err == nil {
		t.Fatal("expected negative cash to be rejected")
	}
}

func TestRunTx_MissingParticipant(t *testing.T) {
	ms := store.NewMemoryStore()
	seedCompetition(t, ms, 100)

	err := ms.RunTx(context.Background(), "c1", "bob", func(ctx context.Context, tx store.LedgerTx) error {
		_, err := tx.Participant(ctx)
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoinCompetition(t *testing.T) {
	ms := store.NewMemoryStore()
	seedCompetition(t, ms, 100)
	ctx := context.Background()

	bob := &model.Participant{CompetitionID: "c1", UserID: "bob", CashBalance: d(100)}
	if err := ms.JoinCompetition(ctx, bob); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := ms.JoinCompetition(ctx, bob); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("second join: expected ErrAlreadyExists, got %v", err)
	}
	if err := ms.JoinCompetition(ctx, &model.Participant{CompetitionID: "nope", UserID: "bob"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing competition: expected ErrNotFound, got %v", err)
	}

	c, _ := ms.GetCompetition(ctx, "c1")
	if c.ParticipantCount != 2 {
		t.Errorf("participant count = %d, want 2", c.ParticipantCount)
	}
	comps, _ := ms.ListCompetitionsForUser(ctx, "bob")
	if len(comps) != 1 || comps[0].ID != "c1" {
		t.Errorf("competitions for bob = %+v", comps)
	}
}

func TestUpdateValuations_DoesNotConflictWithOrders(t *testing.T) {
	ms := store.NewMemoryStore()
	seedCompetition(t, ms, 1000)
	ctx := context.Background()

	err := ms.RunTx(ctx, "c1", "alice", func(ctx context.Context, tx store.LedgerTx) error {
		if err := ms.UpdateValuations(ctx, "c1", []model.Valuation{{UserID: "alice", TotalPortfolioValue: d(1234), Rank: 1}}); err != nil {
			return err
		}
		tx.SetCash(d(900))
		return nil
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	p, _ := ms.GetParticipant(ctx, "c1", "alice")
	if !p.CashBalance.Equal(d(900)) || !p.TotalPortfolioValue.Equal(d(1234)) || p.Rank != 1 {
		t.Errorf("participant = %+v", p)
	}
}

func TestHeldSymbols(t *testing.T) {
	ms := store.NewMemoryStore()
	seedCompetition(t, ms, 1000)
	ctx := context.Background()

	err := ms.RunTx(ctx, "c1", "alice", func(ctx context.Context, tx store.LedgerTx) error {
		tx.PutHolding(model.Holding{Symbol: "TSLA", AssetType: model.AssetStock, Quantity: d(1)})
		tx.PutHolding(model.Holding{Symbol: "BTC", AssetType: model.AssetCrypto, Quantity: d(0.5)})
		return nil
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	refs, _ := ms.HeldSymbols(ctx)
	if len(refs) != 2 || refs[0].Symbol != "BTC" || refs[1].Symbol != "TSLA" {
		t.Fatalf("held symbols = %+v", refs)
	}
	if refs[0].Type != model.AssetCrypto {
		t.Errorf("BTC type = %s", refs[0].Type)
	}
}

func TestQuotes_LastWriteWins(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.SetQuotes(ctx, []model.PriceQuote{{Symbol: "AAPL", Price: d(100), Type: model.AssetStock}})
	ms.SetQuotes(ctx, []model.PriceQuote{{Symbol: "AAPL", Price: d(101), Type: model.AssetStock}})

	q, err := ms.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if !q.Price.Equal(d(101)) {
		t.Errorf("price = %s, want 101", q.Price)
	}
	if _, err := ms.GetQuote(ctx, "MSFT"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

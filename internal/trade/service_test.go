package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradeclash/competition-engine/internal/auth"
	"github.com/tradeclash/competition-engine/internal/calendar"
	"github.com/tradeclash/competition-engine/internal/competition"
	"github.com/tradeclash/competition-engine/internal/leaderboard"
	"github.com/tradeclash/competition-engine/internal/logging"
	"github.com/tradeclash/competition-engine/internal/model"
	"github.com/tradeclash/competition-engine/internal/order"
	"github.com/tradeclash/competition-engine/internal/store"
	"github.com/tradeclash/competition-engine/internal/trade"
)

const userHeader = "X-User-ID"

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// tuesdayNoon is 12:00 New York time on a regular trading day.
var tuesdayNoon = time.Date(2026, time.October, 20, 16, 0, 0, 0, time.UTC)

// saturdayNoon is 12:00 New York time on a Saturday.
var saturdayNoon = time.Date(2026, time.October, 24, 16, 0, 0, 0, time.UTC)

// newTestEnv creates the HTTP service over an in-memory store and chi
// router. Identity is taken from the X-User-ID header.
func newTestEnv(t *testing.T, at time.Time) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	clock := calendar.FixedClock(at)
	cal, err := calendar.Default()
	if err != nil {
		t.Fatalf("load calendar: %v", err)
	}
	logger := logging.Discard()

	engine := order.NewEngine(ms, cal, clock, nil, logger, order.DefaultConfig())
	comps := competition.NewService(ms, d(100000), clock, logger)
	agg, err := leaderboard.NewAggregator(ms, 0, clock, nil, logger)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	t.Cleanup(agg.Close)

	svc := trade.NewService(engine, comps, agg, ms, logger)
	r := chi.NewRouter()
	r.Use(auth.HeaderMiddleware(userHeader))
	r.Route("/api/v1", svc.Routes)

	if err := ms.SetQuotes(context.Background(), []model.PriceQuote{
		{Symbol: "AAPL", Price: d(150), Type: model.AssetStock, LastUpdated: at},
		{Symbol: "BTC", Price: d(64000), Type: model.AssetCrypto, Name: "Bitcoin", LastUpdated: at},
	}); err != nil {
		t.Fatalf("seed quotes: %v", err)
	}
	return ms, r
}

func do(t *testing.T, router chi.Router, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code, message string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
	if message != "" && body.Error != message {
		t.Errorf("error = %q, want %q", body.Error, message)
	}
}

// createCompetition creates a competition owned by user and returns its id.
func createCompetition(t *testing.T, router chi.Router, user string) string {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/competitions", user, trade.CreateCompetitionRequest{Name: "Fall Cup"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create competition: %d: %s", w.Code, w.Body.String())
	}
	var c model.Competition
	json.Unmarshal(w.Body.Bytes(), &c)
	if c.ID == "" {
		t.Fatal("expected competition id")
	}
	return c.ID
}

func placeOrder(t *testing.T, router chi.Router, user, compID, sym string, qty float64, assetType model.AssetType) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, router, "POST", "/api/v1/orders", user, order.Request{
		CompetitionID: compID,
		Symbol:        sym,
		Quantity:      d(qty),
		AssetType:     assetType,
	})
}

// --- Order tests ---

func TestPlaceOrder_Buy(t *testing.T) {
	ms, router := newTestEnv(t, tuesdayNoon)
	compID := createCompetition(t, router, "alice")

	w := placeOrder(t, router, "alice", compID, "aapl", 10, model.AssetStock)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res order.Result
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Success {
		t.Error("expected success")
	}
	if res.Message != "Successfully bought 10 AAPL at 150.00" {
		t.Errorf("unexpected message %q", res.Message)
	}
	if !res.CashBalance.Equal(d(98500)) {
		t.Errorf("cash = %s, want 98500", res.CashBalance)
	}

	holdings, _ := ms.ListHoldings(context.Background(), compID, "alice")
	if len(holdings) != 1 || !holdings[0].Quantity.Equal(d(10)) {
		t.Errorf("unexpected holdings %+v", holdings)
	}
}

func TestPlaceOrder_Unauthenticated(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)
	compID := createCompetition(t, router, "alice")

	w := placeOrder(t, router, "", compID, "AAPL", 1, model.AssetStock)
	expectError(t, w, http.StatusUnauthorized, "UNAUTHENTICATED", order.MsgUnauthenticated)
}

func TestPlaceOrder_UnauthenticatedBeforeBodyCheck(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)

	w := do(t, router, "POST", "/api/v1/orders", "", "not an order")
	expectError(t, w, http.StatusUnauthorized, "UNAUTHENTICATED", order.MsgUnauthenticated)
}

func TestPlaceOrder_CamelCaseBody(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)
	compID := createCompetition(t, router, "alice")

	w := do(t, router, "POST", "/api/v1/orders", "alice", map[string]any{
		"competitionId": compID,
		"symbol":        "AAPL",
		"quantity":      10,
		"assetType":     "stock",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res order.Result
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Success || !res.CashBalance.Equal(d(98500)) {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestPlaceOrder_SnakeCaseBody(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)
	compID := createCompetition(t, router, "alice")

	w := do(t, router, "POST", "/api/v1/orders", "alice", map[string]any{
		"competition_id": compID,
		"symbol":         "BTC",
		"quantity":       1,
		"asset_type":     "crypto",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlaceOrder_InsufficientFunds(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)
	compID := createCompetition(t, router, "alice")

	w := placeOrder(t, router, "alice", compID, "AAPL", 1000, model.AssetStock)
	expectError(t, w, http.StatusPreconditionFailed, "FAILED_PRECONDITION", order.MsgInsufficientFunds)
}

func TestPlaceOrder_MarketClosed(t *testing.T) {
	_, router := newTestEnv(t, saturdayNoon)
	compID := createCompetition(t, router, "alice")

	w := placeOrder(t, router, "alice", compID, "AAPL", 1, model.AssetStock)
	expectError(t, w, http.StatusPreconditionFailed, "FAILED_PRECONDITION", "market is closed; opens at 2026-10-26 09:30 EDT")

	// Crypto trades through the weekend.
	w = placeOrder(t, router, "alice", compID, "BTC", 1, model.AssetCrypto)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for crypto, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlaceOrder_NotParticipant(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)
	compID := createCompetition(t, router, "alice")

	w := placeOrder(t, router, "mallory", compID, "AAPL", 1, model.AssetStock)
	expectError(t, w, http.StatusNotFound, "NOT_FOUND", "")
}

func TestPlaceOrder_BadRequests(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)
	compID := createCompetition(t, router, "alice")

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "not an order"},
		{"zero quantity", order.Request{CompetitionID: compID, Symbol: "AAPL", AssetType: model.AssetStock}},
		{"fractional quantity", order.Request{CompetitionID: compID, Symbol: "AAPL", Quantity: d(1.5), AssetType: model.AssetStock}},
		{"unknown asset type", order.Request{CompetitionID: compID, Symbol: "AAPL", Quantity: d(1), AssetType: "bond"}},
		{"missing symbol", order.Request{CompetitionID: compID, Quantity: d(1), AssetType: model.AssetStock}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", "/api/v1/orders", "alice", tt.body)
			expectError(t, w, http.StatusBadRequest, "INVALID_ARGUMENT", "")
		})
	}
}

func TestPlaceOrder_SellAllThenPortfolio(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)
	compID := createCompetition(t, router, "alice")

	if w := placeOrder(t, router, "alice", compID, "AAPL", 5, model.AssetStock); w.Code != http.StatusOK {
		t.Fatalf("buy: %d: %s", w.Code, w.Body.String())
	}
	if w := placeOrder(t, router, "alice", compID, "AAPL", -5, model.AssetStock); w.Code != http.StatusOK {
		t.Fatalf("sell: %d: %s", w.Code, w.Body.String())
	}

	w := do(t, router, "GET", "/api/v1/competitions/"+compID+"/portfolio", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("portfolio: %d: %s", w.Code, w.Body.String())
	}
	var p model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &p)
	if len(p.Holdings) != 0 {
		t.Errorf("expected no holdings after selling everything, got %+v", p.Holdings)
	}
	if !p.Participant.CashBalance.Equal(d(100000)) {
		t.Errorf("cash = %s, want 100000", p.Participant.CashBalance)
	}

	w = do(t, router, "GET", "/api/v1/competitions/"+compID+"/transactions", "alice", nil)
	var txns []model.TransactionLogEntry
	json.Unmarshal(w.Body.Bytes(), &txns)
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}
	if txns[0].Type != model.TradeBuy || txns[1].Type != model.TradeSell {
		t.Errorf("unexpected types %s, %s", txns[0].Type, txns[1].Type)
	}
}

// --- Price tests ---

func TestPrices(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)

	w := do(t, router, "GET", "/api/v1/prices", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var quotes []model.PriceQuote
	json.Unmarshal(w.Body.Bytes(), &quotes)
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}

	w = do(t, router, "GET", "/api/v1/prices/btc", "", nil)
	var q model.PriceQuote
	json.Unmarshal(w.Body.Bytes(), &q)
	if q.Symbol != "BTC" || !q.Price.Equal(d(64000)) {
		t.Errorf("unexpected quote %+v", q)
	}

	w = do(t, router, "GET", "/api/v1/prices/NOPE", "", nil)
	expectError(t, w, http.StatusNotFound, "NOT_FOUND", "no price available for NOPE")
}

// --- Competition tests ---

func TestCompetitions_CreateJoinList(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)
	compID := createCompetition(t, router, "alice")

	if w := do(t, router, "POST", "/api/v1/competitions/"+compID+"/join", "bob", nil); w.Code != http.StatusCreated {
		t.Fatalf("join: %d: %s", w.Code, w.Body.String())
	}
	w := do(t, router, "POST", "/api/v1/competitions/"+compID+"/join", "bob", nil)
	expectError(t, w, http.StatusConflict, "ALREADY_EXISTS", "")

	w = do(t, router, "POST", "/api/v1/competitions/missing/join", "bob", nil)
	expectError(t, w, http.StatusNotFound, "NOT_FOUND", "")

	w = do(t, router, "GET", "/api/v1/competitions/"+compID, "", nil)
	var c model.Competition
	json.Unmarshal(w.Body.Bytes(), &c)
	if c.ParticipantCount != 2 {
		t.Errorf("participant_count = %d, want 2", c.ParticipantCount)
	}

	w = do(t, router, "GET", "/api/v1/competitions", "bob", nil)
	var comps []model.Competition
	json.Unmarshal(w.Body.Bytes(), &comps)
	if len(comps) != 1 || comps[0].ID != compID {
		t.Errorf("unexpected competitions %+v", comps)
	}

	w = do(t, router, "GET", "/api/v1/competitions", "carol", nil)
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != "[]" {
		t.Errorf("expected empty list, got %s", body)
	}
}

func TestCompetitions_CreateValidation(t *testing.T) {
	_, router := newTestEnv(t, tuesdayNoon)

	w := do(t, router, "POST", "/api/v1/competitions", "alice", trade.CreateCompetitionRequest{Name: "   "})
	expectError(t, w, http.StatusBadRequest, "INVALID_ARGUMENT", "")

	w = do(t, router, "POST", "/api/v1/competitions", "", trade.CreateCompetitionRequest{Name: "Cup"})
	expectError(t, w, http.StatusUnauthorized, "UNAUTHENTICATED", "")
}

// --- Leaderboard tests ---

func TestLeaderboard(t *testing.T) {
	ms, router := newTestEnv(t, tuesdayNoon)
	compID := createCompetition(t, router, "alice")
	do(t, router, "POST", "/api/v1/competitions/"+compID+"/join", "bob", nil)
	if w := placeOrder(t, router, "bob", compID, "AAPL", 10, model.AssetStock); w.Code != http.StatusOK {
		t.Fatalf("buy: %d: %s", w.Code, w.Body.String())
	}
	// AAPL rallies after bob's purchase.
	ms.SetQuotes(context.Background(), []model.PriceQuote{
		{Symbol: "AAPL", Price: d(200), Type: model.AssetStock, LastUpdated: tuesdayNoon},
	})

	w := do(t, router, "GET", "/api/v1/competitions/"+compID+"/leaderboard", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("leaderboard: %d: %s", w.Code, w.Body.String())
	}
	var s leaderboard.Standings
	json.Unmarshal(w.Body.Bytes(), &s)
	if len(s.Entries) != 2 || s.Entries[0].UserID != "bob" {
		t.Fatalf("unexpected standings %+v", s.Entries)
	}
	if !s.Entries[0].TotalPortfolioValue.Equal(d(100500)) {
		t.Errorf("bob value = %s, want 100500", s.Entries[0].TotalPortfolioValue)
	}

	w = do(t, router, "POST", "/api/v1/competitions/"+compID+"/leaderboard/recompute", "", nil)
	expectError(t, w, http.StatusUnauthorized, "UNAUTHENTICATED", "")

	w = do(t, router, "POST", "/api/v1/competitions/"+compID+"/leaderboard/recompute", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recompute: %d: %s", w.Code, w.Body.String())
	}
	bob, _ := ms.GetParticipant(context.Background(), compID, "bob")
	if bob.Rank != 1 || !bob.TotalPortfolioValue.Equal(d(100500)) {
		t.Errorf("bob after recompute = rank %d value %s", bob.Rank, bob.TotalPortfolioValue)
	}
	if !bob.CashBalance.Equal(d(98500)) {
		t.Errorf("recompute changed cash: %s", bob.CashBalance)
	}

	w = do(t, router, "GET", "/api/v1/competitions/missing/leaderboard", "", nil)
	expectError(t, w, http.StatusNotFound, "NOT_FOUND", "")
}

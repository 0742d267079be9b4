package trade_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradeclash/competition-engine/internal/events"
	"github.com/tradeclash/competition-engine/internal/logging"
	"github.com/tradeclash/competition-engine/internal/trade"
)

func startHub(t *testing.T) (*trade.WSHub, string) {
	t.Helper()
	hub := trade.NewWSHub(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *trade.WSHub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("client not registered, have %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return e
}

func TestWSHub_Broadcast(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	hub.Publish(context.Background(), events.Event{
		Type:    events.PricesUpdated,
		Symbols: []string{"AAPL", "BTC"},
	})

	e := readEvent(t, conn)
	if e.Type != events.PricesUpdated {
		t.Errorf("type = %s, want %s", e.Type, events.PricesUpdated)
	}
	if len(e.Symbols) != 2 {
		t.Errorf("symbols = %v", e.Symbols)
	}
}

func TestWSHub_CompetitionFilter(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url+"?competition_id=c2", 1)

	hub.Publish(context.Background(), events.Event{Type: events.TradeExecuted, CompetitionID: "c1", Symbol: "AAPL"})
	hub.Publish(context.Background(), events.Event{Type: events.TradeExecuted, CompetitionID: "c2", Symbol: "MSFT"})

	// The c1 event is filtered out, so the first delivered event is c2's.
	e := readEvent(t, conn)
	if e.CompetitionID != "c2" || e.Symbol != "MSFT" {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestWSHub_Disconnect(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not unregistered after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

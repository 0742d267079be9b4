// Package events fans domain events out to live subscribers (WebSocket
// clients) and to the Kafka event stream. Publishing is best effort: a
// failed publish is logged and never affects the operation that produced
// the event.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Type names an event.
type Type string

const (
	TradeExecuted      Type = "trade_executed"
	PricesUpdated      Type = "prices_updated"
	LeaderboardUpdated Type = "leaderboard_updated"
)

// Event is the JSON document sent to subscribers.
type Event struct {
	Type          Type             `json:"type"`
	CompetitionID string           `json:"competition_id,omitempty"`
	UserID        string           `json:"user_id,omitempty"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Symbol        string           `json:"symbol,omitempty"`
	AssetType     string           `json:"asset_type,omitempty"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	Symbols       []string         `json:"symbols,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Key partitions the stream so events of one competition stay ordered.
func (e Event) Key() string {
	if e.CompetitionID != "" {
		return e.CompetitionID
	}
	return string(e.Type)
}

// Publisher accepts events. Implementations must not block the caller for
// long and must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Multi publishes to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

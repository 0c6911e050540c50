package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventChannel is the pub/sub channel all ledger events are published on.
const EventChannel = "ledger.events"

// Event types emitted by the accounting engine.
const (
	EventPositionOpened   = "position_opened"
	EventSharesPurchased  = "shares_purchased"
	EventSharesSold       = "shares_sold"
	EventDividendReceived = "dividend_received"
	EventPricesRefreshed  = "prices_refreshed"
)

// Event is the envelope published on the signal bus after a committed
// mutation. Subscribers (the notification relay, dashboards) consume it
// asynchronously; the engine never waits on them.
type Event struct {
	Type        string          `json:"type"`
	PortfolioID uuid.UUID       `json:"portfolio_id"`
	Ticker      string          `json:"ticker,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Shares      decimal.Decimal `json:"shares,omitempty"`
	Amount      decimal.Decimal `json:"amount,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Encode serializes the event for the bus.
func (e Event) Encode() []byte {
	b, _ := json.Marshal(e)
	return b
}

// DecodeEvent parses a bus payload back into an Event.
func DecodeEvent(payload []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(payload, &e)
	return e, err
}

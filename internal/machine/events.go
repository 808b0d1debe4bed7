package machine

import (
	"time"

	"vendingmachine/internal/cash"
)

// EventKind names something worth journaling.
type EventKind string

const (
	EventMoneyInserted      EventKind = "money_inserted"
	EventMoneyRejected      EventKind = "money_rejected"
	EventSale               EventKind = "sale"
	EventCashReturned       EventKind = "cash_returned"
	EventCardSessionStarted EventKind = "card_session_started"
	EventCardSessionEnded   EventKind = "card_session_ended"
)

// Reasons a card session ends.
const (
	ReasonPurchased           = "purchased"
	ReasonTimeout             = "timeout"
	ReasonCancelled           = "cancelled"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonReset               = "reset"
)

// Event is one journal record. Fields that do not apply to a kind are left
// zero.
type Event struct {
	Kind      EventKind   `json:"kind"`
	At        time.Time   `json:"at"`
	ProductID string      `json:"product_id,omitempty"`
	Amount    int         `json:"amount,omitempty"`
	Currency  string      `json:"currency,omitempty"`
	Payment   Mode        `json:"payment,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Money     cash.Counts `json:"money,omitempty"`
}

// Recorder receives events while the machine lock is held, so Record must
// not block.
type Recorder interface {
	Record(Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}

// Package journal records position lifecycle events for operator review.
// The in-memory ledger is the source of truth; the JSONL sink is an
// append-only operator log, not system state.
package journal

import (
	"time"
)

// Action labels what happened to a position.
type Action string

const (
	ActionEntry        Action = "ENTRY"
	ActionStopLoss     Action = "STOP_LOSS"
	ActionFirstTarget  Action = "FIRST_TARGET"
	ActionBreakeven    Action = "BREAKEVEN_STOP"
	ActionSecondTarget Action = "SECOND_TARGET"
	ActionForceClose   Action = "FORCE_CLOSE"
)

// TradeEvent is one entry, partial exit, or full exit.
type TradeEvent struct {
	Time       time.Time `json:"time"`
	Strategy   string    `json:"strategy"`
	Instrument string    `json:"instrument"`
	Side       string    `json:"side"` // CALL or PUT
	Action     Action    `json:"action"`
	Quantity   int       `json:"quantity"`
	Underlying float64   `json:"underlying"`
	Option     float64   `json:"option"`
	PnL        float64   `json:"pnl"` // realized, per fill, exits only
	Reason     string    `json:"reason,omitempty"`
}

// Recorder consumes trade events as they occur.
type Recorder interface {
	Record(TradeEvent)
}

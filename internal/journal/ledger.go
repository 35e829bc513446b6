package journal

import "sync"

// Ledger stores trade events in memory for quick inspection.
type Ledger struct {
	mu     sync.Mutex
	events []TradeEvent
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{events: make([]TradeEvent, 0, capacity)}
}

// Record appends an event to the ledger.
func (l *Ledger) Record(ev TradeEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// Snapshot returns a copy of the recorded events.
func (l *Ledger) Snapshot() []TradeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TradeEvent, len(l.events))
	copy(out, l.events)
	return out
}

// RealizedPnL sums realized profit and loss across recorded exits.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, ev := range l.events {
		if ev.Action != ActionEntry {
			total += ev.PnL
		}
	}
	return total
}

// Reset clears all stored events.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.events = l.events[:0]
	l.mu.Unlock()
}

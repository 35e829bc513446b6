// Package position owns the lifecycle of option positions opened on
// strategy signals: entry, partial profit-taking, breakeven protection,
// stop-loss, and forced end-of-day liquidation.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/sleepinganth/SPY/internal/market"
)

// Side identifies the directional instrument held: CALL for long bias,
// PUT for short bias. Positions are always long the option itself.
type Side string

const (
	SideCall Side = "CALL"
	SidePut  Side = "PUT"
)

// Right maps a position side to the option right it is expressed with.
func (s Side) Right() market.Right {
	if s == SidePut {
		return market.Put
	}
	return market.Call
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideCall {
		return SidePut
	}
	return SideCall
}

// State tracks where a position is in its lifecycle.
type State int

const (
	// StateEntered means the full size is on.
	StateEntered State = iota
	// StateHalfClosed means the first target fired and half was sold.
	StateHalfClosed
	// StateClosed is terminal; contracts remaining is zero.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEntered:
		return "ENTERED"
	case StateHalfClosed:
		return "HALF_CLOSED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StopKind selects the stop-loss reference a position is guarded by.
type StopKind int

const (
	// StopShortEMA exits when the last completed close crosses the short
	// EMA against the position.
	StopShortEMA StopKind = iota
	// StopAllIndicators exits when the close crosses short EMA, long EMA
	// and VWAP against the position at once (trend variant).
	StopAllIndicators
	// StopFixedLevel exits on a close beyond a level captured at arm or
	// entry time (range boundary, RSI arm price).
	StopFixedLevel
)

// Position is one open option position, owned by a single strategy
// instance. Remaining only ever decreases and reaches zero at CLOSED.
type Position struct {
	Side            Side
	Instrument      market.Instrument
	EntryUnderlying float64
	EntryOption     float64
	EntryStrike     float64
	Contracts       int
	Remaining       int
	HalfSold        bool
	StopKind        StopKind
	StopLevel       float64
	EntryTime       time.Time
	State           State
}

var (
	// ErrDuplicateSide rejects a second entry on an already-held side.
	ErrDuplicateSide = errors.New("position already open on this side")
	// ErrPositionOpen rejects a new entry while any position is open and
	// hedging is disabled.
	ErrPositionOpen = errors.New("another position is already open")
	// ErrClosed rejects transitions on a terminal position.
	ErrClosed = errors.New("position already closed")
)

// reduce takes qty contracts off the position, enforcing monotonicity.
func (p *Position) reduce(qty int) error {
	if p.State == StateClosed {
		return ErrClosed
	}
	if qty <= 0 || qty > p.Remaining {
		return fmt.Errorf("reduce %d of %d remaining contracts", qty, p.Remaining)
	}
	p.Remaining -= qty
	if p.Remaining == 0 {
		p.State = StateClosed
	}
	return nil
}

// markHalfSold transitions ENTERED -> HALF_CLOSED after the partial fill.
func (p *Position) markHalfSold() error {
	if p.State != StateEntered {
		return fmt.Errorf("half-sell from state %s", p.State)
	}
	p.HalfSold = true
	p.State = StateHalfClosed
	return nil
}

// Book holds the open positions of one strategy instance and enforces the
// at-most-one-per-side invariant. When hedging is disabled any open
// position blocks new entries on either side.
type Book struct {
	allowHedging bool
	open         map[Side]*Position
}

// NewBook builds an empty book.
func NewBook(allowHedging bool) *Book {
	return &Book{allowHedging: allowHedging, open: make(map[Side]*Position)}
}

// CanEnter reports whether a new position on the side would be legal.
func (b *Book) CanEnter(side Side) error {
	if _, ok := b.open[side]; ok {
		return ErrDuplicateSide
	}
	if !b.allowHedging {
		if _, ok := b.open[side.Opposite()]; ok {
			return ErrPositionOpen
		}
	}
	return nil
}

func (b *Book) add(p *Position) error {
	if err := b.CanEnter(p.Side); err != nil {
		return err
	}
	b.open[p.Side] = p
	return nil
}

func (b *Book) remove(p *Position) {
	if b.open[p.Side] == p {
		delete(b.open, p.Side)
	}
}

// Open returns the open positions, CALL before PUT for determinism.
func (b *Book) Open() []*Position {
	var out []*Position
	for _, side := range []Side{SideCall, SidePut} {
		if p, ok := b.open[side]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of open positions.
func (b *Book) Len() int { return len(b.open) }

// Package strategy holds the per-variant signal detectors. A detector
// inspects the last completed bar and its indicators and emits an entry
// directive; the forming bar is never consulted because it can change
// until close.
package strategy

import (
	"strings"
	"time"

	"github.com/sleepinganth/SPY/internal/indicator"
	"github.com/sleepinganth/SPY/internal/journal"
	"github.com/sleepinganth/SPY/internal/market"
	"github.com/sleepinganth/SPY/internal/position"
	"github.com/sleepinganth/SPY/internal/schedule"
)

// Action is what a detector asks the driver to do this cycle.
type Action int

const (
	// ActionNone is the quiet default.
	ActionNone Action = iota
	// ActionArmed means a pending condition was set up; no order yet.
	ActionArmed
	// ActionEnterLong confirms a CALL entry.
	ActionEnterLong
	// ActionEnterShort confirms a PUT entry.
	ActionEnterShort
)

func (a Action) String() string {
	switch a {
	case ActionArmed:
		return "ARMED"
	case ActionEnterLong:
		return "ENTER_LONG"
	case ActionEnterShort:
		return "ENTER_SHORT"
	default:
		return "NONE"
	}
}

// Decision is the detector output. Stop fields are meaningful on entry
// actions only and seed the position's stop-loss reference.
type Decision struct {
	Action    Action
	StopKind  position.StopKind
	StopLevel float64
	Reason    string
}

// Context is the evaluation input for one cycle. Bars and Ind are the
// full annotated series including the forming bar; Quote is the live
// underlying price.
type Context struct {
	Bars  []market.Bar
	Ind   []indicator.Set
	Quote float64
	Now   time.Time
	Gates *schedule.Gates
}

// lastCompleted returns the last completed bar with its indicator set.
func (c Context) lastCompleted() (market.Bar, indicator.Set, bool) {
	bar, idx, ok := market.LastCompleted(c.Bars)
	if !ok || idx >= len(c.Ind) {
		return market.Bar{}, indicator.Set{}, false
	}
	return bar, c.Ind[idx], true
}

// Detector is the shared contract across strategy variants. Evaluate must
// not fire more than once per triggering condition; implementations carry
// the armed-state needed to require a distinct confirmation event.
type Detector interface {
	Name() string
	Evaluate(ctx Context) Decision
	// RecordExit feeds closed trades back for re-entry guards.
	RecordExit(ev journal.TradeEvent)
	// Reset clears all carried daily state at the session boundary.
	Reset()
}

// Params groups the tunable knobs the variant constructors draw from.
type Params struct {
	TouchThreshold float64 // trend: relative tolerance for the EMA touch
	RangeBars      int     // orb: bars forming the opening range
	StructureBars  int     // bosk: rolling high/low window
	RSIOversold    float64
	RSIOverbought  float64
}

// DefaultParams mirrors the production defaults.
func DefaultParams() Params {
	return Params{
		TouchThreshold: 0.0005,
		RangeBars:      3,
		StructureBars:  3,
		RSIOversold:    30,
		RSIOverbought:  70,
	}
}

// Build returns the detector matching the configured mode.
func Build(mode string, params Params) Detector {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "orb", "opening_range":
		return NewOpeningRange(params)
	case "bosk", "structure":
		return NewStructureKeltner(params)
	case "rsi", "reversal", "rsi_reversal":
		return NewRSIReversal(params)
	default: // "", "trend", "ema_vwap"
		return NewTrendVWAP(params)
	}
}

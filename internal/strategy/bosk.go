package strategy

import (
	"fmt"
	"math"

	"github.com/sleepinganth/SPY/internal/journal"
	"github.com/sleepinganth/SPY/internal/position"
)

// StructureKeltner implements the break-of-structure + Keltner cross
// variant: a completed close beyond the rolling N-bar high/low counts as a
// structure break, and the same bar must open outside the Keltner band in
// the break direction and close back inside it. After a profitable exit a
// re-entry guard blocks new trades until price crosses back through the
// long EMA against the side that just profited.
type StructureKeltner struct {
	structureBars int

	guardActive bool
	guardSide   position.Side // side of the last profitable trade
}

// NewStructureKeltner builds the detector with the configured structure
// window.
func NewStructureKeltner(params Params) *StructureKeltner {
	n := params.StructureBars
	if n <= 0 {
		n = 3
	}
	return &StructureKeltner{structureBars: n}
}

// Name returns the variant identifier used in logs and metrics.
func (s *StructureKeltner) Name() string { return "structure_keltner" }

// Evaluate first services the re-entry guard against the latest completed
// bar, then looks for a fresh break-and-cross.
func (s *StructureKeltner) Evaluate(ctx Context) Decision {
	bar, ind, ok := ctx.lastCompleted()
	if !ok {
		return Decision{Action: ActionNone}
	}

	if s.guardActive {
		if math.IsNaN(ind.EMALong) {
			return Decision{Action: ActionNone}
		}
		if (s.guardSide == position.SideCall && bar.Close < ind.EMALong) ||
			(s.guardSide == position.SidePut && bar.Close > ind.EMALong) {
			s.guardActive = false
		} else {
			return Decision{Action: ActionNone}
		}
	}

	idx := len(ctx.Bars) - 2
	side := s.breakOfStructure(ctx, idx)
	if side == ActionNone {
		return Decision{Action: ActionNone}
	}
	if math.IsNaN(ind.KCUpper) || math.IsNaN(ind.KCLower) {
		return Decision{Action: ActionNone}
	}

	// The break bar must cross the band in the break direction: open
	// outside, close back inside.
	switch side {
	case ActionEnterLong:
		if bar.Open < ind.KCLower && bar.Close > ind.KCLower {
			return Decision{
				Action:   ActionEnterLong,
				StopKind: position.StopShortEMA,
				Reason:   fmt.Sprintf("bullish structure break with KC lower cross at %.2f", bar.Close),
			}
		}
	case ActionEnterShort:
		if bar.Open > ind.KCUpper && bar.Close < ind.KCUpper {
			return Decision{
				Action:   ActionEnterShort,
				StopKind: position.StopShortEMA,
				Reason:   fmt.Sprintf("bearish structure break with KC upper cross at %.2f", bar.Close),
			}
		}
	}
	return Decision{Action: ActionNone}
}

// breakOfStructure reports whether the bar at idx closes beyond the
// rolling high/low of the preceding structureBars bars.
func (s *StructureKeltner) breakOfStructure(ctx Context, idx int) Action {
	if idx < s.structureBars {
		return ActionNone
	}
	high := ctx.Bars[idx-s.structureBars].High
	low := ctx.Bars[idx-s.structureBars].Low
	for _, b := range ctx.Bars[idx-s.structureBars : idx] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	closePx := ctx.Bars[idx].Close
	if closePx > high {
		return ActionEnterLong
	}
	if closePx < low {
		return ActionEnterShort
	}
	return ActionNone
}

// RecordExit arms the re-entry guard after a profitable full exit.
func (s *StructureKeltner) RecordExit(ev journal.TradeEvent) {
	if ev.Action == journal.ActionEntry || ev.Action == journal.ActionFirstTarget {
		return
	}
	if ev.PnL > 0 {
		s.guardActive = true
		s.guardSide = position.Side(ev.Side)
	}
}

// Reset clears the re-entry guard at the session boundary.
func (s *StructureKeltner) Reset() {
	s.guardActive = false
	s.guardSide = ""
}

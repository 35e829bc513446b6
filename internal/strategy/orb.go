package strategy

import (
	"fmt"

	"github.com/sleepinganth/SPY/internal/journal"
	"github.com/sleepinganth/SPY/internal/market"
	"github.com/sleepinganth/SPY/internal/position"
)

// OpeningRange implements the opening-range breakout variant: the high and
// low of the first N completed bars of the session form the range; the
// first completed close beyond either boundary triggers the one trade of
// the day, stopped at the opposite boundary.
type OpeningRange struct {
	rangeBars int

	rangeSet   bool
	rangeHigh  float64
	rangeLow   float64
	tradeTaken bool
}

// NewOpeningRange builds the detector with the configured range width.
func NewOpeningRange(params Params) *OpeningRange {
	n := params.RangeBars
	if n <= 0 {
		n = 3
	}
	return &OpeningRange{rangeBars: n}
}

// Name returns the variant identifier used in logs and metrics.
func (o *OpeningRange) Name() string { return "opening_range" }

// Range exposes the computed boundaries once set (both zero before).
func (o *OpeningRange) Range() (high, low float64, ok bool) {
	return o.rangeHigh, o.rangeLow, o.rangeSet
}

// Evaluate computes the range once enough session bars exist, then watches
// the last completed close for a breakout.
func (o *OpeningRange) Evaluate(ctx Context) Decision {
	today := market.SessionBars(ctx.Bars, ctx.Now)
	if !o.rangeSet {
		// The forming bar may be among today's bars; require rangeBars
		// completed ones.
		completed := today
		if len(ctx.Bars) > 0 && len(completed) > 0 &&
			completed[len(completed)-1].Time.Equal(ctx.Bars[len(ctx.Bars)-1].Time) {
			completed = completed[:len(completed)-1]
		}
		if len(completed) < o.rangeBars {
			return Decision{Action: ActionNone}
		}
		o.rangeHigh = completed[0].High
		o.rangeLow = completed[0].Low
		for _, b := range completed[:o.rangeBars] {
			if b.High > o.rangeHigh {
				o.rangeHigh = b.High
			}
			if b.Low < o.rangeLow {
				o.rangeLow = b.Low
			}
		}
		o.rangeSet = true
		return Decision{Action: ActionArmed, Reason: fmt.Sprintf("opening range set high=%.2f low=%.2f", o.rangeHigh, o.rangeLow)}
	}

	if o.tradeTaken {
		return Decision{Action: ActionNone}
	}
	bar, _, ok := ctx.lastCompleted()
	if !ok {
		return Decision{Action: ActionNone}
	}
	switch {
	case bar.Close > o.rangeHigh:
		o.tradeTaken = true
		return Decision{
			Action:    ActionEnterLong,
			StopKind:  position.StopFixedLevel,
			StopLevel: o.rangeLow,
			Reason:    fmt.Sprintf("close %.2f broke range high %.2f", bar.Close, o.rangeHigh),
		}
	case bar.Close < o.rangeLow:
		o.tradeTaken = true
		return Decision{
			Action:    ActionEnterShort,
			StopKind:  position.StopFixedLevel,
			StopLevel: o.rangeHigh,
			Reason:    fmt.Sprintf("close %.2f broke range low %.2f", bar.Close, o.rangeLow),
		}
	default:
		return Decision{Action: ActionNone}
	}
}

// RecordExit is a no-op; the breakout trade fires at most once per day.
func (o *OpeningRange) RecordExit(journal.TradeEvent) {}

// Reset clears the range and the once-per-day flag.
func (o *OpeningRange) Reset() {
	o.rangeSet = false
	o.rangeHigh = 0
	o.rangeLow = 0
	o.tradeTaken = false
}

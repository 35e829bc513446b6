package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/sleepinganth/SPY/internal/journal"
	"github.com/sleepinganth/SPY/internal/position"
)

// signalWindow is how far from the configured signal time the one-shot
// classification may still run.
const signalWindow = 2 * time.Minute

// TrendVWAP implements the trend/VWAP confirmation variant: at the fixed
// signal-check time, classify price against short EMA, long EMA and VWAP.
// Above all three arms a LONG, below all three arms a SHORT, neither means
// no trade that day. Entry confirms when the live price touches the short
// EMA within a relative tolerance.
type TrendVWAP struct {
	touchThreshold float64

	classified bool   // signal-time check done for today
	armed      bool   // waiting for the EMA touch
	direction  Action // ActionEnterLong or ActionEnterShort once armed
}

// NewTrendVWAP builds the detector with the configured touch tolerance.
func NewTrendVWAP(params Params) *TrendVWAP {
	th := params.TouchThreshold
	if th <= 0 {
		th = 0.0005
	}
	return &TrendVWAP{touchThreshold: th}
}

// Name returns the variant identifier used in logs and metrics.
func (t *TrendVWAP) Name() string { return "trend_vwap" }

// Evaluate runs the one-shot classification at signal time and the touch
// confirmation afterward.
func (t *TrendVWAP) Evaluate(ctx Context) Decision {
	if !t.classified && ctx.Gates != nil && ctx.Gates.NearSignalTime(ctx.Now, signalWindow) {
		return t.classify(ctx)
	}
	if !t.armed {
		return Decision{Action: ActionNone}
	}
	return t.confirm(ctx)
}

// classify picks today's completed bar closest to the signal instant and
// compares its close against all three indicators. Prior sessions never
// qualify: their trend and cumulative VWAP say nothing about today.
func (t *TrendVWAP) classify(ctx Context) Decision {
	target := ctx.Gates.SignalTimeOn(ctx.Now)
	y, mo, dd := ctx.Now.Date()
	bestIdx := -1
	bestDiff := time.Duration(math.MaxInt64)
	// Exclude the forming bar (last element).
	for i := 0; i < len(ctx.Bars)-1 && i < len(ctx.Ind); i++ {
		by, bm, bd := ctx.Bars[i].Time.In(ctx.Now.Location()).Date()
		if by != y || bm != mo || bd != dd {
			continue
		}
		diff := ctx.Bars[i].Time.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		// No completed bar today yet; retry while the window is open.
		return Decision{Action: ActionNone}
	}

	bar, ind := ctx.Bars[bestIdx], ctx.Ind[bestIdx]
	if math.IsNaN(ind.EMAShort) || math.IsNaN(ind.EMALong) || math.IsNaN(ind.VWAP) {
		return Decision{Action: ActionNone}
	}
	t.classified = true

	px := bar.Close
	switch {
	case px > ind.EMAShort && px > ind.EMALong && px > ind.VWAP:
		t.armed = true
		t.direction = ActionEnterLong
		return Decision{Action: ActionArmed, Reason: "price above EMA9/EMA20/VWAP, waiting for EMA touch"}
	case px < ind.EMAShort && px < ind.EMALong && px < ind.VWAP:
		t.armed = true
		t.direction = ActionEnterShort
		return Decision{Action: ActionArmed, Reason: "price below EMA9/EMA20/VWAP, waiting for EMA touch"}
	default:
		// Between the indicators: stand down for the day.
		return Decision{Action: ActionNone, Reason: "price between indicators, no trade today"}
	}
}

// confirm fires the entry when the live quote comes within the relative
// tolerance of the current short EMA.
func (t *TrendVWAP) confirm(ctx Context) Decision {
	if len(ctx.Ind) == 0 || ctx.Quote <= 0 {
		return Decision{Action: ActionNone}
	}
	ema := ctx.Ind[len(ctx.Ind)-1].EMAShort
	if math.IsNaN(ema) {
		return Decision{Action: ActionNone}
	}
	if math.Abs(ctx.Quote-ema) >= ctx.Quote*t.touchThreshold {
		return Decision{Action: ActionNone}
	}
	t.armed = false
	return Decision{
		Action:   t.direction,
		StopKind: position.StopAllIndicators,
		Reason:   fmt.Sprintf("price %.2f touched EMA %.2f", ctx.Quote, ema),
	}
}

// RecordExit is a no-op; the variant takes at most one trade per day.
func (t *TrendVWAP) RecordExit(journal.TradeEvent) {}

// Reset clears the daily state at the session boundary.
func (t *TrendVWAP) Reset() {
	t.classified = false
	t.armed = false
	t.direction = ActionNone
}

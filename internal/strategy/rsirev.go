package strategy

import (
	"fmt"
	"math"

	"github.com/sleepinganth/SPY/internal/journal"
	"github.com/sleepinganth/SPY/internal/position"
)

// RSIReversal implements the RSI reversal variant: an RSI extreme on a
// completed bar arms the setup and captures that bar's close as the stop
// reference; a later completed close back through the short EMA confirms
// the entry. Once armed, further extremes neither re-arm nor move the stop
// reference. After a closed trade a re-entry guard blocks re-arming until
// price crosses back through the long EMA in the profit direction of that
// trade.
type RSIReversal struct {
	oversold   float64
	overbought float64

	armed     Action  // ActionEnterLong / ActionEnterShort while armed
	armPrice  float64 // close of the bar that armed the setup
	guardSide position.Side
	guardOn   bool
}

// NewRSIReversal builds the detector with the configured RSI thresholds.
func NewRSIReversal(params Params) *RSIReversal {
	os, ob := params.RSIOversold, params.RSIOverbought
	if os <= 0 {
		os = 30
	}
	if ob <= 0 {
		ob = 70
	}
	return &RSIReversal{oversold: os, overbought: ob}
}

// Name returns the variant identifier used in logs and metrics.
func (r *RSIReversal) Name() string { return "rsi_reversal" }

// Evaluate services the re-entry guard, then the arm/confirm state machine.
// Undefined RSI (insufficient history) is treated as no signal.
func (r *RSIReversal) Evaluate(ctx Context) Decision {
	bar, ind, ok := ctx.lastCompleted()
	if !ok {
		return Decision{Action: ActionNone}
	}

	if r.guardOn {
		if math.IsNaN(ind.EMALong) {
			return Decision{Action: ActionNone}
		}
		if (r.guardSide == position.SideCall && bar.Close < ind.EMALong) ||
			(r.guardSide == position.SidePut && bar.Close > ind.EMALong) {
			r.guardOn = false
		} else {
			return Decision{Action: ActionNone}
		}
	}

	if r.armed == ActionNone {
		if math.IsNaN(ind.RSI) {
			return Decision{Action: ActionNone}
		}
		switch {
		case ind.RSI < r.oversold:
			r.armed = ActionEnterLong
			r.armPrice = bar.Close
			return Decision{Action: ActionArmed, Reason: fmt.Sprintf("RSI %.1f below %.0f, long setup armed at %.2f", ind.RSI, r.oversold, bar.Close)}
		case ind.RSI > r.overbought:
			r.armed = ActionEnterShort
			r.armPrice = bar.Close
			return Decision{Action: ActionArmed, Reason: fmt.Sprintf("RSI %.1f above %.0f, short setup armed at %.2f", ind.RSI, r.overbought, bar.Close)}
		default:
			return Decision{Action: ActionNone}
		}
	}

	// Armed: wait for the EMA reconfirmation on a completed close.
	if math.IsNaN(ind.EMAShort) {
		return Decision{Action: ActionNone}
	}
	if r.armed == ActionEnterLong && bar.Close > ind.EMAShort {
		dec := Decision{
			Action:    ActionEnterLong,
			StopKind:  position.StopFixedLevel,
			StopLevel: r.armPrice,
			Reason:    fmt.Sprintf("close %.2f reclaimed EMA after oversold arm at %.2f", bar.Close, r.armPrice),
		}
		r.armed = ActionNone
		r.armPrice = 0
		return dec
	}
	if r.armed == ActionEnterShort && bar.Close < ind.EMAShort {
		dec := Decision{
			Action:    ActionEnterShort,
			StopKind:  position.StopFixedLevel,
			StopLevel: r.armPrice,
			Reason:    fmt.Sprintf("close %.2f lost EMA after overbought arm at %.2f", bar.Close, r.armPrice),
		}
		r.armed = ActionNone
		r.armPrice = 0
		return dec
	}
	return Decision{Action: ActionNone}
}

// RecordExit arms the re-entry guard once a trade fully closes.
func (r *RSIReversal) RecordExit(ev journal.TradeEvent) {
	if ev.Action == journal.ActionEntry || ev.Action == journal.ActionFirstTarget {
		return
	}
	r.guardOn = true
	r.guardSide = position.Side(ev.Side)
}

// Reset clears all carried state at the session boundary.
func (r *RSIReversal) Reset() {
	r.armed = ActionNone
	r.armPrice = 0
	r.guardOn = false
	r.guardSide = ""
}

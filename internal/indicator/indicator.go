// Package indicator computes technical indicators over an ordered bar
// series. Everything here is a pure function of its input: the whole
// window is recomputed on each refresh because EMA and RSI are recursive
// over the full session history.
package indicator

import (
	"fmt"
	"math"

	"github.com/sleepinganth/SPY/internal/market"
)

// Params bundles the periods every strategy variant draws from.
type Params struct {
	EMAShort    int
	EMALong     int
	RSIPeriod   int
	ATRPeriod   int
	KeltnerMult float64
}

// DefaultParams mirrors the production 5-minute setup.
func DefaultParams() Params {
	return Params{EMAShort: 9, EMALong: 20, RSIPeriod: 14, ATRPeriod: 20, KeltnerMult: 1.5}
}

// Set holds the derived values attached to one bar. RSI is NaN until the
// trailing window fills; callers must treat NaN as "no signal".
type Set struct {
	EMAShort float64
	EMALong  float64
	VWAP     float64
	ATR      float64
	KCUpper  float64
	KCLower  float64
	RSI      float64
}

// Annotate computes the full indicator set for every bar in the series.
// It fails only on malformed input.
func Annotate(bars []market.Bar, p Params) ([]Set, error) {
	if err := market.Validate(bars); err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}
	if len(bars) == 0 {
		return nil, nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	emaShort := EMA(closes, p.EMAShort)
	emaLong := EMA(closes, p.EMALong)
	vwap := VWAP(bars)
	atr := ATR(bars, p.ATRPeriod)
	rsi := RSI(closes, p.RSIPeriod)

	out := make([]Set, len(bars))
	for i := range bars {
		out[i] = Set{
			EMAShort: emaShort[i],
			EMALong:  emaLong[i],
			VWAP:     vwap[i],
			ATR:      atr[i],
			KCUpper:  emaLong[i] + p.KeltnerMult*atr[i],
			KCLower:  emaLong[i] - p.KeltnerMult*atr[i],
			RSI:      rsi[i],
		}
	}
	return out, nil
}

// EMA returns the exponential moving average of values, seeded by the
// first value, with smoothing factor 2/(period+1). No look-ahead.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// VWAP returns the session-cumulative volume-weighted typical price.
// Cumulative sums restart at each calendar-day boundary; this is a
// running statistic, not a rolling one. Bars with zero cumulative volume
// fall back to the typical price itself.
func VWAP(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	var cumVol, cumPV float64
	for i, b := range bars {
		if i > 0 && !sameDay(bars[i-1], b) {
			cumVol, cumPV = 0, 0
		}
		typical := (b.High + b.Low + b.Close) / 3
		cumVol += b.Volume
		cumPV += typical * b.Volume
		if cumVol > 0 {
			out[i] = cumPV / cumVol
		} else {
			out[i] = typical
		}
	}
	return out
}

func sameDay(a, b market.Bar) bool {
	ay, am, ad := a.Time.Date()
	by, bm, bd := b.Time.Date()
	return ay == by && am == bm && ad == bd
}

// ATR returns the average true range, true range smoothed with an EMA
// over the given period. The first bar's true range is its high-low span.
func ATR(bars []market.Bar, period int) []float64 {
	tr := make([]float64, len(bars))
	for i, b := range bars {
		hl := b.High - b.Low
		if i == 0 {
			tr[i] = hl
			continue
		}
		prevClose := bars[i-1].Close
		tr[i] = math.Max(hl, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
	}
	return EMA(tr, period)
}

// RSI returns the relative strength index over a simple rolling mean of
// positive and negative deltas. Values are NaN until `period` deltas are
// available and bounded within [0, 100] afterward.
func RSI(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) <= period {
		return out
	}
	for i := period; i < len(values); i++ {
		var gain, loss float64
		for j := i - period + 1; j <= i; j++ {
			delta := values[j] - values[j-1]
			if delta > 0 {
				gain += delta
			} else {
				loss -= delta
			}
		}
		avgGain := gain / float64(period)
		avgLoss := loss / float64(period)
		switch {
		case avgLoss == 0 && avgGain == 0:
			out[i] = 50
		case avgLoss == 0:
			out[i] = 100
		default:
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

package strategy

import (
	"testing"
	"time"

	"github.com/sleepinganth/SPY/internal/indicator"
	"github.com/sleepinganth/SPY/internal/position"
)

func TestOpeningRangeWaitsForCompletedBars(t *testing.T) {
	det := NewOpeningRange(DefaultParams())
	// Three bars on screen but the last is still forming: only two count.
	bars := barSeries(day, [][4]float64{
		{450, 451, 449, 450.5},
		{450.5, 452, 450, 451},
		{451, 451.5, 450.5, 451.2},
	})
	dec := det.Evaluate(Context{Bars: bars, Ind: sameInd(3, indicator.Set{}), Now: day.Add(2 * time.Minute)})
	if dec.Action != ActionNone {
		t.Fatalf("range needs three completed bars, got %s", dec.Action)
	}
	if _, _, ok := det.Range(); ok {
		t.Fatalf("range must not be set yet")
	}
}

func TestOpeningRangeBreakoutLong(t *testing.T) {
	det := NewOpeningRange(DefaultParams())
	rows := [][4]float64{
		{450, 451, 449, 450.5},
		{450.5, 452, 450, 451},
		{451, 451.5, 448.5, 451.2},
		{451.2, 451.4, 451, 451.1}, // forming
	}
	bars := barSeries(day, rows)
	dec := det.Evaluate(Context{Bars: bars, Ind: sameInd(4, indicator.Set{}), Now: day.Add(3 * time.Minute)})
	if dec.Action != ActionArmed {
		t.Fatalf("range formation: got %s, want ARMED", dec.Action)
	}
	high, low, ok := det.Range()
	if !ok || high != 452 || low != 448.5 {
		t.Fatalf("range = (%.2f, %.2f, %v), want (452.00, 448.50, true)", high, low, ok)
	}

	// A completed close above the range high breaks long, stopped at the low.
	rows = append(rows[:3], [4]float64{451.2, 453, 451, 452.6}, [4]float64{452.6, 452.8, 452.4, 452.5})
	bars = barSeries(day, rows)
	dec = det.Evaluate(Context{Bars: bars, Ind: sameInd(5, indicator.Set{}), Now: day.Add(4 * time.Minute)})
	if dec.Action != ActionEnterLong {
		t.Fatalf("breakout: got %s, want ENTER_LONG", dec.Action)
	}
	if dec.StopKind != position.StopFixedLevel || dec.StopLevel != 448.5 {
		t.Fatalf("stop = (%v, %.2f), want fixed level at the range low", dec.StopKind, dec.StopLevel)
	}

	// One trade per day, even on a second breakout bar.
	dec = det.Evaluate(Context{Bars: bars, Ind: sameInd(5, indicator.Set{}), Now: day.Add(5 * time.Minute)})
	if dec.Action != ActionNone {
		t.Fatalf("second breakout must be ignored, got %s", dec.Action)
	}
}

func TestOpeningRangeBreakdownShort(t *testing.T) {
	det := NewOpeningRange(DefaultParams())
	rows := [][4]float64{
		{450, 451, 449, 450.5},
		{450.5, 452, 450, 451},
		{451, 451.5, 448.5, 451.2},
		{451.2, 451.4, 451, 451.1},
	}
	det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(4, indicator.Set{}), Now: day.Add(3 * time.Minute)})

	rows = append(rows[:3], [4]float64{451.2, 451.3, 447, 447.9}, [4]float64{447.9, 448, 447.5, 447.8})
	dec := det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(5, indicator.Set{}), Now: day.Add(4 * time.Minute)})
	if dec.Action != ActionEnterShort {
		t.Fatalf("breakdown: got %s, want ENTER_SHORT", dec.Action)
	}
	if dec.StopLevel != 452 {
		t.Fatalf("short stop %.2f, want the range high 452.00", dec.StopLevel)
	}
}

func TestOpeningRangeInsideRangeStaysFlat(t *testing.T) {
	det := NewOpeningRange(DefaultParams())
	rows := [][4]float64{
		{450, 451, 449, 450.5},
		{450.5, 452, 450, 451},
		{451, 451.5, 448.5, 451.2},
		{451.2, 451.4, 451, 451.1},
	}
	det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(4, indicator.Set{}), Now: day.Add(3 * time.Minute)})

	rows = append(rows, [4]float64{451.1, 451.3, 450.9, 451})
	dec := det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(5, indicator.Set{}), Now: day.Add(4 * time.Minute)})
	if dec.Action != ActionNone {
		t.Fatalf("close inside the range must not trigger, got %s", dec.Action)
	}
}

func TestOpeningRangeResetClearsRangeAndFlag(t *testing.T) {
	det := NewOpeningRange(DefaultParams())
	rows := [][4]float64{
		{450, 451, 449, 450.5},
		{450.5, 452, 450, 451},
		{451, 451.5, 448.5, 451.2},
		{451.2, 451.4, 451, 451.1},
	}
	det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(4, indicator.Set{}), Now: day.Add(3 * time.Minute)})
	det.Reset()
	if _, _, ok := det.Range(); ok {
		t.Fatalf("Reset must clear the range")
	}
}

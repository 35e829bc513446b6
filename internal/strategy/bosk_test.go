package strategy

import (
	"testing"
	"time"

	"github.com/sleepinganth/SPY/internal/indicator"
	"github.com/sleepinganth/SPY/internal/journal"
	"github.com/sleepinganth/SPY/internal/position"
)

// boskLongSetup returns a series whose last completed bar breaks the
// rolling three-bar high while opening below the Keltner lower band and
// closing back above it.
func boskLongSetup() ([][4]float64, indicator.Set) {
	rows := [][4]float64{
		{450, 450.8, 449.2, 450.2},
		{450.2, 451, 449.5, 450.6},
		{450.6, 450.9, 449.8, 450.4},
		{450, 452.2, 449.8, 452}, // break bar: close above 451 rolling high
		{452, 452.1, 451.8, 452}, // forming
	}
	ind := indicator.Set{EMAShort: 450.5, EMALong: 450, KCUpper: 455, KCLower: 451}
	return rows, ind
}

func TestStructureKeltnerLongEntry(t *testing.T) {
	det := NewStructureKeltner(DefaultParams())
	rows, ind := boskLongSetup()
	dec := det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(5, ind), Now: day.Add(4 * time.Minute)})
	if dec.Action != ActionEnterLong {
		t.Fatalf("got %s, want ENTER_LONG", dec.Action)
	}
	if dec.StopKind != position.StopShortEMA {
		t.Fatalf("stop kind %v, want short-EMA stop", dec.StopKind)
	}
}

func TestStructureKeltnerShortEntry(t *testing.T) {
	det := NewStructureKeltner(DefaultParams())
	rows := [][4]float64{
		{450, 450.8, 449.2, 450.2},
		{450.2, 451, 449, 450.6},
		{450.6, 450.9, 449.5, 450.4},
		{450, 450.1, 447.8, 448}, // break bar: close below 449 rolling low
		{448, 448.2, 447.9, 448},
	}
	ind := indicator.Set{EMAShort: 450, EMALong: 450.5, KCUpper: 449.5, KCLower: 445}
	dec := det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(5, ind), Now: day.Add(4 * time.Minute)})
	if dec.Action != ActionEnterShort {
		t.Fatalf("got %s, want ENTER_SHORT", dec.Action)
	}
}

func TestStructureKeltnerBreakWithoutBandCrossIsIgnored(t *testing.T) {
	det := NewStructureKeltner(DefaultParams())
	rows, ind := boskLongSetup()
	// Band far below the break bar: it never opened outside.
	ind.KCLower = 440
	dec := det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(5, ind), Now: day.Add(4 * time.Minute)})
	if dec.Action != ActionNone {
		t.Fatalf("structure break without the Keltner cross must not enter, got %s", dec.Action)
	}
}

func TestStructureKeltnerGuardBlocksUntilEMARecross(t *testing.T) {
	det := NewStructureKeltner(DefaultParams())
	det.RecordExit(journal.TradeEvent{Action: journal.ActionSecondTarget, Side: "CALL", PnL: 120})

	rows, ind := boskLongSetup()
	// Break bar closes above the long EMA: the CALL guard holds.
	dec := det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(5, ind), Now: day.Add(4 * time.Minute)})
	if dec.Action != ActionNone {
		t.Fatalf("guard must block re-entry, got %s", dec.Action)
	}

	// A completed close under the long EMA releases the guard.
	release := flatSeries(day, []float64{449, 449, 449})
	det.Evaluate(Context{Bars: release, Ind: sameInd(3, indicator.Set{EMALong: 450}), Now: day.Add(6 * time.Minute)})

	dec = det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(5, ind), Now: day.Add(8 * time.Minute)})
	if dec.Action != ActionEnterLong {
		t.Fatalf("after the EMA recross the setup must fire, got %s", dec.Action)
	}
}

func TestStructureKeltnerLosingExitDoesNotArmGuard(t *testing.T) {
	det := NewStructureKeltner(DefaultParams())
	det.RecordExit(journal.TradeEvent{Action: journal.ActionStopLoss, Side: "CALL", PnL: -80})

	rows, ind := boskLongSetup()
	dec := det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(5, ind), Now: day.Add(4 * time.Minute)})
	if dec.Action != ActionEnterLong {
		t.Fatalf("losing exit must not arm the guard, got %s", dec.Action)
	}
}

func TestStructureKeltnerEntryAndPartialDoNotArmGuard(t *testing.T) {
	det := NewStructureKeltner(DefaultParams())
	det.RecordExit(journal.TradeEvent{Action: journal.ActionEntry, Side: "CALL"})
	det.RecordExit(journal.TradeEvent{Action: journal.ActionFirstTarget, Side: "CALL", PnL: 55})

	rows, ind := boskLongSetup()
	dec := det.Evaluate(Context{Bars: barSeries(day, rows), Ind: sameInd(5, ind), Now: day.Add(4 * time.Minute)})
	if dec.Action != ActionEnterLong {
		t.Fatalf("entry and partial events must not arm the guard, got %s", dec.Action)
	}
}

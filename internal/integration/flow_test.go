// Package integration exercises a full strategy loop end to end: paper
// gateway, opening-range detector, position manager, and the driver's
// cooperative shutdown.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sleepinganth/SPY/internal/driver"
	"github.com/sleepinganth/SPY/internal/journal"
	"github.com/sleepinganth/SPY/internal/market"
	"github.com/sleepinganth/SPY/internal/position"
	"github.com/sleepinganth/SPY/internal/schedule"
	"github.com/sleepinganth/SPY/internal/strategy"
)

// breakoutDay builds today's session: a quiet opening range followed by a
// completed bar that breaks its high.
func breakoutDay(now time.Time) []market.Bar {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var bars []market.Bar
	for i := 0; i < 24; i++ {
		px := 450 + 0.2*float64(i%3)
		bars = append(bars, market.Bar{
			Time:   midnight.Add(time.Duration(i) * time.Minute),
			Open:   px,
			High:   451,
			Low:    449,
			Close:  px,
			Volume: 100,
		})
	}
	bars = append(bars,
		market.Bar{Time: midnight.Add(24 * time.Minute), Open: 450.5, High: 452.3, Low: 450.4, Close: 452, Volume: 100},
		market.Bar{Time: midnight.Add(25 * time.Minute), Open: 452, High: 452.2, Low: 451.9, Close: 452.1, Volume: 100},
	)
	return bars
}

func TestOpeningRangeFlowEndToEnd(t *testing.T) {
	now := time.Now().UTC()
	gates, err := schedule.New(schedule.Config{
		Timezone:    "UTC",
		MarketOpen:  "00:00:00",
		MarketClose: "23:59:59",
		ForceClose:  "23:59:58",
	})
	if err != nil {
		t.Fatalf("schedule.New: %v", err)
	}

	gw := market.NewPaperGateway(nil)
	gw.SetBars(breakoutDay(now))
	gw.SetQuote(market.Stock("SPY"), 452.1)
	opt := market.Instrument{
		Symbol: "SPY",
		Kind:   market.KindOption,
		Expiry: now.Format("20060102"),
		Strike: 452,
		Right:  market.Call,
	}
	gw.SetQuote(opt, 2.4)

	ledger := journal.NewLedger(8)
	mgr := position.NewManager(position.Config{
		Strategy:   "spy-orb",
		Ticker:     "SPY",
		Contracts:  2,
		MoveTarget: 1,
		ITMOffset:  1.05,
	}, gw, position.NewBook(false), ledger, zerolog.Nop())
	det := strategy.NewOpeningRange(strategy.DefaultParams())
	drv := driver.New(driver.Config{
		Name:         "spy-orb",
		Ticker:       "SPY",
		TickInterval: 10 * time.Millisecond,
		IdleInterval: 10 * time.Millisecond,
	}, gw, gates, det, mgr, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- drv.Run(ctx) }()

	// Wait for the breakout entry, then request shutdown.
	deadline := time.After(5 * time.Second)
	for {
		orders := gw.Orders()
		if len(orders) > 0 && orders[0].Side == market.Buy {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("no entry order within deadline; orders=%v", gw.Orders())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	orders := gw.Orders()
	if len(orders) != 2 {
		t.Fatalf("orders %v, want entry BUY and shutdown SELL", orders)
	}
	if orders[0].Side != market.Buy || orders[0].Qty != 2 || orders[0].Instrument.Strike != 452 {
		t.Fatalf("entry order %+v, want BUY 2 of the 452 call", orders[0])
	}
	if orders[1].Side != market.Sell || orders[1].Qty != 2 {
		t.Fatalf("shutdown order %+v, want SELL 2", orders[1])
	}
	if mgr.Book().Len() != 0 {
		t.Fatalf("shutdown must leave no open positions")
	}

	events := ledger.Snapshot()
	if len(events) != 2 ||
		events[0].Action != journal.ActionEntry ||
		events[1].Action != journal.ActionForceClose {
		t.Fatalf("ledger %+v, want ENTRY then FORCE_CLOSE", events)
	}
}

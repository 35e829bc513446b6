// Package driver runs the single-threaded polling loop of one strategy
// instance: gate checks, bar refresh, indicator recompute, signal
// detection, and position management, in that order, every tick.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sleepinganth/SPY/internal/indicator"
	"github.com/sleepinganth/SPY/internal/journal"
	"github.com/sleepinganth/SPY/internal/market"
	"github.com/sleepinganth/SPY/internal/metrics"
	"github.com/sleepinganth/SPY/internal/position"
	"github.com/sleepinganth/SPY/internal/schedule"
	"github.com/sleepinganth/SPY/internal/strategy"
)

// Config wires one strategy instance together.
type Config struct {
	Name          string
	Ticker        string
	Lookback      time.Duration // bar history window requested per refresh
	BarInterval   time.Duration
	TickInterval  time.Duration // pause between polling cycles
	IdleInterval  time.Duration // pause when the market is closed or data is short
	MaxDataErrors int           // consecutive hard fetch failures before shutdown
	Indicators    indicator.Params
}

func (c *Config) fill() {
	if c.Lookback <= 0 {
		c.Lookback = 48 * time.Hour
	}
	if c.BarInterval <= 0 {
		c.BarInterval = 5 * time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = time.Minute
	}
	if c.MaxDataErrors <= 0 {
		c.MaxDataErrors = 5
	}
	def := indicator.DefaultParams()
	if c.Indicators.EMAShort <= 0 {
		c.Indicators.EMAShort = def.EMAShort
	}
	if c.Indicators.EMALong <= 0 {
		c.Indicators.EMALong = def.EMALong
	}
	if c.Indicators.RSIPeriod <= 0 {
		c.Indicators.RSIPeriod = def.RSIPeriod
	}
	if c.Indicators.ATRPeriod <= 0 {
		c.Indicators.ATRPeriod = def.ATRPeriod
	}
	if c.Indicators.KeltnerMult <= 0 {
		c.Indicators.KeltnerMult = def.KeltnerMult
	}
}

// Driver owns the loop state for one strategy instance.
type Driver struct {
	cfg   Config
	gw    market.Gateway
	gates *schedule.Gates
	det   strategy.Detector
	mgr   *position.Manager
	log   zerolog.Logger

	dataErrors int
	inSession  bool // market was open on the previous cycle
}

// New assembles a driver. The caller supplies a connected or connectable
// gateway; the driver connects it on Run.
func New(cfg Config, gw market.Gateway, gates *schedule.Gates, det strategy.Detector, mgr *position.Manager, log zerolog.Logger) *Driver {
	cfg.fill()
	return &Driver{
		cfg:   cfg,
		gw:    gw,
		gates: gates,
		det:   det,
		mgr:   mgr,
		log:   log.With().Str("strategy", cfg.Name).Logger(),
	}
}

// Run connects the gateway and polls until the context is canceled or a
// fatal error occurs. Shutdown is cooperative: the in-flight cycle
// finishes, open positions are force-closed, and the session is released.
// A position is never abandoned silently.
func (d *Driver) Run(ctx context.Context) (err error) {
	if cerr := d.gw.Connect(ctx); cerr != nil {
		return fmt.Errorf("%s: connect: %w", d.cfg.Name, cerr)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic mid-cycle: %v", d.cfg.Name, r)
			d.log.Error().Interface("panic", r).Msg("recovered mid-cycle, forcing close")
		}
		d.shutdown()
	}()

	d.log.Info().Str("ticker", d.cfg.Ticker).Str("mode", d.det.Name()).Msg("strategy loop started")
	for {
		wait, cycleErr := d.cycle(ctx)
		if cycleErr != nil {
			return cycleErr
		}
		select {
		case <-ctx.Done():
			d.log.Info().Msg("shutdown requested")
			return nil
		case <-time.After(wait):
		}
	}
}

// shutdown force-closes anything open and releases the gateway session.
func (d *Driver) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if d.mgr.Book().Len() > 0 {
		view := d.quoteView(ctx, time.Now())
		if evs, err := d.mgr.CloseAll(ctx, "shutdown", view); err != nil {
			d.log.Error().Err(err).Msg("failed to close positions on shutdown")
		} else {
			d.feedExits(evs)
		}
	}
	if err := d.gw.Disconnect(); err != nil {
		d.log.Warn().Err(err).Msg("disconnect failed")
	}
	d.log.Info().Msg("strategy loop stopped")
}

// cycle executes one pass of the loop and returns how long to sleep
// before the next one.
func (d *Driver) cycle(ctx context.Context) (time.Duration, error) {
	now := time.Now().In(d.gates.Location())
	return d.cycleAt(ctx, now)
}

// cycleAt is the clock-injected body of cycle; tests drive it directly.
func (d *Driver) cycleAt(ctx context.Context, now time.Time) (time.Duration, error) {
	metrics.CyclesTotal.WithLabelValues(d.cfg.Name).Inc()

	// 1. Market closed: flatten, reset daily state, idle.
	if !d.gates.MarketOpen(now) {
		if d.mgr.Book().Len() > 0 {
			d.log.Info().Msg("market closed with open position, flattening")
			view := d.quoteView(ctx, now)
			evs, err := d.mgr.CloseAll(ctx, "market closed", view)
			if err != nil {
				return 0, err
			}
			d.feedExits(evs)
		}
		if d.inSession {
			d.det.Reset()
			d.inSession = false
			d.log.Info().Msg("session ended, daily state reset")
		}
		return d.cfg.IdleInterval, nil
	}
	d.inSession = true

	// 2. Force-close gate: flatten but keep evaluating the cycle.
	if d.gates.ForceClose(now) && d.mgr.Book().Len() > 0 {
		d.log.Info().Msg("force-close time reached")
		view := d.quoteView(ctx, now)
		evs, err := d.mgr.CloseAll(ctx, "force close", view)
		if err != nil {
			return 0, err
		}
		d.feedExits(evs)
	}

	// 3. Before the monitoring window, idle.
	if !d.gates.MonitorStarted(now) {
		return d.cfg.IdleInterval, nil
	}

	// 4. Refresh bars. No data is recoverable; repeated hard failures are
	// fatal for the instance.
	bars, err := d.gw.Bars(ctx, market.Stock(d.cfg.Ticker), d.cfg.Lookback, d.cfg.BarInterval)
	if err != nil {
		d.dataErrors++
		d.log.Warn().Err(err).Int("consecutive", d.dataErrors).Msg("bar fetch failed")
		if d.dataErrors >= d.cfg.MaxDataErrors {
			return 0, fmt.Errorf("%s: bar fetch failed %d times: %w", d.cfg.Name, d.dataErrors, err)
		}
		return d.cfg.IdleInterval, nil
	}
	d.dataErrors = 0
	if len(bars) < minBars(d.cfg.Indicators) {
		d.log.Debug().Int("bars", len(bars)).Msg("insufficient history, waiting")
		return d.cfg.IdleInterval, nil
	}

	// 5. Recompute indicators over the full series.
	ind, err := indicator.Annotate(bars, d.cfg.Indicators)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", d.cfg.Name, err)
	}

	quote, err := d.gw.Quote(ctx, market.Stock(d.cfg.Ticker))
	if err != nil {
		d.log.Warn().Err(err).Msg("quote fetch failed")
		return d.cfg.IdleInterval, nil
	}

	evalCtx := strategy.Context{Bars: bars, Ind: ind, Quote: quote, Now: now, Gates: d.gates}

	// 6-7. Detector evaluation (includes variant re-entry guards) and, when
	// the new-trade gate is open, entry.
	dec := d.det.Evaluate(evalCtx)
	if dec.Action != strategy.ActionNone {
		metrics.SignalsTotal.WithLabelValues(d.cfg.Name, dec.Action.String()).Inc()
		d.log.Info().Str("action", dec.Action.String()).Str("reason", dec.Reason).Msg("detector decision")
	}
	if dec.Action == strategy.ActionEnterLong || dec.Action == strategy.ActionEnterShort {
		if d.gates.CanOpenNewTrades(now) && !d.gates.ForceClose(now) {
			side := position.SideCall
			if dec.Action == strategy.ActionEnterShort {
				side = position.SidePut
			}
			if _, err := d.mgr.Enter(ctx, side, dec.StopKind, dec.StopLevel, now); err != nil {
				if errors.Is(err, position.ErrDuplicateSide) || errors.Is(err, position.ErrPositionOpen) {
					d.log.Info().Err(err).Msg("entry rejected")
				} else {
					d.log.Error().Err(err).Msg("entry failed")
				}
			}
		} else {
			d.log.Info().Str("action", dec.Action.String()).Msg("entry suppressed by time gate")
		}
	}

	// 8. Exit checks for every open position, stop-loss first.
	if d.mgr.Book().Len() > 0 {
		view := position.View{Now: now, Underlying: quote}
		if bar, idx, ok := market.LastCompleted(bars); ok && idx < len(ind) {
			view.LastClose = bar.Close
			view.EMAShort = ind[idx].EMAShort
			view.EMALong = ind[idx].EMALong
			view.VWAP = ind[idx].VWAP
		}
		for _, pos := range d.mgr.Book().Open() {
			evs, err := d.mgr.Check(ctx, pos, view)
			if err != nil {
				d.log.Error().Err(err).Msg("position check failed")
				continue
			}
			d.feedExits(evs)
		}
	}

	return d.cfg.TickInterval, nil
}

// quoteView builds a best-effort view for forced closes, where only the
// live quote matters for reporting.
func (d *Driver) quoteView(ctx context.Context, now time.Time) position.View {
	view := position.View{Now: now}
	if px, err := d.gw.Quote(ctx, market.Stock(d.cfg.Ticker)); err == nil {
		view.Underlying = px
	}
	return view
}

// feedExits relays closed-trade events to the detector re-entry guards.
func (d *Driver) feedExits(evs []journal.TradeEvent) {
	for _, ev := range evs {
		d.det.RecordExit(ev)
	}
}

// minBars is the smallest series the longest indicator window needs
// before signals are meaningful.
func minBars(p indicator.Params) int {
	n := p.EMALong
	if p.RSIPeriod > n {
		n = p.RSIPeriod
	}
	if p.ATRPeriod > n {
		n = p.ATRPeriod
	}
	return n + 2
}

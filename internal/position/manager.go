package position

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/sleepinganth/SPY/internal/journal"
	"github.com/sleepinganth/SPY/internal/market"
	"github.com/sleepinganth/SPY/internal/metrics"
)

// optionMultiplier converts per-share option prices to per-contract P/L.
const optionMultiplier = 100.0

// Config carries the position sizing and target parameters shared by all
// strategy variants.
type Config struct {
	Strategy   string
	Ticker     string
	Contracts  int
	MoveTarget float64 // first target: underlying dollar move
	ITMOffset  float64 // second target: distance beyond the strike
}

// View is everything the manager needs from the current cycle to evaluate
// exit rules: the last completed bar's close and indicator values plus the
// live underlying quote. Option quotes are fetched per position.
type View struct {
	Now        time.Time
	Underlying float64
	LastClose  float64
	EMAShort   float64
	EMALong    float64
	VWAP       float64
}

// Manager drives positions through their lifecycle against a gateway.
type Manager struct {
	cfg  Config
	gw   market.Gateway
	log  zerolog.Logger
	rec  journal.Recorder
	book *Book
}

// NewManager builds a manager around an empty book.
func NewManager(cfg Config, gw market.Gateway, book *Book, rec journal.Recorder, log zerolog.Logger) *Manager {
	if cfg.Contracts <= 0 {
		cfg.Contracts = 1
	}
	return &Manager{cfg: cfg, gw: gw, log: log, rec: rec, book: book}
}

// Book exposes the open-position book.
func (m *Manager) Book() *Book { return m.book }

// Enter opens a new position on the given side: resolve the 0-DTE
// at-the-money contract, buy the configured size, and record entry prices.
// The duplicate-side check runs before any order leaves the process.
func (m *Manager) Enter(ctx context.Context, side Side, stopKind StopKind, stopLevel float64, now time.Time) (*Position, error) {
	if err := m.book.CanEnter(side); err != nil {
		return nil, err
	}

	underlying := market.Stock(m.cfg.Ticker)
	spot, err := m.gw.Quote(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("quote underlying: %w", err)
	}

	expiry := now.Format("20060102") // 0-DTE: same-day expiry
	inst, err := m.gw.ResolveOption(ctx, m.cfg.Ticker, expiry, math.Round(spot), side.Right())
	if err != nil {
		return nil, fmt.Errorf("resolve option: %w", err)
	}

	if _, err := m.gw.PlaceOrder(ctx, inst, market.Buy, m.cfg.Contracts); err != nil {
		return nil, fmt.Errorf("entry order: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues(inst.Symbol, string(market.Buy)).Inc()

	optPx, err := m.gw.Quote(ctx, inst)
	if err != nil {
		// The order is out; carry the entry with an unknown option price
		// rather than abandoning a live position.
		m.log.Error().Err(err).Str("instrument", inst.Key()).Msg("entry fill price unavailable")
		optPx = 0
	}

	pos := &Position{
		Side:            side,
		Instrument:      inst,
		EntryUnderlying: spot,
		EntryOption:     optPx,
		EntryStrike:     inst.Strike,
		Contracts:       m.cfg.Contracts,
		Remaining:       m.cfg.Contracts,
		StopKind:        stopKind,
		StopLevel:       stopLevel,
		EntryTime:       now,
		State:           StateEntered,
	}
	if err := m.book.add(pos); err != nil {
		return nil, err
	}

	m.record(journal.TradeEvent{
		Time:       now,
		Strategy:   m.cfg.Strategy,
		Instrument: inst.Key(),
		Side:       string(side),
		Action:     journal.ActionEntry,
		Quantity:   pos.Contracts,
		Underlying: spot,
		Option:     optPx,
	})
	m.log.Info().
		Str("strategy", m.cfg.Strategy).
		Str("side", string(side)).
		Str("instrument", inst.Key()).
		Float64("underlying", spot).
		Float64("option", optPx).
		Float64("strike", inst.Strike).
		Int("contracts", pos.Contracts).
		Msg("entered position")
	return pos, nil
}

// Check runs the exit rules for one position in fixed priority order:
// stop-loss first, then first target, breakeven stop, second target. The
// stop check always wins when several conditions are true on the same
// cycle. Returns the exit events that fired.
func (m *Manager) Check(ctx context.Context, pos *Position, view View) ([]journal.TradeEvent, error) {
	if pos.State == StateClosed {
		return nil, nil
	}

	// 1. Stop-loss on the last completed close against the reference.
	if m.stopHit(pos, view) {
		ev, err := m.exit(ctx, pos, pos.Remaining, journal.ActionStopLoss, "stop loss", view)
		if err != nil {
			return nil, err
		}
		return []journal.TradeEvent{ev}, nil
	}

	var events []journal.TradeEvent

	// 2. First profit target: configured dollar move on the underlying.
	if !pos.HalfSold {
		half := pos.Contracts / 2
		if half > 0 && favorableMove(pos, view.Underlying) >= m.cfg.MoveTarget {
			ev, err := m.exit(ctx, pos, half, journal.ActionFirstTarget, "first profit target", view)
			if err != nil {
				return events, err
			}
			if err := pos.markHalfSold(); err != nil {
				return events, err
			}
			events = append(events, ev)
		}
	}

	// 3. Breakeven stop on the remaining half.
	if pos.HalfSold && pos.State != StateClosed {
		optPx, err := m.gw.Quote(ctx, pos.Instrument)
		if err != nil {
			return events, fmt.Errorf("quote option: %w", err)
		}
		if optPx <= pos.EntryOption {
			ev, err := m.exit(ctx, pos, pos.Remaining, journal.ActionBreakeven, "breakeven stop", view)
			if err != nil {
				return events, err
			}
			events = append(events, ev)
			return events, nil
		}
	}

	// 4. Second profit target: underlying beyond strike by the ITM offset.
	if pos.State != StateClosed && m.secondTargetHit(pos, view.Underlying) {
		ev, err := m.exit(ctx, pos, pos.Remaining, journal.ActionSecondTarget, "second profit target", view)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// CloseAll unconditionally liquidates every open position. Used at the
// force-close gate, at market close, and on shutdown.
func (m *Manager) CloseAll(ctx context.Context, reason string, view View) ([]journal.TradeEvent, error) {
	var events []journal.TradeEvent
	for _, pos := range m.book.Open() {
		ev, err := m.exit(ctx, pos, pos.Remaining, journal.ActionForceClose, reason, view)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (m *Manager) stopHit(pos *Position, view View) bool {
	closePx := view.LastClose
	long := pos.Side == SideCall
	switch pos.StopKind {
	case StopAllIndicators:
		if math.IsNaN(view.EMAShort) || math.IsNaN(view.EMALong) || math.IsNaN(view.VWAP) {
			return false
		}
		if long {
			return closePx < view.EMAShort && closePx < view.EMALong && closePx < view.VWAP
		}
		return closePx > view.EMAShort && closePx > view.EMALong && closePx > view.VWAP
	case StopFixedLevel:
		if long {
			return closePx < pos.StopLevel
		}
		return closePx > pos.StopLevel
	default: // StopShortEMA
		if math.IsNaN(view.EMAShort) {
			return false
		}
		if long {
			return closePx < view.EMAShort
		}
		return closePx > view.EMAShort
	}
}

func favorableMove(pos *Position, underlying float64) float64 {
	if pos.Side == SideCall {
		return underlying - pos.EntryUnderlying
	}
	return pos.EntryUnderlying - underlying
}

func (m *Manager) secondTargetHit(pos *Position, underlying float64) bool {
	if pos.Side == SideCall {
		return underlying >= pos.EntryStrike+m.cfg.ITMOffset
	}
	return underlying <= pos.EntryStrike-m.cfg.ITMOffset
}

// exit sells qty contracts, polls the realized price, and books the event.
// An order failure leaves the position untouched so the next cycle can
// retry; bookkeeping never assumes a fill that was not placed.
func (m *Manager) exit(ctx context.Context, pos *Position, qty int, action journal.Action, reason string, view View) (journal.TradeEvent, error) {
	if _, err := m.gw.PlaceOrder(ctx, pos.Instrument, market.Sell, qty); err != nil {
		m.log.Error().Err(err).
			Str("strategy", m.cfg.Strategy).
			Str("instrument", pos.Instrument.Key()).
			Str("reason", reason).
			Int("qty", qty).
			Msg("exit order failed, will retry next cycle")
		return journal.TradeEvent{}, fmt.Errorf("exit order: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues(pos.Instrument.Symbol, string(market.Sell)).Inc()

	optPx, err := m.gw.Quote(ctx, pos.Instrument)
	if err != nil {
		m.log.Warn().Err(err).Str("instrument", pos.Instrument.Key()).Msg("exit fill price unavailable")
		optPx = pos.EntryOption
	}
	if err := pos.reduce(qty); err != nil {
		return journal.TradeEvent{}, err
	}
	if pos.State == StateClosed {
		m.book.remove(pos)
	}

	pnl := (optPx - pos.EntryOption) * optionMultiplier * float64(qty)
	ev := journal.TradeEvent{
		Time:       view.Now,
		Strategy:   m.cfg.Strategy,
		Instrument: pos.Instrument.Key(),
		Side:       string(pos.Side),
		Action:     action,
		Quantity:   qty,
		Underlying: view.Underlying,
		Option:     optPx,
		PnL:        pnl,
		Reason:     reason,
	}
	m.record(ev)
	metrics.ExitsTotal.WithLabelValues(m.cfg.Strategy, string(action)).Inc()
	m.log.Info().
		Str("strategy", m.cfg.Strategy).
		Str("side", string(pos.Side)).
		Str("instrument", pos.Instrument.Key()).
		Str("reason", reason).
		Int("qty", qty).
		Int("remaining", pos.Remaining).
		Float64("option", optPx).
		Float64("pnl", pnl).
		Msg("closed contracts")
	return ev, nil
}

func (m *Manager) record(ev journal.TradeEvent) {
	if m.rec != nil {
		m.rec.Record(ev)
	}
}

// Package schedule evaluates the time-of-day gates that bracket a trading
// session. Gates are pure functions of the supplied clock time so the
// driver stays testable without sleeping.
package schedule

import (
	"fmt"
	"time"
)

// Gates holds the session boundaries for one strategy instance, all in the
// session's own timezone.
type Gates struct {
	loc          *time.Location
	marketOpen   time.Duration
	marketClose  time.Duration
	signalTime   time.Duration
	monitorStart time.Duration
	noNewTrades  time.Duration
	forceClose   time.Duration
}

// Config carries the raw HH:MM:SS strings the YAML file uses.
type Config struct {
	Timezone     string `yaml:"timezone"`
	MarketOpen   string `yaml:"market_open"`
	MarketClose  string `yaml:"market_close"`
	SignalTime   string `yaml:"signal_time"`
	MonitorStart string `yaml:"monitor_start"`
	NoNewTrades  string `yaml:"no_new_trades"`
	ForceClose   string `yaml:"force_close"`
}

// New parses a gate configuration. Empty monitor/signal/no-new-trades
// fields fall back to market open (monitor, signal) and force close.
func New(cfg Config) (*Gates, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "US/Central"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	g := &Gates{loc: loc}
	base := []struct {
		name     string
		raw      string
		fallback string
		dst      *time.Duration
	}{
		{"market_open", cfg.MarketOpen, "08:30:00", &g.marketOpen},
		{"market_close", cfg.MarketClose, "15:00:00", &g.marketClose},
		{"force_close", cfg.ForceClose, "14:55:00", &g.forceClose},
	}
	for _, f := range base {
		raw := f.raw
		if raw == "" {
			raw = f.fallback
		}
		d, err := parseClock(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = d
	}

	// Derived gates default to the resolved base gates, not the raw
	// config strings, which may be empty.
	derived := []struct {
		name     string
		raw      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"signal_time", cfg.SignalTime, g.marketOpen, &g.signalTime},
		{"monitor_start", cfg.MonitorStart, g.marketOpen, &g.monitorStart},
		{"no_new_trades", cfg.NoNewTrades, g.forceClose, &g.noNewTrades},
	}
	for _, f := range derived {
		if f.raw == "" {
			*f.dst = f.fallback
			continue
		}
		d, err := parseClock(f.raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return g, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}

// Location returns the session timezone.
func (g *Gates) Location() *time.Location { return g.loc }

// at anchors a clock offset onto now's calendar day in the session zone.
func (g *Gates) at(now time.Time, offset time.Duration) time.Time {
	local := now.In(g.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, g.loc).Add(offset)
}

// MarketOpen reports whether now falls within regular session hours.
func (g *Gates) MarketOpen(now time.Time) bool {
	open := g.at(now, g.marketOpen)
	closeAt := g.at(now, g.marketClose)
	return !now.Before(open) && !now.After(closeAt)
}

// MonitorStarted reports whether the monitoring window has begun.
func (g *Gates) MonitorStarted(now time.Time) bool {
	return !now.Before(g.at(now, g.monitorStart))
}

// CanOpenNewTrades reports whether new entries are still permitted.
func (g *Gates) CanOpenNewTrades(now time.Time) bool {
	return now.Before(g.at(now, g.noNewTrades))
}

// ForceClose reports whether the unconditional liquidation gate has passed.
func (g *Gates) ForceClose(now time.Time) bool {
	return !now.Before(g.at(now, g.forceClose))
}

// NearSignalTime reports whether now is within the tolerance window around
// the fixed signal-check time.
func (g *Gates) NearSignalTime(now time.Time, tolerance time.Duration) bool {
	diff := now.Sub(g.at(now, g.signalTime))
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// SignalTimeOn returns the signal-check instant on now's calendar day.
func (g *Gates) SignalTimeOn(now time.Time) time.Time {
	return g.at(now, g.signalTime)
}

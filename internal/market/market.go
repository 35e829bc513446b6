// Package market defines the bar/instrument data model and the gateway
// capability set the strategies trade through.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is returned by gateway calls made before Connect succeeds.
var ErrNotConnected = errors.New("gateway not connected")

// Side enumerates order directions accepted by a gateway.
type Side string

const (
	// Buy opens or adds to a position.
	Buy Side = "BUY"
	// Sell closes or reduces a position.
	Sell Side = "SELL"
)

// Right enumerates option rights.
type Right string

const (
	// Call is the right to buy the underlying at the strike.
	Call Right = "C"
	// Put is the right to sell the underlying at the strike.
	Put Right = "P"
)

// Kind distinguishes tradable instrument classes.
type Kind string

const (
	// KindStock is the plain underlying.
	KindStock Kind = "STK"
	// KindOption is a listed option on the underlying.
	KindOption Kind = "OPT"
)

// Instrument identifies something quotable and tradable at the venue.
type Instrument struct {
	Symbol string
	Kind   Kind
	Expiry string // YYYYMMDD, options only
	Strike float64
	Right  Right
}

// Stock builds the underlying instrument for a ticker.
func Stock(symbol string) Instrument {
	return Instrument{Symbol: symbol, Kind: KindStock}
}

// Key returns a stable identifier usable as a map key or metric label.
func (i Instrument) Key() string {
	if i.Kind == KindStock {
		return i.Symbol
	}
	return fmt.Sprintf("%s%s%s%.1f", i.Symbol, i.Expiry, i.Right, i.Strike)
}

// Bar is one OHLCV sample over a fixed interval. Time marks the bar open.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Validate checks a bar series for strictly increasing timestamps and sane
// OHLC ranges. Indicator math assumes both.
func Validate(bars []Bar) error {
	for i, b := range bars {
		if b.Time.IsZero() {
			return fmt.Errorf("bar %d: zero timestamp", i)
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			return fmt.Errorf("bar %d: timestamp %s not after %s", i, b.Time, bars[i-1].Time)
		}
		if b.High < b.Low {
			return fmt.Errorf("bar %d: high %.4f below low %.4f", i, b.High, b.Low)
		}
		if b.Open < b.Low || b.Open > b.High || b.Close < b.Low || b.Close > b.High {
			return fmt.Errorf("bar %d: open/close outside high-low range", i)
		}
	}
	return nil
}

// LastCompleted returns the last completed bar in the series. The final
// element is the forming bar and is never used for signal decisions, so the
// second-to-last one is returned. ok is false with fewer than two bars.
func LastCompleted(bars []Bar) (Bar, int, bool) {
	if len(bars) < 2 {
		return Bar{}, -1, false
	}
	idx := len(bars) - 2
	return bars[idx], idx, true
}

// SessionBars filters the series down to bars belonging to the given
// calendar day in that day's location.
func SessionBars(bars []Bar, day time.Time) []Bar {
	y, m, d := day.Date()
	var out []Bar
	for _, b := range bars {
		by, bm, bd := b.Time.In(day.Location()).Date()
		if by == y && bm == m && bd == d {
			out = append(out, b)
		}
	}
	return out
}

// Gateway is the capability set the strategies consume from a brokerage.
// Bars returns (nil, nil) when the venue has no data; errors signal hard
// connectivity failure only.
type Gateway interface {
	Connect(ctx context.Context) error
	Bars(ctx context.Context, inst Instrument, lookback, interval time.Duration) ([]Bar, error)
	Quote(ctx context.Context, inst Instrument) (float64, error)
	ResolveOption(ctx context.Context, underlying, expiry string, strike float64, right Right) (Instrument, error)
	PlaceOrder(ctx context.Context, inst Instrument, side Side, qty int) (string, error)
	Disconnect() error
}

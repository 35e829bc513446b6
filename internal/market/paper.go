package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OrderRecord captures one order the paper gateway accepted.
type OrderRecord struct {
	Ref        string
	Instrument Instrument
	Side       Side
	Qty        int
	Time       time.Time
}

// PaperGateway is an in-memory Gateway used for paper trading and tests.
// Bars and quotes are scripted by the caller; orders are recorded and
// assumed filled at the current quote.
type PaperGateway struct {
	mu          sync.Mutex
	connected   bool
	now         func() time.Time
	bars        []Bar
	quotes      map[string]float64
	orders      []OrderRecord
	failOrders  int
	connectErrs int
}

// NewPaperGateway builds an empty paper gateway. now may be nil, in which
// case the wall clock is used.
func NewPaperGateway(now func() time.Time) *PaperGateway {
	if now == nil {
		now = time.Now
	}
	return &PaperGateway{now: now, quotes: make(map[string]float64)}
}

// SetBars replaces the scripted bar series returned by Bars.
func (p *PaperGateway) SetBars(bars []Bar) {
	p.mu.Lock()
	p.bars = append(p.bars[:0], bars...)
	p.mu.Unlock()
}

// AppendBar adds one bar to the scripted series.
func (p *PaperGateway) AppendBar(b Bar) {
	p.mu.Lock()
	p.bars = append(p.bars, b)
	p.mu.Unlock()
}

// SetQuote sets the current market price for an instrument.
func (p *PaperGateway) SetQuote(inst Instrument, price float64) {
	p.mu.Lock()
	p.quotes[inst.Key()] = price
	p.mu.Unlock()
}

// FailNextOrders makes the next n PlaceOrder calls return an error.
func (p *PaperGateway) FailNextOrders(n int) {
	p.mu.Lock()
	p.failOrders = n
	p.mu.Unlock()
}

// FailNextConnects makes the next n Connect calls return an error.
func (p *PaperGateway) FailNextConnects(n int) {
	p.mu.Lock()
	p.connectErrs = n
	p.mu.Unlock()
}

// Orders returns a copy of every accepted order.
func (p *PaperGateway) Orders() []OrderRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderRecord, len(p.orders))
	copy(out, p.orders)
	return out
}

// Connect marks the gateway connected. Idempotent.
func (p *PaperGateway) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectErrs > 0 {
		p.connectErrs--
		return errors.New("paper gateway: simulated connect failure")
	}
	p.connected = true
	return nil
}

// Bars returns the scripted series. Lookback and interval are accepted for
// interface parity but the script decides what comes back.
func (p *PaperGateway) Bars(ctx context.Context, inst Instrument, lookback, interval time.Duration) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, ErrNotConnected
	}
	if len(p.bars) == 0 {
		return nil, nil
	}
	out := make([]Bar, len(p.bars))
	copy(out, p.bars)
	return out, nil
}

// Quote returns the scripted price for the instrument.
func (p *PaperGateway) Quote(ctx context.Context, inst Instrument) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return 0, ErrNotConnected
	}
	px, ok := p.quotes[inst.Key()]
	if !ok {
		return 0, fmt.Errorf("paper gateway: no quote for %s", inst.Key())
	}
	return px, nil
}

// ResolveOption qualifies an option contract. The paper venue accepts any
// strike rounded to a whole dollar, matching how 0-DTE chains are struck.
func (p *PaperGateway) ResolveOption(ctx context.Context, underlying, expiry string, strike float64, right Right) (Instrument, error) {
	if err := ctx.Err(); err != nil {
		return Instrument{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return Instrument{}, ErrNotConnected
	}
	return Instrument{
		Symbol: underlying,
		Kind:   KindOption,
		Expiry: expiry,
		Strike: math.Round(strike),
		Right:  right,
	}, nil
}

// PlaceOrder records a market order and returns its reference. Fills are
// assumed immediate at the current quote; callers poll Quote for the
// realized price as they would against the live venue.
func (p *PaperGateway) PlaceOrder(ctx context.Context, inst Instrument, side Side, qty int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if qty <= 0 {
		return "", errors.New("paper gateway: quantity must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return "", ErrNotConnected
	}
	if p.failOrders > 0 {
		p.failOrders--
		return "", errors.New("paper gateway: simulated order rejection")
	}
	rec := OrderRecord{
		Ref:        uuid.NewString(),
		Instrument: inst,
		Side:       side,
		Qty:        qty,
		Time:       p.now(),
	}
	p.orders = append(p.orders, rec)
	return rec.Ref, nil
}

// Disconnect marks the gateway disconnected.
func (p *PaperGateway) Disconnect() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

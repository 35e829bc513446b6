package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// wsRequest is the JSON frame sent to the broker bridge. One request, one
// response, correlated by ID over a single connection.
type wsRequest struct {
	ID       int64   `json:"id"`
	Op       string  `json:"op"`
	ClientID int     `json:"client_id,omitempty"`
	Symbol   string  `json:"symbol,omitempty"`
	Kind     Kind    `json:"kind,omitempty"`
	Expiry   string  `json:"expiry,omitempty"`
	Strike   float64 `json:"strike,omitempty"`
	Right    Right   `json:"right,omitempty"`
	Side     Side    `json:"side,omitempty"`
	Qty      int     `json:"qty,omitempty"`
	Lookback string  `json:"lookback,omitempty"`
	Interval string  `json:"interval,omitempty"`
}

type wsResponse struct {
	ID         int64      `json:"id"`
	OK         bool       `json:"ok"`
	Error      string     `json:"error,omitempty"`
	Bars       []wsBar    `json:"bars,omitempty"`
	Price      float64    `json:"price,omitempty"`
	Instrument Instrument `json:"instrument,omitempty"`
	Ref        string     `json:"ref,omitempty"`
}

type wsBar struct {
	Time   int64   `json:"t"` // unix milliseconds
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

// WSGateway talks to a broker bridge over a JSON websocket. Each strategy
// instance owns its own gateway with a distinct client id so broker
// sessions never collide.
type WSGateway struct {
	url      string
	clientID int
	retries  int
	backoff  time.Duration
	log      zerolog.Logger
	loc      *time.Location

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
}

// NewWSGateway builds a gateway client for the given bridge URL. retries
// bounds connection attempts; backoff is the fixed pause between them.
func NewWSGateway(url string, clientID, retries int, backoff time.Duration, loc *time.Location, log zerolog.Logger) *WSGateway {
	if retries <= 0 {
		retries = 3
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &WSGateway{url: url, clientID: clientID, retries: retries, backoff: backoff, loc: loc, log: log}
}

// Connect dials the bridge and performs the connect handshake. Retries a
// bounded number of times with fixed backoff, then fails closed.
func (g *WSGateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	var lastErr error
	for attempt := 1; attempt <= g.retries; attempt++ {
		conn, _, err := dialer.DialContext(ctx, g.url, nil)
		if err == nil {
			conn.SetReadLimit(1 << 20)
			g.conn = conn
			if _, err := g.roundTripLocked(wsRequest{Op: "connect", ClientID: g.clientID}); err != nil {
				conn.Close()
				g.conn = nil
				lastErr = err
			} else {
				g.log.Info().Int("client_id", g.clientID).Str("url", g.url).Msg("connected to broker bridge")
				return nil
			}
		} else {
			lastErr = err
		}
		g.log.Warn().Err(lastErr).Int("attempt", attempt).Int("max", g.retries).Msg("bridge connect failed")
		select {
		case <-time.After(g.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("connect to %s after %d attempts: %w", g.url, g.retries, lastErr)
}

func (g *WSGateway) roundTripLocked(req wsRequest) (wsResponse, error) {
	g.nextID++
	req.ID = g.nextID
	g.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := g.conn.WriteJSON(req); err != nil {
		return wsResponse{}, fmt.Errorf("write %s: %w", req.Op, err)
	}
	g.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var resp wsResponse
	if err := g.conn.ReadJSON(&resp); err != nil {
		return wsResponse{}, fmt.Errorf("read %s: %w", req.Op, err)
	}
	if resp.ID != req.ID {
		return wsResponse{}, fmt.Errorf("%s: response id %d does not match request %d", req.Op, resp.ID, req.ID)
	}
	if !resp.OK {
		return wsResponse{}, fmt.Errorf("%s rejected by bridge: %s", req.Op, resp.Error)
	}
	return resp, nil
}

func (g *WSGateway) roundTrip(ctx context.Context, req wsRequest) (wsResponse, error) {
	if err := ctx.Err(); err != nil {
		return wsResponse{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return wsResponse{}, ErrNotConnected
	}
	return g.roundTripLocked(req)
}

// Bars fetches historical bars for the instrument. An empty bar list from
// the bridge means no data, not an error.
func (g *WSGateway) Bars(ctx context.Context, inst Instrument, lookback, interval time.Duration) ([]Bar, error) {
	resp, err := g.roundTrip(ctx, wsRequest{
		Op:       "bars",
		Symbol:   inst.Symbol,
		Kind:     inst.Kind,
		Lookback: lookback.String(),
		Interval: interval.String(),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Bars) == 0 {
		return nil, nil
	}
	bars := make([]Bar, len(resp.Bars))
	for i, wb := range resp.Bars {
		bars[i] = Bar{
			Time:   time.UnixMilli(wb.Time).In(g.loc),
			Open:   wb.Open,
			High:   wb.High,
			Low:    wb.Low,
			Close:  wb.Close,
			Volume: wb.Volume,
		}
	}
	return bars, nil
}

// Quote returns the current market price for the instrument.
func (g *WSGateway) Quote(ctx context.Context, inst Instrument) (float64, error) {
	resp, err := g.roundTrip(ctx, wsRequest{
		Op:     "quote",
		Symbol: inst.Symbol,
		Kind:   inst.Kind,
		Expiry: inst.Expiry,
		Strike: inst.Strike,
		Right:  inst.Right,
	})
	if err != nil {
		return 0, err
	}
	return resp.Price, nil
}

// ResolveOption asks the bridge to qualify an option contract.
func (g *WSGateway) ResolveOption(ctx context.Context, underlying, expiry string, strike float64, right Right) (Instrument, error) {
	resp, err := g.roundTrip(ctx, wsRequest{
		Op:     "resolve_option",
		Symbol: underlying,
		Expiry: expiry,
		Strike: strike,
		Right:  right,
	})
	if err != nil {
		return Instrument{}, err
	}
	return resp.Instrument, nil
}

// PlaceOrder submits a fire-and-forget market order and returns the bridge
// trade reference. Callers poll Quote afterward for the realized price.
func (g *WSGateway) PlaceOrder(ctx context.Context, inst Instrument, side Side, qty int) (string, error) {
	resp, err := g.roundTrip(ctx, wsRequest{
		Op:     "place_order",
		Symbol: inst.Symbol,
		Kind:   inst.Kind,
		Expiry: inst.Expiry,
		Strike: inst.Strike,
		Right:  inst.Right,
		Side:   side,
		Qty:    qty,
	})
	if err != nil {
		return "", err
	}
	return resp.Ref, nil
}

// Disconnect closes the bridge session.
func (g *WSGateway) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	_, _ = g.roundTripLocked(wsRequest{Op: "disconnect"})
	err := g.conn.Close()
	g.conn = nil
	return err
}

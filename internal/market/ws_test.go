package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// bridgeStub answers every request in order with canned behavior.
func bridgeStub(t *testing.T, handle func(req wsRequest) wsResponse) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := handle(req)
			resp.ID = req.ID
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSGatewayConnectAndQuote(t *testing.T) {
	gotID := make(chan int, 1)
	srv := bridgeStub(t, func(req wsRequest) wsResponse {
		switch req.Op {
		case "connect":
			gotID <- req.ClientID
			return wsResponse{OK: true}
		case "quote":
			return wsResponse{OK: true, Price: 450.25}
		default:
			return wsResponse{OK: true}
		}
	})

	gw := NewWSGateway(wsURL(srv), 9, 2, 10*time.Millisecond, time.UTC, zerolog.Nop())
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer gw.Disconnect()

	if id := <-gotID; id != 9 {
		t.Fatalf("bridge saw client id %d, want 9", id)
	}
	px, err := gw.Quote(context.Background(), Stock("SPY"))
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if px != 450.25 {
		t.Fatalf("quote %.2f, want 450.25", px)
	}
}

func TestWSGatewayBarsDecodeAndEmpty(t *testing.T) {
	ts := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)
	empty := false
	srv := bridgeStub(t, func(req wsRequest) wsResponse {
		if req.Op == "bars" && !empty {
			empty = true
			return wsResponse{OK: true, Bars: []wsBar{{Time: ts.UnixMilli(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}}
		}
		return wsResponse{OK: true}
	})

	gw := NewWSGateway(wsURL(srv), 1, 2, 10*time.Millisecond, time.UTC, zerolog.Nop())
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer gw.Disconnect()

	bars, err := gw.Bars(context.Background(), Stock("SPY"), time.Hour, 5*time.Minute)
	if err != nil {
		t.Fatalf("Bars returned error: %v", err)
	}
	if len(bars) != 1 || !bars[0].Time.Equal(ts) || bars[0].Close != 1.5 {
		t.Fatalf("unexpected bars: %+v", bars)
	}

	bars, err = gw.Bars(context.Background(), Stock("SPY"), time.Hour, 5*time.Minute)
	if err != nil || bars != nil {
		t.Fatalf("empty bar list must decode to (nil, nil), got (%v, %v)", bars, err)
	}
}

func TestWSGatewayRejection(t *testing.T) {
	srv := bridgeStub(t, func(req wsRequest) wsResponse {
		if req.Op == "place_order" {
			return wsResponse{OK: false, Error: "no such contract"}
		}
		return wsResponse{OK: true}
	})

	gw := NewWSGateway(wsURL(srv), 1, 2, 10*time.Millisecond, time.UTC, zerolog.Nop())
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer gw.Disconnect()

	if _, err := gw.PlaceOrder(context.Background(), Stock("SPY"), Buy, 1); err == nil {
		t.Fatalf("expected rejection from bridge")
	}
}

func TestWSGatewayConnectFailsClosed(t *testing.T) {
	gw := NewWSGateway("ws://127.0.0.1:1/bridge", 1, 2, time.Millisecond, time.UTC, zerolog.Nop())
	if err := gw.Connect(context.Background()); err == nil {
		t.Fatalf("expected bounded-retry connect failure")
	}
	if _, err := gw.Quote(context.Background(), Stock("SPY")); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected after failed connect, got %v", err)
	}
}

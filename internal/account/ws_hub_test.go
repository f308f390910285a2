package account_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aegis-trader/paper-engine/internal/account"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWSHub_BroadcastReachesClient(t *testing.T) {
	hub := account.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond) // let the hub register the client

	hub.Broadcast(account.WSMessage{Type: "trade_executed", Symbol: "AAPL", Side: "buy"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got account.WSMessage
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "trade_executed" || got.Symbol != "AAPL" {
		t.Errorf("message = %+v", got)
	}
}

// A client that disappears mid-broadcast must be pruned without
// disturbing delivery to the remaining clients.
func TestWSHub_BroadcastSurvivesDeadClient(t *testing.T) {
	hub := account.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	dead := dialWS(t, srv)
	alive := dialWS(t, srv)
	defer alive.Close()
	time.Sleep(50 * time.Millisecond)

	dead.Close()

	// Repeated broadcasts so the write to the closed connection fails and
	// the hub drops it while the survivor keeps receiving.
	for i := 0; i < 5; i++ {
		hub.Broadcast(account.WSMessage{Type: "trade_executed", Symbol: "MSFT", Side: "sell"})
		time.Sleep(10 * time.Millisecond)
	}

	alive.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got account.WSMessage
	if err := alive.ReadJSON(&got); err != nil {
		t.Fatalf("surviving client read: %v", err)
	}
	if got.Symbol != "MSFT" {
		t.Errorf("message = %+v", got)
	}
}

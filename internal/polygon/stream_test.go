package polygon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rewired-gh/pulsewatch/internal/models"
)

func TestParseMessage(t *testing.T) {
	data := []byte(`[
		{"ev":"status","status":"auth_success"},
		{"ev":"XA","pair":"BTC-USD","c":65000.5,"v":12.5,"vw":64990,"e":1760700060000},
		{"ev":"XA","pair":"eth-usd","c":2500,"v":100,"vw":2499,"e":0},
		{"ev":"XA","pair":"","c":1,"v":1}
	]`)
	batch, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(batch))
	}
	btc := batch[0]
	if btc.Symbol != "BTC" || btc.Price != 65000.5 || btc.Volume != 12.5 || btc.VWAP != 64990 {
		t.Errorf("BTC = %+v", btc)
	}
	if !btc.Timestamp.Equal(time.UnixMilli(1760700060000)) {
		t.Errorf("BTC timestamp = %v", btc.Timestamp)
	}
	if batch[1].Symbol != "ETH" || batch[1].Timestamp.IsZero() {
		t.Errorf("ETH = %+v", batch[1])
	}
}

func TestParseMessage_NotArray(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"ev":"XA"}`)); err == nil {
		t.Error("expected error for non-array frame")
	}
}

func TestSymbolFromPair(t *testing.T) {
	tests := []struct{ pair, want string }{
		{"BTC-USD", "BTC"},
		{" sol-usd ", "SOL"},
		{"DOGE", "DOGE"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SymbolFromPair(tt.pair); got != tt.want {
			t.Errorf("SymbolFromPair(%q) = %q, want %q", tt.pair, got, tt.want)
		}
	}
}

func TestSubscriptionParams(t *testing.T) {
	if got := subscriptionParams([]string{"btc-usd", "ETH-USD"}); got != "XA.BTC-USD,XA.ETH-USD" {
		t.Errorf("subscriptionParams = %q", got)
	}
}

func TestStream_RunReconnects(t *testing.T) {
	var sessions int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt32(&sessions, 1)

		var auth, sub controlMessage
		if err := conn.ReadJSON(&auth); err != nil || auth.Action != "auth" || auth.Params != "key" {
			t.Errorf("auth message = %+v, err %v", auth, err)
			return
		}
		if err := conn.ReadJSON(&sub); err != nil || sub.Action != "subscribe" || sub.Params != "XA.BTC-USD" {
			t.Errorf("subscribe message = %+v, err %v", sub, err)
			return
		}
		price := "100"
		if n > 1 {
			price = "101"
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"XA","pair":"BTC-USD","c":`+price+`,"v":5,"e":1760700060000}]`))
		if n == 1 {
			// Drop the first session to force a reconnect.
			return
		}
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	stream := NewStream(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:         "key",
		Pairs:          []string{"BTC-USD"},
		ReconnectDelay: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []models.AssetSnapshot)
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx, out) }()

	for _, want := range []float64{100, 101} {
		select {
		case batch := <-out:
			if len(batch) != 1 || batch[0].Symbol != "BTC" || batch[0].Price != want {
				t.Fatalf("batch = %+v, want BTC at %v", batch, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for price %v", want)
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestStream_NoPairs(t *testing.T) {
	if err := NewStream(Config{}).Run(context.Background(), make(chan []models.AssetSnapshot)); err == nil {
		t.Error("expected error without pairs")
	}
}

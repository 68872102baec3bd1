package cryptocompare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/pulsewatch/internal/retry"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "secret",
		Quote:   "usd",
		Timeout: 2 * time.Second,
		Retry:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, MaxDelay: 2 * time.Millisecond},
	})
	return c, srv
}

func TestFetchSnapshots(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/pricemultifull" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("fsyms"); got != "BTC,ETH,NOPE" {
			t.Errorf("fsyms = %q", got)
		}
		if got := r.URL.Query().Get("tsyms"); got != "USD" {
			t.Errorf("tsyms = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Apikey secret" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"RAW":{
			"BTC":{"USD":{"PRICE":65000.5,"VOLUME24HOUR":1200,"MKTCAP":1.2e12,"HIGH24HOUR":66000,"CHANGEPCT24HOUR":1.5,"LASTUPDATE":1760700000}},
			"ETH":{"USD":{"PRICE":2500,"VOLUME24HOUR":9000,"MKTCAP":3e11,"HIGH24HOUR":2600,"CHANGEPCT24HOUR":-0.5,"LASTUPDATE":1760700001}}
		}}`))
	})

	snaps, err := c.FetchSnapshots(context.Background(), []string{"btc", "ETH", "NOPE"})
	if err != nil {
		t.Fatalf("FetchSnapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	btc := snaps[0]
	if btc.Symbol != "BTC" || btc.Price != 65000.5 || btc.Volume != 1200 || btc.MarketCap != 1.2e12 ||
		btc.High24h != 66000 || btc.ChangePct24h != 1.5 {
		t.Errorf("BTC snapshot = %+v", btc)
	}
	if !btc.Timestamp.Equal(time.Unix(1760700000, 0)) {
		t.Errorf("BTC timestamp = %v", btc.Timestamp)
	}
	if snaps[1].Symbol != "ETH" || snaps[1].ChangePct24h != -0.5 {
		t.Errorf("ETH snapshot = %+v", snaps[1])
	}
	if !c.missing["NOPE"] {
		t.Error("missing symbol was not remembered")
	}
}

func TestFetchSnapshots_APIError(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Response":"Error","Message":"rate limit exceeded"}`))
	})
	_, err := c.FetchSnapshots(context.Background(), []string{"BTC"})
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("err = %v, want API message", err)
	}
}

func TestFetchSnapshots_MissingRaw(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})
	if _, err := c.FetchSnapshots(context.Background(), []string{"BTC"}); err == nil {
		t.Error("expected error for missing RAW")
	}
}

func TestFetchSnapshots_Empty(t *testing.T) {
	var calls int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	snaps, err := c.FetchSnapshots(context.Background(), nil)
	if err != nil || snaps != nil {
		t.Errorf("got %v, %v", snaps, err)
	}
	if calls != 0 {
		t.Errorf("empty watchlist made %d requests", calls)
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Response":"Success","Data":{"Data":[{"time":1,"volumeto":10},{"time":2,"volumeto":20},{"time":3,"volumeto":30}]}}`))
	})

	volumes, err := c.FetchRecentVolumes(context.Background(), "sol", 12)
	if err != nil {
		t.Fatalf("FetchRecentVolumes: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []float64{10, 20, 30}
	if len(volumes) != len(want) {
		t.Fatalf("volumes = %v", volumes)
	}
	for i := range want {
		if volumes[i] != want[i] {
			t.Errorf("volumes[%d] = %v, want %v", i, volumes[i], want[i])
		}
	}
}

func TestGet_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := c.FetchRecentVolumes(context.Background(), "BTC", 12); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFetchRecentVolumes_Query(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/data/v2/histohour" || q.Get("fsym") != "BTC" || q.Get("tsym") != "USD" || q.Get("limit") != "12" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Response":"Error","Message":"unknown pair"}`))
	})
	if _, err := c.FetchRecentVolumes(context.Background(), "btc", 12); err == nil {
		t.Error("expected API error")
	}
}

func TestFetchRecentVolumes_NoData(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Response":"Success","Data":{"Data":[]}}`))
	})
	if _, err := c.FetchRecentVolumes(context.Background(), "BTC", 12); err == nil {
		t.Error("expected error for empty history")
	}
}

package render

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/pulsewatch/internal/models"
)

func TestFormatCurrency(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{65000.5, "$65,000.50"},
		{1234567.891, "$1,234,567.89"},
		{1, "$1.00"},
		{999.999, "$1,000.00"},
		{0.5, "$0.50"},
		{0.00123456789, "$0.001235"},
		{0, "$0.00"},
		{-12.5, "-$12.50"},
		{math.NaN(), "-"},
	}
	for _, tt := range tests {
		if got := FormatCurrency(tt.in); got != tt.want {
			t.Errorf("FormatCurrency(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.5, "+1.50%"},
		{-0.5, "-0.50%"},
		{0, "0.00%"},
		{6.456, "+6.46%"},
		{math.Inf(1), "0.00%"},
	}
	for _, tt := range tests {
		if got := FormatPercent(tt.in); got != tt.want {
			t.Errorf("FormatPercent(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatLargeNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.2e12, "1.20T"},
		{3.456e9, "3.46B"},
		{7e6, "7.00M"},
		{1500, "1.50K"},
		{999, "999.00"},
		{0, "0.00"},
	}
	for _, tt := range tests {
		if got := FormatLargeNumber(tt.in); got != tt.want {
			t.Errorf("FormatLargeNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSnapshotTable(t *testing.T) {
	snaps := []models.EnrichedSnapshot{
		{AssetSnapshot: models.AssetSnapshot{Symbol: "BTC", Price: 65000}, PriceChange5m: 2.5, IsNewHigh: true, DayHigh: 65000},
		{AssetSnapshot: models.AssetSnapshot{Symbol: "ETH", Price: 2500}, PriceChange5m: -1},
		{AssetSnapshot: models.AssetSnapshot{Symbol: "SOL", Price: 150}},
	}
	out := SnapshotTable(snaps, 2)
	for _, want := range []string{"BTC", "$65,000.00", "+2.50%", "NEW HIGH", "ETH", "-1.00%"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "SOL") {
		t.Error("table should be limited to 2 rows")
	}
}

func TestAlertFeed(t *testing.T) {
	if out := AlertFeed(nil, 5); !strings.Contains(out, "no alerts") {
		t.Errorf("empty feed = %q", out)
	}
	alerts := []models.Alert{
		{Symbol: "PEPE", Price: 0.0000123, Category: models.CategoryVolumeSpike, Timestamp: time.Now(), PriceChange5m: 7},
		{Symbol: "DOGE", Price: 0.2, Category: models.CategoryMomentum, Timestamp: time.Now()},
	}
	out := AlertFeed(alerts, 1)
	if !strings.Contains(out, "Volume Spike") || !strings.Contains(out, "PEPE") || !strings.Contains(out, "+7.00%") {
		t.Errorf("feed = %q", out)
	}
	if strings.Contains(out, "DOGE") {
		t.Error("feed should be limited to 1 alert")
	}
}

type staticSource struct{}

func (staticSource) Snapshots() []models.EnrichedSnapshot {
	return []models.EnrichedSnapshot{{AssetSnapshot: models.AssetSnapshot{Symbol: "ADA", Price: 0.35}}}
}

func (staticSource) Alerts() []models.Alert { return nil }

func TestConsoleFrame(t *testing.T) {
	c := NewConsole(nil, staticSource{}, 0)
	out := c.Frame(time.Now())
	if !strings.Contains(out, "ADA") || !strings.Contains(out, "$0.35") || !strings.Contains(out, "no alerts") {
		t.Errorf("frame = %q", out)
	}
}

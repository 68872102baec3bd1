package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestAssetSnapshotValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		snapshot AssetSnapshot
		wantErr  bool
	}{
		{
			name:     "valid snapshot",
			snapshot: AssetSnapshot{Symbol: "BTC", Price: 64000, Volume: 1200, Timestamp: now},
			wantErr:  false,
		},
		{
			name:     "zero volume is allowed",
			snapshot: AssetSnapshot{Symbol: "BTC", Price: 64000, Volume: 0, Timestamp: now},
			wantErr:  false,
		},
		{
			name:     "empty symbol",
			snapshot: AssetSnapshot{Price: 1, Volume: 1, Timestamp: now},
			wantErr:  true,
		},
		{
			name:     "zero price",
			snapshot: AssetSnapshot{Symbol: "ETH", Price: 0, Volume: 1, Timestamp: now},
			wantErr:  true,
		},
		{
			name:     "negative price",
			snapshot: AssetSnapshot{Symbol: "ETH", Price: -3, Volume: 1, Timestamp: now},
			wantErr:  true,
		},
		{
			name:     "NaN price",
			snapshot: AssetSnapshot{Symbol: "ETH", Price: math.NaN(), Volume: 1, Timestamp: now},
			wantErr:  true,
		},
		{
			name:     "negative volume",
			snapshot: AssetSnapshot{Symbol: "ETH", Price: 3000, Volume: -1, Timestamp: now},
			wantErr:  true,
		},
		{
			name:     "missing timestamp",
			snapshot: AssetSnapshot{Symbol: "ETH", Price: 3000, Volume: 1},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snapshot.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("AssetSnapshot.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSnapshot) {
				t.Errorf("error %v does not wrap ErrInvalidSnapshot", err)
			}
		})
	}
}

func TestDayStatePriceIncreasePct(t *testing.T) {
	d := DayState{Symbol: "X", InitialPrice: 100, HighOfDay: 100}
	if got := d.PriceIncreasePct(103); math.Abs(got-3) > 1e-9 {
		t.Errorf("PriceIncreasePct(103) = %f, want 3", got)
	}
	empty := DayState{Symbol: "X"}
	if got := empty.PriceIncreasePct(103); got != 0 {
		t.Errorf("PriceIncreasePct with no initial price = %f, want 0", got)
	}
}

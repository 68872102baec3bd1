package models

import (
	"time"
)

// DayState is the rolling per-asset reference state for one UTC day.
type DayState struct {
	Symbol       string
	HighOfDay    float64
	InitialPrice float64
	UpdatedAt    time.Time

	// LastAlertAt is zero when no new-high alert fired today.
	LastAlertAt time.Time

	// Previous is nil on the first tick of the session.
	Previous *AssetSnapshot
}

// PriceIncreasePct returns the percent move of price over the day's initial price.
func (d *DayState) PriceIncreasePct(price float64) float64 {
	if d.InitialPrice <= 0 {
		return 0
	}
	return (price - d.InitialPrice) / d.InitialPrice * 100
}

// EnrichedSnapshot is an AssetSnapshot plus the derived momentum signals.
type EnrichedSnapshot struct {
	AssetSnapshot

	PriceChange5m  float64 `json:"price_change_5m"`
	VolumeRatio    float64 `json:"volume_ratio"`
	RelativeVolume float64 `json:"relative_volume"`
	SpikeFactor    float64 `json:"spike_factor"`
	IsNewHigh      bool    `json:"is_new_high"`
	DayHigh        float64 `json:"day_high"`
	InitialPrice   float64 `json:"initial_price"`
	PreviousPrice  float64 `json:"previous_price,omitempty"`
}

// Category classifies an alert.
type Category string

const (
	CategoryNewHigh     Category = "new_high"
	CategoryVolumeSpike Category = "volume_spike"
	CategoryMomentum    Category = "momentum"
)

// Alert is a classified, deduplicated event.
type Alert struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`

	PriceChange5m  float64 `json:"price_change_5m"`
	VolumeRatio    float64 `json:"volume_ratio"`
	RelativeVolume float64 `json:"relative_volume"`
	SpikeFactor    float64 `json:"spike_factor"`
	ChangePct24h   float64 `json:"change_pct_24h,omitempty"`
}

// RunningUpRecord is the durable trace of a volume-backed price run.
type RunningUpRecord struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

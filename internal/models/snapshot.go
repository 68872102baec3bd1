// Package models defines the core domain entities: snapshots, day state, and alerts.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotFound is wrapped when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidSnapshot is wrapped by every AssetSnapshot.Validate failure.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// AssetSnapshot is one observation of one asset at one instant.
// Symbol, Price, Volume and Timestamp are always present; the remaining
// fields are filled when the source provides them and are zero otherwise.
type AssetSnapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`

	Name         string  `json:"name,omitempty"`
	MarketCap    float64 `json:"market_cap,omitempty"`
	High24h      float64 `json:"high_24h,omitempty"`
	ChangePct24h float64 `json:"change_pct_24h,omitempty"`
	VWAP         float64 `json:"vwap,omitempty"`
}

// Validate checks snapshot field constraints.
func (s *AssetSnapshot) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: symbol must not be empty", ErrInvalidSnapshot)
	}
	if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) || s.Price <= 0 {
		return fmt.Errorf("%w: %s price must be positive, got %v", ErrInvalidSnapshot, s.Symbol, s.Price)
	}
	if math.IsNaN(s.Volume) || math.IsInf(s.Volume, 0) || s.Volume < 0 {
		return fmt.Errorf("%w: %s volume must not be negative, got %v", ErrInvalidSnapshot, s.Symbol, s.Volume)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: %s timestamp must be set", ErrInvalidSnapshot, s.Symbol)
	}
	return nil
}

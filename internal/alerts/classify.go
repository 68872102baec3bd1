package alerts

import "github.com/rewired-gh/pulsewatch/internal/models"

// Thresholds gates the momentum and volume-spike categories.
type Thresholds struct {
	MomentumPricePct    float64
	MomentumVolumeRatio float64
	SpikeRelativeVolume float64
	SpikeFactor         float64
	SpikePricePct       float64
}

// DefaultThresholds returns the stock momentum and spike thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MomentumPricePct:    5,
		MomentumVolumeRatio: 2,
		SpikeRelativeVolume: 5,
		SpikeFactor:         1.5,
		SpikePricePct:       5,
	}
}

// IsVolumeSpike reports whether s clears the relative-volume, spike-factor
// and price thresholds together.
func (t Thresholds) IsVolumeSpike(s models.EnrichedSnapshot) bool {
	return s.RelativeVolume >= t.SpikeRelativeVolume &&
		s.SpikeFactor >= t.SpikeFactor &&
		s.PriceChange5m >= t.SpikePricePct
}

// IsMomentum reports whether s clears the price and volume-ratio thresholds.
func (t Thresholds) IsMomentum(s models.EnrichedSnapshot) bool {
	return s.PriceChange5m >= t.MomentumPricePct && s.VolumeRatio >= t.MomentumVolumeRatio
}

// Classify picks the single highest-priority category for s:
// new high, then volume spike, then momentum.
func Classify(s models.EnrichedSnapshot, t Thresholds) (models.Category, bool) {
	switch {
	case s.IsNewHigh:
		return models.CategoryNewHigh, true
	case t.IsVolumeSpike(s):
		return models.CategoryVolumeSpike, true
	case t.IsMomentum(s):
		return models.CategoryMomentum, true
	}
	return "", false
}

// RecordsRunningUp reports whether s leaves a durable running-up record.
// It ignores display priority, so a new high that also spiked still counts.
func (t Thresholds) RecordsRunningUp(s models.EnrichedSnapshot) bool {
	return t.IsVolumeSpike(s) || t.IsMomentum(s)
}

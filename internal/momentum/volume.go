package momentum

// SMA returns the simple moving average of the last period values, or 0 when
// fewer than period values are available.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// VolumeMetrics derives relative volume and spike factor from an oldest-first
// volume history. The newest sample is the current period. Both values
// default to 1 when the history is too short or the denominator is zero.
func VolumeMetrics(volumes []float64, period int) (relativeVolume, spikeFactor float64) {
	relativeVolume, spikeFactor = 1, 1
	if len(volumes) == 0 {
		return
	}
	current := volumes[len(volumes)-1]

	if sma := SMA(volumes, period); sma > 0 {
		relativeVolume = current / sma
	}
	if len(volumes) >= 2 {
		if prior := volumes[len(volumes)-2]; prior > 0 {
			spikeFactor = current / prior
		}
	}
	return
}

// tickChange returns the percent price change and volume ratio against the
// previous tick. Without a usable previous tick the defaults are 0 and 1.
func tickChange(prevPrice, prevVolume, price, volume float64) (priceChangePct, volumeRatio float64) {
	if prevPrice <= 0 || prevVolume <= 0 {
		return 0, 1
	}
	return (price - prevPrice) / prevPrice * 100, volume / prevVolume
}

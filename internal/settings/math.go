package settings

import "math"

// PercentForLogValue maps value onto [0,1] along a log10 scale spanning
// [min,max]. Invalid ranges or non-positive inputs yield 0.
func PercentForLogValue(value, min, max float64) float64 {
	if min <= 0 || max <= 0 || value <= 0 || max <= min {
		return 0
	}
	lo, hi := math.Log10(min), math.Log10(max)
	pct := (math.Log10(value) - lo) / (hi - lo)
	return math.Max(0, math.Min(1, pct))
}

// LogValueForPercent is the inverse of PercentForLogValue. The percent is
// clamped to [0,1].
func LogValueForPercent(percent, min, max float64) float64 {
	if min <= 0 || max <= 0 || max <= min {
		return 0
	}
	percent = math.Max(0, math.Min(1, percent))
	lo, hi := math.Log10(min), math.Log10(max)
	return math.Pow(10, lo+(hi-lo)*percent)
}

// SliderPercent returns the slider position of v for a numeric definition.
// Definitions without both bounds report 0.
func (d *Definition) SliderPercent(v Value) float64 {
	if !d.HasMin || !d.HasMax || d.Max <= d.Min {
		return 0
	}
	var n float64
	switch v.Type() {
	case TypeInteger:
		n = float64(v.Int())
	case TypeFloat:
		n = float64(v.Float())
	default:
		return 0
	}
	if d.Logarithmic {
		return PercentForLogValue(n, d.Min, d.Max)
	}
	return math.Max(0, math.Min(1, (n-d.Min)/(d.Max-d.Min)))
}

package tracking

// boundedValue clamps a proposed current value to [0, cap], where cap is
// capMultiplier times the day's target. Rows whose target was never set fall
// back to the kind's default so repeated rapid mutations stay bounded either
// way.
func boundedValue(proposed, target, fallbackTarget, capMultiplier float64) float64 {
	base := target
	if base <= 0 {
		base = fallbackTarget
	}
	ceiling := base * capMultiplier

	if proposed < 0 {
		return 0
	}
	if ceiling > 0 && proposed > ceiling {
		return ceiling
	}
	return proposed
}

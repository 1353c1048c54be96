package stats

// RoundToSignificant rounds a non-negative response-time sample (in integer
// milliseconds) to 2 significant digits, which is the histogram bucket
// key used by Entry.Histogram. Values under 100 are returned unchanged (they
// already have at most 2 significant digits); values at or above 100 are
// rounded to the nearest multiple of 10^n where n = digits(v) - 2.
func RoundToSignificant(v int64) int64 {
	if v < 0 {
		v = -v
	}
	n := digits(v) - 2
	if n <= 0 {
		return v
	}
	factor := int64(1)
	for i := 0; i < n; i++ {
		factor *= 10
	}
	return ((v + factor/2) / factor) * factor
}

// digits returns the number of base-10 digits in v (v==0 counts as 1 digit).
func digits(v int64) int {
	if v <= 0 {
		return 1
	}
	d := 0
	for v > 0 {
		d++
		v /= 10
	}
	return d
}

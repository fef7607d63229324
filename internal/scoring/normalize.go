package scoring

const (
	targetMin = 0.0
	targetMax = 10.0
	// epsilon guards the min-max division when all raw values are
	// effectively equal.
	epsilon = 1e-9
)

// Normalize rescales raw scores to the 0-10 range using Min-Max scaling.
// The result has the same length and order as the input, so duplicate raw
// values stay attached to their positions instead of being collapsed.
//
// An empty input yields an empty output. A single participant, or a cohort
// where every raw value is equal, normalizes to the maximum.
func Normalize(raw []float64) []float64 {
	if len(raw) == 0 {
		return []float64{}
	}
	if len(raw) == 1 {
		return []float64{targetMax}
	}

	min, max := raw[0], raw[0]
	for _, v := range raw[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make([]float64, len(raw))
	if max-min < epsilon {
		for i := range out {
			out[i] = targetMax
		}
		return out
	}

	span := max - min
	for i, v := range raw {
		out[i] = clamp((v-min)/span*(targetMax-targetMin)+targetMin, targetMin, targetMax)
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

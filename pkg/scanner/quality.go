package scanner

// EmptyScore is reported for an image with no pixels or no payload.
const EmptyScore = 0.5

// Score is a placeholder quality heuristic, not a biometric quality
// metric. The image falls into one of four bands by pixel count and
// payload size, both of which must clear a band's thresholds, and jitter
// in [0,1) places it within the band. The result stays within [0,1].
func Score(width, height, payload int, jitter float64) float64 {
	pixels := width * height
	if pixels <= 0 || payload <= 0 {
		return EmptyScore
	}

	base := 0.6
	switch {
	case pixels > 200000 && payload > 100000:
		base = 0.9
	case pixels > 100000 && payload > 50000:
		base = 0.8
	case pixels > 50000 && payload > 25000:
		base = 0.7
	}

	if jitter < 0 {
		jitter = 0
	} else if jitter >= 1 {
		jitter = 0.999
	}

	q := base + jitter*0.1
	if q > 1 {
		q = 1
	}
	return q
}

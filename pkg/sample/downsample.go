package sample

// Decimate reduces samples to at most maxPoints for display, reusing dst when
// it has the capacity. The first and last samples are always kept. The interior
// is split into equal buckets and each bucket contributes the sample that moves
// furthest from the previously kept one, so short tension spikes survive.
//
// maxPoints <= 0 or a short enough input copies everything.
func Decimate(dst []Sample, samples []Sample, maxPoints int) []Sample {
	if maxPoints <= 0 || len(samples) <= maxPoints {
		if cap(dst) < len(samples) {
			dst = make([]Sample, len(samples))
		}
		dst = dst[:len(samples)]
		copy(dst, samples)
		return dst
	}

	if cap(dst) < maxPoints {
		dst = make([]Sample, 0, maxPoints)
	}
	dst = dst[:0]

	last := samples[len(samples)-1]
	if maxPoints == 1 {
		return append(dst, last)
	}

	dst = append(dst, samples[0])
	interior := samples[1 : len(samples)-1]
	buckets := maxPoints - 2
	for b := range buckets {
		lo := b * len(interior) / buckets
		hi := (b + 1) * len(interior) / buckets
		dst = append(dst, peak(dst[len(dst)-1], interior[lo:hi]))
	}
	return append(dst, last)
}

func peak(prev Sample, bucket []Sample) Sample {
	best := bucket[0]
	bestDev := absDiff(best.Tension, prev.Tension)
	for _, s := range bucket[1:] {
		if d := absDiff(s.Tension, prev.Tension); d > bestDev {
			best, bestDev = s, d
		}
	}
	return best
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

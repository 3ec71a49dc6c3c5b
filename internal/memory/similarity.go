package memory

import "math"

// Similarity compares two layout feature vectors. Each key present in
// both contributes 1 - |a-b| / max(|a|, |b|, 1); the result is the mean
// over shared keys. Vectors with no shared keys score zero.
func Similarity(a, b map[string]float64) float64 {
	var sum float64
	var shared int
	for key, av := range a {
		bv, ok := b[key]
		if !ok {
			continue
		}
		shared++
		denom := math.Max(math.Max(math.Abs(av), math.Abs(bv)), 1)
		sum += 1 - math.Abs(av-bv)/denom
	}
	if shared == 0 {
		return 0
	}
	return sum / float64(shared)
}

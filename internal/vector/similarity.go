package vector

import "math"

// SquaredL2 returns the squared Euclidean distance between two vectors of equal length.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Normalize scales v in place to unit length and returns its original norm.
// A zero vector is left as is.
func Normalize(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return 0
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return norm
}

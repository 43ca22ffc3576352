// Package identity implements the comparison half of the
// verify-identity endpoint (spec.md §6): given two face embeddings, it
// reports whether their Euclidean distance is within the configured
// match threshold. Producing an embedding from an image is the face
// encoder's job (internal/models), not this package's.
package identity

import "math"

// Compare returns the Euclidean distance between two face embeddings and
// whether that distance is at or below threshold (a match). A length
// mismatch is treated as a definite non-match rather than an error: two
// embeddings from different model versions should never read as
// "close enough" by accident.
func Compare(reference, live []float64, threshold float64) (distance float64, matched bool) {
	if len(reference) != len(live) || len(reference) == 0 {
		return math.Inf(1), false
	}

	var sumSquares float64
	for i := range reference {
		d := reference[i] - live[i]
		sumSquares += d * d
	}
	distance = math.Sqrt(sumSquares)
	return distance, distance <= threshold
}

package identity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare_IdenticalEmbeddings_ZeroDistanceMatch(t *testing.T) {
	v := []float64{0.1, 0.2, 0.3}
	distance, matched := Compare(v, v, 0.6)
	assert.InDelta(t, 0.0, distance, 1e-9)
	assert.True(t, matched)
}

func TestCompare_FarApart_NoMatch(t *testing.T) {
	distance, matched := Compare([]float64{0, 0}, []float64{10, 10}, 0.6)
	assert.False(t, matched)
	assert.Greater(t, distance, 0.6)
}

func TestCompare_LengthMismatch_InfiniteDistanceNoMatch(t *testing.T) {
	distance, matched := Compare([]float64{0.1, 0.2}, []float64{0.1, 0.2, 0.3}, 0.6)
	assert.False(t, matched)
	assert.True(t, math.IsInf(distance, 1))
}

func TestCompare_AtThreshold_Matches(t *testing.T) {
	// distance exactly 0.6 along one axis
	distance, matched := Compare([]float64{0}, []float64{0.6}, 0.6)
	assert.InDelta(t, 0.6, distance, 1e-9)
	assert.True(t, matched)
}

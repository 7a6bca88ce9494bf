package confidence

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStaysInUnitInterval(t *testing.T) {
	n := NewNormalizer(rand.NewSource(7))
	for i := 0; i <= 1000; i++ {
		p := float64(i) / 1000
		got := n.Normalize(p)
		assert.GreaterOrEqual(t, got, 0.0, "p=%v", p)
		assert.LessOrEqual(t, got, 1.0, "p=%v", p)
	}
}

func TestNormalizePassesThroughBelowThreshold(t *testing.T) {
	for _, p := range []float64{0, 0.2, 0.5, 0.9, 0.989} {
		assert.Equal(t, p, Normalize(p))
	}
}

func TestNormalizeSaturatedBand(t *testing.T) {
	n := NewNormalizer(nil)
	for _, p := range []float64{0.99, 0.995, 1.0, 1.7, math.Inf(1)} {
		for i := 0; i < 500; i++ {
			got := n.Normalize(p)
			assert.GreaterOrEqual(t, got, SaturatedFloor)
			assert.Less(t, got, 1.0)
		}
	}
}

func TestNormalizeClampsOutOfRange(t *testing.T) {
	assert.Equal(t, 0.0, Normalize(-0.3))
	assert.Equal(t, 0.0, Normalize(math.NaN()))
	assert.Equal(t, 0.0, Normalize(math.Inf(-1)))
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "80%", FormatPercentage(0.8))
	assert.Equal(t, "0%", FormatPercentage(-1))

	got := FormatPercentage(1)
	assert.Contains(t, []string{"95%", "96%", "97%", "98%", "99%", "100%"}, got)
}

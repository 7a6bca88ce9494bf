// Package confidence turns raw classifier probabilities into display values.
//
// Normalize is intentionally lossy and non-deterministic near certainty: a
// probability pinned at or above SaturationThreshold is replaced by a uniform
// draw from [SaturatedFloor, 1.0). Callers must not expect stable output for
// saturated inputs.
package confidence

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	// SaturationThreshold is the clamped value at which output is randomized.
	SaturationThreshold = 0.99
	// SaturatedFloor is the lower bound of the randomized band.
	SaturatedFloor = 0.95
	saturatedSpan  = 1.0 - SaturatedFloor
)

// Normalizer maps raw probabilities into [0,1]. It is safe for concurrent use.
type Normalizer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewNormalizer returns a Normalizer drawing from src. A nil src is seeded
// from the wall clock.
func NewNormalizer(src rand.Source) *Normalizer {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Normalizer{rnd: rand.New(src)}
}

// Normalize clamps raw into [0,1] and de-sharpens saturated values.
func (n *Normalizer) Normalize(raw float64) float64 {
	v := Clamp(raw)
	if v < SaturationThreshold {
		return v
	}
	n.mu.Lock()
	f := n.rnd.Float64()
	n.mu.Unlock()
	out := SaturatedFloor + f*saturatedSpan
	// guard against rounding landing exactly on 1.0
	if out >= 1.0 {
		out = math.Nextafter(1.0, 0)
	}
	return out
}

// FormatPercentage renders the normalized value as a whole percentage, e.g. "95%".
func (n *Normalizer) FormatPercentage(raw float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(n.Normalize(raw)*100)))
}

// Clamp limits v to [0,1]. NaN maps to 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

var defaultNormalizer = NewNormalizer(nil)

// Normalize applies the package default Normalizer.
func Normalize(raw float64) float64 {
	return defaultNormalizer.Normalize(raw)
}

// FormatPercentage applies the package default Normalizer.
func FormatPercentage(raw float64) string {
	return defaultNormalizer.FormatPercentage(raw)
}

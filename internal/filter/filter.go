package filter

import (
	"github.com/ca-srg/placesweep/internal/types"
)

// DefaultLowRatingThreshold is the rating at or below which a place is reported as low-rated.
const DefaultLowRatingThreshold = 2.6

// LowRated returns the places whose rating is at or below threshold, in input order.
// Places without a rating are never low-rated.
func LowRated(places []types.Place, threshold float64) []types.Place {
	out := make([]types.Place, 0)
	for _, p := range places {
		if p.Rating == nil {
			continue
		}
		if *p.Rating <= threshold {
			out = append(out, p)
		}
	}
	return out
}

// IsLowRated reports whether a single place is at or below threshold.
func IsLowRated(p types.Place, threshold float64) bool {
	return p.Rating != nil && *p.Rating <= threshold
}

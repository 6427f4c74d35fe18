// Package grid tiles a search area into an ordered set of search origins.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s1"

	"github.com/ca-srg/placesweep/internal/types"
)

// EarthRadiusMeters is the mean Earth radius used for metre to degree conversion.
const EarthRadiusMeters = 6371008.8

// ErrInvalidArgument is returned for grid parameters that cannot produce a tiling.
var ErrInvalidArgument = errors.New("invalid grid argument")

// Generate returns (2*extentCells+1)^2 coordinates spaced spacing degrees apart on both axes,
// centered on center. Points are emitted row-major: latitude ascending in the outer loop,
// longitude ascending in the inner loop.
func Generate(center types.Coordinate, spacing float64, extentCells int) ([]types.Coordinate, error) {
	if !(spacing > 0) || math.IsInf(spacing, 0) {
		return nil, fmt.Errorf("%w: spacing must be a positive finite number, got %v", ErrInvalidArgument, spacing)
	}
	if extentCells < 0 {
		return nil, fmt.Errorf("%w: extent cannot be negative, got %d", ErrInvalidArgument, extentCells)
	}
	if !isFinite(center.Latitude) || !isFinite(center.Longitude) {
		return nil, fmt.Errorf("%w: center must be finite, got %s", ErrInvalidArgument, center)
	}

	south := center.Latitude - float64(extentCells)*spacing
	north := center.Latitude + float64(extentCells)*spacing
	if south < -90 || north > 90 {
		return nil, fmt.Errorf("%w: grid latitude span [%v, %v] leaves [-90, 90]", ErrInvalidArgument, south, north)
	}

	side := 2*extentCells + 1
	points := make([]types.Coordinate, 0, side*side)
	for i := -extentCells; i <= extentCells; i++ {
		lat := center.Latitude + float64(i)*spacing
		for j := -extentCells; j <= extentCells; j++ {
			points = append(points, types.Coordinate{
				Latitude:  lat,
				Longitude: wrapLongitude(center.Longitude + float64(j)*spacing),
			})
		}
	}
	return points, nil
}

// GenerateMeters is Generate with the spacing expressed in metres along a meridian.
func GenerateMeters(center types.Coordinate, spacingMeters float64, extentCells int) ([]types.Coordinate, error) {
	if !(spacingMeters > 0) || math.IsInf(spacingMeters, 0) {
		return nil, fmt.Errorf("%w: spacing must be a positive finite number, got %v m", ErrInvalidArgument, spacingMeters)
	}
	return Generate(center, SpacingFromMeters(spacingMeters), extentCells)
}

// SpacingFromMeters converts a ground distance into degrees of arc on a spherical Earth.
func SpacingFromMeters(meters float64) float64 {
	angle := s1.Angle(meters/EarthRadiusMeters) * s1.Radian
	return angle.Degrees()
}

// Bounds returns the south-west and north-east corners of points.
func Bounds(points []types.Coordinate) (sw, ne types.Coordinate, ok bool) {
	if len(points) == 0 {
		return sw, ne, false
	}
	sw, ne = points[0], points[0]
	for _, p := range points[1:] {
		sw.Latitude = math.Min(sw.Latitude, p.Latitude)
		sw.Longitude = math.Min(sw.Longitude, p.Longitude)
		ne.Latitude = math.Max(ne.Latitude, p.Latitude)
		ne.Longitude = math.Max(ne.Longitude, p.Longitude)
	}
	return sw, ne, true
}

func wrapLongitude(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	return math.Remainder(lng, 360)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

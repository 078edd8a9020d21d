package geo

import "errors"

// ErrNoStops is returned when a route has no stops to match against.
var ErrNoStops = errors.New("no stops available for route")

// Stop is one entry in a route's ordered stop sequence.
type Stop struct {
	ID    string
	Name  string
	Lat   float64
	Lng   float64
	Index int
}

// StopMatcher infers the stop a position corresponds to. Implementations must
// be deterministic and side-effect free so callers can swap in a smarter
// map-matching algorithm without changing the pipeline.
type StopMatcher interface {
	NearestStopIndex(lat, lng float64, stops []Stop) (int, error)
}

// PlanarMatcher picks the stop with the minimum straight-line distance,
// treating coordinates as planar. Ties resolve to the earliest index.
type PlanarMatcher struct{}

var _ StopMatcher = PlanarMatcher{}

func (PlanarMatcher) NearestStopIndex(lat, lng float64, stops []Stop) (int, error) {
	if len(stops) == 0 {
		return 0, ErrNoStops
	}

	best := 0
	bestDist := squaredDistance(lat, lng, stops[0])
	for i := 1; i < len(stops); i++ {
		if d := squaredDistance(lat, lng, stops[i]); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best, nil
}

// Comparing squared distances avoids the sqrt without changing the ordering.
func squaredDistance(lat, lng float64, s Stop) float64 {
	dLat := lat - s.Lat
	dLng := lng - s.Lng
	return dLat*dLat + dLng*dLng
}

package geo

import (
	"errors"
	"testing"
)

func testStops() []Stop {
	return []Stop{
		{ID: "s0", Name: "Depot", Lat: 0.0, Lng: 0.0, Index: 0},
		{ID: "s1", Name: "Market", Lat: 0.0, Lng: 1.0, Index: 1},
		{ID: "s2", Name: "School", Lat: 0.0, Lng: 2.0, Index: 2},
		{ID: "s3", Name: "Park", Lat: 0.0, Lng: 3.0, Index: 3},
		{ID: "s4", Name: "Terminal", Lat: 0.0, Lng: 4.0, Index: 4},
	}
}

func TestNearestStopIndex(t *testing.T) {
	m := PlanarMatcher{}
	stops := testStops()

	tests := []struct {
		name     string
		lat, lng float64
		want     int
	}{
		{"exactly at first stop", 0.0, 0.0, 0},
		{"exactly at middle stop", 0.0, 2.0, 2},
		{"between stops, closer to later", 0.0, 2.7, 3},
		{"far beyond the last stop", 5.0, 10.0, 4},
		{"offset perpendicular to route", 0.5, 1.1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.NearestStopIndex(tt.lat, tt.lng, stops)
			if err != nil {
				t.Fatalf("NearestStopIndex failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("NearestStopIndex(%v, %v) = %d, want %d", tt.lat, tt.lng, got, tt.want)
			}
		})
	}
}

func TestNearestStopIndexTieBreaksToLowestIndex(t *testing.T) {
	m := PlanarMatcher{}
	// Two stops equidistant from the midpoint.
	stops := []Stop{
		{ID: "a", Lat: 0, Lng: 0, Index: 0},
		{ID: "b", Lat: 0, Lng: 2, Index: 1},
	}

	got, err := m.NearestStopIndex(0, 1, stops)
	if err != nil {
		t.Fatalf("NearestStopIndex failed: %v", err)
	}
	if got != 0 {
		t.Errorf("expected tie to resolve to index 0, got %d", got)
	}
}

func TestNearestStopIndexNoneCloserThanResult(t *testing.T) {
	m := PlanarMatcher{}
	stops := testStops()
	positions := [][2]float64{{0.3, 0.4}, {-1, 3.9}, {2, 2}, {0, 1.49}, {0, 1.51}}

	for _, p := range positions {
		got, err := m.NearestStopIndex(p[0], p[1], stops)
		if err != nil {
			t.Fatalf("NearestStopIndex failed: %v", err)
		}
		best := squaredDistance(p[0], p[1], stops[got])
		for i, s := range stops {
			if d := squaredDistance(p[0], p[1], s); d < best {
				t.Errorf("stop %d is strictly closer to (%v,%v) than returned stop %d", i, p[0], p[1], got)
			}
		}
	}
}

func TestNearestStopIndexEmptyStops(t *testing.T) {
	m := PlanarMatcher{}
	_, err := m.NearestStopIndex(1, 1, nil)
	if !errors.Is(err, ErrNoStops) {
		t.Fatalf("expected ErrNoStops, got %v", err)
	}
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/routewatch/routewatch/pkg/geo"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeStopSource struct {
	stops map[string][]geo.Stop
	err   error
}

func (f *fakeStopSource) FetchOrderedStops(_ context.Context, routeID string) ([]geo.Stop, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stops[routeID], nil
}

func lineStops(n int) []geo.Stop {
	stops := make([]geo.Stop, n)
	for i := range stops {
		stops[i] = geo.Stop{
			ID:    fmt.Sprintf("s%d", i),
			Name:  fmt.Sprintf("Stop %d", i),
			Lat:   0,
			Lng:   float64(i),
			Index: i,
		}
	}
	return stops
}

func newTestRegistry(stops *fakeStopSource, cfg Config) *Registry {
	return New(NewInMemoryStore(), geo.PlanarMatcher{}, stops, cfg, nil, newTestLogger())
}

func TestRegisterAndGet(t *testing.T) {
	r := newTestRegistry(&fakeStopSource{}, Config{AutoRegister: true})
	ctx := context.Background()

	r.Register(ctx, "V1", "R1")

	snap, ok := r.Get(ctx, "V1")
	if !ok {
		t.Fatal("expected registered vehicle to be found")
	}
	if snap.RouteID != "R1" || snap.StopIndex != 0 {
		t.Errorf("unexpected snapshot after register: %+v", snap)
	}
}

func TestUpdatePositionComputesStopIndex(t *testing.T) {
	stops := &fakeStopSource{stops: map[string][]geo.Stop{"R1": lineStops(5)}}
	r := newTestRegistry(stops, Config{AutoRegister: true})
	ctx := context.Background()
	r.Register(ctx, "V1", "R1")

	// Position exactly at stop 2's coordinates.
	prev, next, err := r.UpdatePosition(ctx, "V1", "R1", 0, 2.0, 30)
	if err != nil {
		t.Fatalf("UpdatePosition failed: %v", err)
	}
	if prev != 0 || next != 2 {
		t.Errorf("expected transition 0 -> 2, got %d -> %d", prev, next)
	}

	snap, _ := r.Get(ctx, "V1")
	if snap.StopIndex != 2 || snap.Lng != 2.0 || snap.Speed != 30 {
		t.Errorf("snapshot not updated: %+v", snap)
	}
}

func TestUpdatePositionAutoRegisters(t *testing.T) {
	stops := &fakeStopSource{stops: map[string][]geo.Stop{"R1": lineStops(3)}}
	r := newTestRegistry(stops, Config{AutoRegister: true})
	ctx := context.Background()

	prev, next, err := r.UpdatePosition(ctx, "ghost", "R1", 0, 1.0, 10)
	if err != nil {
		t.Fatalf("expected silent auto-registration, got %v", err)
	}
	if prev != 0 || next != 1 {
		t.Errorf("expected transition 0 -> 1, got %d -> %d", prev, next)
	}
	if _, ok := r.Get(ctx, "ghost"); !ok {
		t.Error("auto-registered vehicle not found")
	}
}

func TestUpdatePositionUnknownVehicleRejected(t *testing.T) {
	r := newTestRegistry(&fakeStopSource{}, Config{AutoRegister: false})

	_, _, err := r.UpdatePosition(context.Background(), "ghost", "R1", 0, 1, 10)
	if !errors.Is(err, ErrUnknownVehicle) {
		t.Fatalf("expected ErrUnknownVehicle, got %v", err)
	}
}

func TestUpdatePositionKeepsIndexWhenStopsUnavailable(t *testing.T) {
	stops := &fakeStopSource{stops: map[string][]geo.Stop{"R1": lineStops(5)}}
	r := newTestRegistry(stops, Config{AutoRegister: true})
	ctx := context.Background()

	r.Register(ctx, "V1", "R1")
	if _, _, err := r.UpdatePosition(ctx, "V1", "R1", 0, 3.0, 10); err != nil {
		t.Fatalf("UpdatePosition failed: %v", err)
	}

	// Stop fetch degrades; the position still applies but the index holds.
	stops.err = errors.New("store unreachable")
	prev, next, err := r.UpdatePosition(ctx, "V1", "R1", 0, 0.0, 10)
	if err != nil {
		t.Fatalf("UpdatePosition failed during store outage: %v", err)
	}
	if prev != 3 || next != 3 {
		t.Errorf("expected stop index held at 3, got %d -> %d", prev, next)
	}

	snap, _ := r.Get(ctx, "V1")
	if snap.Lng != 0.0 {
		t.Errorf("position should update even without stops, got lng=%v", snap.Lng)
	}
}

func TestSetStopIndex(t *testing.T) {
	r := newTestRegistry(&fakeStopSource{}, Config{AutoRegister: true})
	ctx := context.Background()
	r.Register(ctx, "V1", "R1")

	if err := r.SetStopIndex(ctx, "V1", 4); err != nil {
		t.Fatalf("SetStopIndex failed: %v", err)
	}
	snap, _ := r.Get(ctx, "V1")
	if snap.StopIndex != 4 {
		t.Errorf("expected stop index 4, got %d", snap.StopIndex)
	}

	if err := r.SetStopIndex(ctx, "ghost", 1); !errors.Is(err, ErrUnknownVehicle) {
		t.Errorf("expected ErrUnknownVehicle for unknown vehicle, got %v", err)
	}
}

func TestPerVehicleUpdateOrdering(t *testing.T) {
	stops := &fakeStopSource{stops: map[string][]geo.Stop{"R1": lineStops(10)}}
	r := newTestRegistry(stops, Config{AutoRegister: true})
	ctx := context.Background()

	// One goroutine per vehicle sends an ordered sequence of updates while
	// other vehicles update concurrently; the last write must win per vehicle.
	const vehicles = 8
	const updates = 50
	var wg sync.WaitGroup
	for v := 0; v < vehicles; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			id := fmt.Sprintf("V%d", v)
			for u := 0; u < updates; u++ {
				lng := float64(u % 10)
				if _, _, err := r.UpdatePosition(ctx, id, "R1", 0, lng, float64(u)); err != nil {
					t.Errorf("UpdatePosition(%s) failed: %v", id, err)
					return
				}
			}
		}(v)
	}
	wg.Wait()

	for v := 0; v < vehicles; v++ {
		id := fmt.Sprintf("V%d", v)
		snap, ok := r.Get(ctx, id)
		if !ok {
			t.Fatalf("vehicle %s missing after updates", id)
		}
		if snap.Speed != float64(updates-1) {
			t.Errorf("vehicle %s: expected final speed %d, got %v", id, updates-1, snap.Speed)
		}
		if snap.StopIndex != (updates-1)%10 {
			t.Errorf("vehicle %s: expected final stop index %d, got %d", id, (updates-1)%10, snap.StopIndex)
		}
	}
}

func TestInMemoryStoreShardIsolation(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("V%d", i)
			s.Set(ctx, id, Snapshot{VehicleID: id, StopIndex: i})
			if snap, ok := s.Get(ctx, id); !ok || snap.StopIndex != i {
				t.Errorf("store lost write for %s", id)
			}
		}(i)
	}
	wg.Wait()

	s.Delete(ctx, "V0")
	if _, ok := s.Get(ctx, "V0"); ok {
		t.Error("expected V0 deleted")
	}
}

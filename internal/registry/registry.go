// Package registry owns the in-memory table of active vehicles. All mutations
// for a given vehicle id are serialized through a per-shard lock, so updates
// from one feed apply in the order received while different vehicles proceed
// concurrently.
package registry

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/routewatch/routewatch/internal/store"
	"github.com/routewatch/routewatch/pkg/geo"
)

// ErrUnknownVehicle is returned for updates to an unregistered vehicle when
// auto-registration is disabled.
var ErrUnknownVehicle = errors.New("vehicle not registered")

const lockCount = 64

type Config struct {
	// AutoRegister silently creates a vehicle on its first position update,
	// matching the upstream feed behavior. Disable to treat unregistered
	// vehicles as errors instead.
	AutoRegister bool
}

// Metrics receives registry instrumentation callbacks.
type Metrics interface {
	VehicleRegistered()
}

type Registry struct {
	store   Store
	matcher geo.StopMatcher
	stops   store.StopSource
	config  Config
	metrics Metrics

	locks [lockCount]sync.Mutex

	logger *slog.Logger
	now    func() time.Time
}

func New(st Store, matcher geo.StopMatcher, stops store.StopSource, cfg Config, metrics Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		store:   st,
		matcher: matcher,
		stops:   stops,
		config:  cfg,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "vehicle_registry")),
		now:     time.Now,
	}
}

func (r *Registry) lockFor(vehicleID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(vehicleID))
	return &r.locks[h.Sum32()%lockCount]
}

// Register creates or re-homes a vehicle on a route. Re-registering an
// existing vehicle resets its stop index.
func (r *Registry) Register(ctx context.Context, vehicleID, routeID string) {
	mu := r.lockFor(vehicleID)
	mu.Lock()
	defer mu.Unlock()

	_, existed := r.store.Get(ctx, vehicleID)
	r.store.Set(ctx, vehicleID, Snapshot{
		VehicleID: vehicleID,
		RouteID:   routeID,
		StopIndex: 0,
		UpdatedAt: r.now(),
	})
	if !existed && r.metrics != nil {
		r.metrics.VehicleRegistered()
	}
	r.logger.Info("Vehicle registered", slog.String("vehicleID", vehicleID), slog.String("routeID", routeID))
}

// UpdatePosition applies one position sample and recomputes the vehicle's
// stop index. It returns the previous and new stop index. When the route's
// stops cannot be fetched the position still updates and the previous stop
// index is kept.
func (r *Registry) UpdatePosition(ctx context.Context, vehicleID, routeID string, lat, lng, speed float64) (prev, next int, err error) {
	// Fetch outside the vehicle lock; a degraded store must not serialize
	// unrelated vehicles behind it.
	stops, stopsErr := r.stops.FetchOrderedStops(ctx, routeID)

	mu := r.lockFor(vehicleID)
	mu.Lock()
	defer mu.Unlock()

	snap, ok := r.store.Get(ctx, vehicleID)
	if !ok {
		if !r.config.AutoRegister {
			return 0, 0, ErrUnknownVehicle
		}
		snap = Snapshot{VehicleID: vehicleID, RouteID: routeID}
		if r.metrics != nil {
			r.metrics.VehicleRegistered()
		}
		r.logger.Debug("Auto-registered vehicle on first update", slog.String("vehicleID", vehicleID), slog.String("routeID", routeID))
	}

	prev = snap.StopIndex
	next = prev
	switch {
	case stopsErr != nil:
		r.logger.Warn("Failed to fetch stops; keeping previous stop index",
			slog.String("routeID", routeID), slog.Any("error", stopsErr))
	case len(stops) == 0:
		r.logger.Warn("Route has no stops; keeping previous stop index", slog.String("routeID", routeID))
	default:
		idx, matchErr := r.matcher.NearestStopIndex(lat, lng, stops)
		if matchErr != nil {
			r.logger.Warn("Stop matching failed", slog.String("vehicleID", vehicleID), slog.Any("error", matchErr))
		} else {
			next = idx
		}
	}

	snap.RouteID = routeID
	snap.Lat = lat
	snap.Lng = lng
	snap.Speed = speed
	snap.StopIndex = next
	snap.UpdatedAt = r.now()
	r.store.Set(ctx, vehicleID, snap)

	return prev, next, nil
}

// SetStopIndex records an explicit stop arrival.
func (r *Registry) SetStopIndex(ctx context.Context, vehicleID string, stopIndex int) error {
	mu := r.lockFor(vehicleID)
	mu.Lock()
	defer mu.Unlock()

	snap, ok := r.store.Get(ctx, vehicleID)
	if !ok {
		return ErrUnknownVehicle
	}
	snap.StopIndex = stopIndex
	snap.UpdatedAt = r.now()
	r.store.Set(ctx, vehicleID, snap)
	return nil
}

// Get returns the vehicle's current snapshot.
func (r *Registry) Get(ctx context.Context, vehicleID string) (Snapshot, bool) {
	return r.store.Get(ctx, vehicleID)
}

// Package ingest implements the position-update pipeline: validate, persist
// (fire-and-forget), update the registry, broadcast, then evaluate alerts.
// Every stage's failure is isolated; a degraded store or push provider never
// stalls the live path.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/routewatch/routewatch/internal/alerts"
	"github.com/routewatch/routewatch/internal/events"
	"github.com/routewatch/routewatch/internal/firehose"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/registry"
	"github.com/routewatch/routewatch/internal/store"
	"github.com/routewatch/routewatch/internal/worker"
	"github.com/routewatch/routewatch/pkg/state"
)

type Pipeline struct {
	manager   state.Manager
	registry  *registry.Registry
	locations store.LocationSink
	alerts    *alerts.Engine
	pool      *worker.Pool
	metrics   *metrics.Collector
	firehose  *firehose.Publisher // nil disables mirroring
	logger    *slog.Logger
	now       func() time.Time
}

func NewPipeline(manager state.Manager, reg *registry.Registry, locations store.LocationSink, pool *worker.Pool, collector *metrics.Collector, fh *firehose.Publisher, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		manager:   manager,
		registry:  reg,
		locations: locations,
		pool:      pool,
		metrics:   collector,
		firehose:  fh,
		logger:    logger.With(slog.String("component", "ingest_pipeline")),
		now:       time.Now,
	}
}

// SetAlertEngine wires the alert engine after construction; the engine
// broadcasts through the pipeline, so the two reference each other.
func (p *Pipeline) SetAlertEngine(engine *alerts.Engine) {
	p.alerts = engine
}

var _ alerts.Broadcaster = (*Pipeline)(nil)

// HandleVehicleUpdate runs the full ingestion sequence for one position
// sample. The payload has already been validated by the router.
func (p *Pipeline) HandleVehicleUpdate(ctx context.Context, upd events.VehicleUpdate) {
	p.metrics.UpdatesIngested.Inc()
	timestamp := p.now().UTC()

	lat, lng := *upd.Lat, *upd.Lng
	speed := 0.0
	if upd.Speed != nil {
		speed = *upd.Speed
	}

	// 1. Persist the location record off the hot path. Failures are counted
	// and logged; the live broadcast below proceeds regardless.
	rec := store.LocationRecord{
		ID:        uuid.NewString(),
		VehicleID: upd.VehicleID,
		Lat:       lat,
		Lng:       lng,
		Speed:     speed,
		Timestamp: timestamp,
	}
	p.pool.Submit("persist_location", func(taskCtx context.Context) {
		if err := p.locations.PersistLocation(taskCtx, rec); err != nil {
			p.logger.Warn("Failed to persist location record",
				slog.String("vehicleID", rec.VehicleID), slog.Any("error", err))
			p.metrics.PersistErrors.Inc()
		}
	})

	// 2. Update the registry and recompute the stop index.
	prev, next, err := p.registry.UpdatePosition(ctx, upd.VehicleID, upd.RouteID, lat, lng, speed)
	if err != nil {
		p.logger.Warn("Dropping update for unregistered vehicle",
			slog.String("vehicleID", upd.VehicleID), slog.Any("error", err))
		p.metrics.EventsDropped.WithLabelValues("unknown_vehicle").Inc()
		return
	}
	if prev != next {
		p.logger.Debug("Vehicle advanced",
			slog.String("vehicleID", upd.VehicleID),
			slog.Int("fromStop", prev), slog.Int("toStop", next))
	}

	// 3. Broadcast the position to everyone watching the route or vehicle.
	payload := events.PositionUpdate{
		VehicleID: upd.VehicleID,
		RouteID:   upd.RouteID,
		Lat:       lat,
		Lng:       lng,
		Speed:     speed,
		Timestamp: timestamp.Format(time.RFC3339),
	}
	p.Broadcast(state.RouteTopic(upd.RouteID), events.PositionUpdateEvent, payload)
	p.Broadcast(state.VehicleTopic(upd.VehicleID), events.PositionUpdateEvent, payload)

	// 4. Check for riders approaching their stop.
	if p.alerts != nil {
		p.alerts.Evaluate(ctx, upd.RouteID, upd.VehicleID, next)
	}
}

// HandleStopReached processes an explicit stop arrival.
func (p *Pipeline) HandleStopReached(ctx context.Context, ev events.StopReached) {
	if err := p.registry.SetStopIndex(ctx, ev.VehicleID, *ev.StopIndex); err != nil {
		p.logger.Warn("Stop arrival for unknown vehicle",
			slog.String("vehicleID", ev.VehicleID), slog.Any("error", err))
	}

	p.Broadcast(state.VehicleTopic(ev.VehicleID), events.StopReachedEvent, events.StopReachedBroadcast{
		VehicleID: ev.VehicleID,
		StopID:    ev.StopID,
		StopIndex: *ev.StopIndex,
		Timestamp: p.now().UTC().Format(time.RFC3339),
	})
}

// Broadcast sends an event to a snapshot of the topic's members. Membership
// locks are released before any send happens, and sends never block, so one
// slow subscriber cannot hold up the fan-out.
func (p *Pipeline) Broadcast(topic, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal broadcast payload",
			slog.String("event", event), slog.Any("error", err))
		return
	}
	frame, err := json.Marshal(events.Envelope{Event: event, Payload: raw})
	if err != nil {
		p.logger.Error("Failed to marshal broadcast envelope",
			slog.String("event", event), slog.Any("error", err))
		return
	}

	conns := p.manager.TopicConnections(topic)
	for _, conn := range conns {
		conn.Send(frame)
	}
	p.metrics.Broadcasts.WithLabelValues(event).Inc()

	if p.firehose != nil {
		p.firehose.Publish(event, topic, frame)
	}

	p.logger.Debug("Broadcast emitted",
		slog.String("topic", topic),
		slog.String("event", event),
		slog.Int("connections", len(conns)))
}

// Package router dispatches inbound wire events to their handlers. Handlers
// are fixed functions of (connection context, payload); malformed events are
// dropped silently per the best-effort telemetry posture, with only a log
// line and a counter left behind.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/routewatch/routewatch/internal/events"
	"github.com/routewatch/routewatch/internal/ingest"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/registry"
	"github.com/routewatch/routewatch/pkg/state"
)

type HandlerFunc func(ctx context.Context, conn *state.Connection, payload json.RawMessage)

type EventRouter struct {
	logger   *slog.Logger
	manager  state.Manager
	registry *registry.Registry
	pipeline *ingest.Pipeline
	metrics  *metrics.Collector
	validate *validator.Validate
	handlers map[string]HandlerFunc
}

func NewEventRouter(logger *slog.Logger, manager state.Manager, reg *registry.Registry, pipeline *ingest.Pipeline, collector *metrics.Collector) *EventRouter {
	r := &EventRouter{
		logger:   logger.With(slog.String("component", "event_router")),
		manager:  manager,
		registry: reg,
		pipeline: pipeline,
		metrics:  collector,
		validate: validator.New(),
	}
	r.handlers = map[string]HandlerFunc{
		events.VehicleConnectEvent:     r.handleVehicleConnect,
		events.VehicleUpdateEvent:      r.handleVehicleUpdate,
		events.VehicleStopReachedEvent: r.handleStopReached,
		events.SubscribeRouteEvent:     r.subscribeTopic(routeIDFromPayload, state.RouteTopic),
		events.UnsubscribeRouteEvent:   r.unsubscribeTopic(routeIDFromPayload, state.RouteTopic),
		events.SubscribeVehicleEvent:   r.subscribeTopic(vehicleIDFromPayload, state.VehicleTopic),
		events.UnsubscribeVehicleEvent: r.unsubscribeTopic(vehicleIDFromPayload, state.VehicleTopic),
	}
	return r
}

// HandleMessage is the transport's message callback.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var envelope events.Envelope
	if err := json.Unmarshal(msg, &envelope); err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		r.metrics.EventsDropped.WithLabelValues("validation").Inc()
		return
	}

	handler, ok := r.handlers[envelope.Event]
	if !ok {
		r.logger.Warn("Received unknown event", slog.String("event", envelope.Event), slog.String("connID", connID.String()))
		r.metrics.EventsDropped.WithLabelValues("unknown_event").Inc()
		return
	}

	conn, found := r.manager.GetConnection(connID)
	if !found {
		r.logger.Error("No connection profile for active connection", slog.String("connID", connID.String()))
		return
	}

	r.logger.Debug("Dispatching event", slog.String("event", envelope.Event), slog.String("connID", connID.String()))
	handler(ctx, conn, envelope.Payload)
}

// decode unmarshals and validates a payload. An error means the event must
// be dropped without a response to the sender.
func (r *EventRouter) decode(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return err
	}
	return r.validate.Struct(v)
}

func (r *EventRouter) dropInvalid(event string, err error) {
	r.logger.Debug("Dropping malformed event", slog.String("event", event), slog.Any("error", err))
	r.metrics.EventsDropped.WithLabelValues("validation").Inc()
}

func (r *EventRouter) handleVehicleConnect(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
	var ev events.VehicleConnect
	if err := r.decode(payload, &ev); err != nil {
		r.dropInvalid(events.VehicleConnectEvent, err)
		return
	}

	r.registry.Register(ctx, ev.VehicleID, ev.RouteID)

	// The feed watches its own route and vehicle topics, so it sees the
	// broadcasts it generates.
	if err := r.manager.Join(conn.ID, state.RouteTopic(ev.RouteID)); err != nil {
		r.logger.Warn("Failed to join route topic", slog.Any("error", err))
	}
	if err := r.manager.Join(conn.ID, state.VehicleTopic(ev.VehicleID)); err != nil {
		r.logger.Warn("Failed to join vehicle topic", slog.Any("error", err))
	}
	r.logger.Info("Vehicle feed connected",
		slog.String("vehicleID", ev.VehicleID), slog.String("routeID", ev.RouteID))
}

func (r *EventRouter) handleVehicleUpdate(ctx context.Context, _ *state.Connection, payload json.RawMessage) {
	var ev events.VehicleUpdate
	if err := r.decode(payload, &ev); err != nil {
		r.dropInvalid(events.VehicleUpdateEvent, err)
		return
	}
	r.pipeline.HandleVehicleUpdate(ctx, ev)
}

func (r *EventRouter) handleStopReached(ctx context.Context, _ *state.Connection, payload json.RawMessage) {
	var ev events.StopReached
	if err := r.decode(payload, &ev); err != nil {
		r.dropInvalid(events.VehicleStopReachedEvent, err)
		return
	}
	r.pipeline.HandleStopReached(ctx, ev)
}

func (r *EventRouter) subscribeTopic(extract func(json.RawMessage) string, topic func(string) string) HandlerFunc {
	return func(_ context.Context, conn *state.Connection, payload json.RawMessage) {
		id := extract(payload)
		if id == "" {
			return
		}
		if err := r.manager.Join(conn.ID, topic(id)); err != nil {
			r.logger.Warn("Subscribe failed", slog.String("topic", topic(id)), slog.Any("error", err))
			return
		}
		r.logger.Debug("Connection subscribed", slog.String("connID", conn.ID.String()), slog.String("topic", topic(id)))
	}
}

func (r *EventRouter) unsubscribeTopic(extract func(json.RawMessage) string, topic func(string) string) HandlerFunc {
	return func(_ context.Context, conn *state.Connection, payload json.RawMessage) {
		id := extract(payload)
		if id == "" {
			return
		}
		if err := r.manager.Leave(conn.ID, topic(id)); err != nil {
			r.logger.Warn("Unsubscribe failed", slog.String("topic", topic(id)), slog.Any("error", err))
		}
	}
}

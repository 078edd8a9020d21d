// Package alerts evaluates rider subscriptions against vehicle progress and
// fires proximity alerts. Alerting is level-triggered on exact gap equality:
// every update where the vehicle sits exactly LeadStops before a subscribed
// stop re-fires. If the stop index jumps past the trigger value between two
// updates the alert is skipped entirely; known limitation, kept for
// compatibility with the upstream behavior.
package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/routewatch/routewatch/internal/events"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/push"
	"github.com/routewatch/routewatch/internal/store"
	"github.com/routewatch/routewatch/internal/worker"
	"github.com/routewatch/routewatch/pkg/geo"
	"github.com/routewatch/routewatch/pkg/state"
)

// Broadcaster fans an event out to a topic's members.
type Broadcaster interface {
	Broadcast(topic, event string, payload any)
}

type Config struct {
	// LeadStops is how many stops ahead of the vehicle a subscribed stop must
	// be for its alert to fire.
	LeadStops int
	// MinutesPerStop is the flat per-stop travel estimate used for the ETA.
	MinutesPerStop int
}

type Engine struct {
	subs     store.SubscriptionSource
	stops    store.StopSource
	notifier push.Notifier
	pool     *worker.Pool
	emit     Broadcaster
	config   Config
	metrics  *metrics.Collector
	logger   *slog.Logger
}

func NewEngine(subs store.SubscriptionSource, stops store.StopSource, notifier push.Notifier, pool *worker.Pool, emit Broadcaster, cfg Config, collector *metrics.Collector, logger *slog.Logger) *Engine {
	if cfg.LeadStops <= 0 {
		cfg.LeadStops = 2
	}
	if cfg.MinutesPerStop <= 0 {
		cfg.MinutesPerStop = 5
	}
	return &Engine{
		subs:     subs,
		stops:    stops,
		notifier: notifier,
		pool:     pool,
		emit:     emit,
		config:   cfg,
		metrics:  collector,
		logger:   logger.With(slog.String("component", "alert_engine")),
	}
}

// Evaluate scans the route's eligible subscriptions against the vehicle's
// current stop index. A fresh subscription snapshot is read on every call so
// cancellations and toggles take effect immediately. All failures are
// contained here; Evaluate never reports back to the ingestion pipeline.
func (e *Engine) Evaluate(ctx context.Context, routeID, vehicleID string, currentStopIndex int) {
	subs, err := e.subs.FetchActiveSubscriptions(ctx, routeID)
	if err != nil {
		e.logger.Warn("Failed to fetch subscriptions, skipping alert evaluation",
			slog.String("routeID", routeID), slog.Any("error", err))
		return
	}

	var routeStops []geo.Stop
	stopsFetched := false

	for _, sub := range subs {
		if sub.StopIndex-currentStopIndex != e.config.LeadStops {
			continue
		}

		// Resolve the stop name lazily; one fetch serves every alert on this
		// update.
		if !stopsFetched {
			routeStops, err = e.stops.FetchOrderedStops(ctx, routeID)
			if err != nil {
				e.logger.Warn("Failed to fetch stops for alert payload",
					slog.String("routeID", routeID), slog.Any("error", err))
			}
			stopsFetched = true
		}
		stop, found := findStop(routeStops, sub)
		if !found {
			e.logger.Warn("Subscribed stop not found on route, dropping alert",
				slog.String("routeID", routeID), slog.String("stopID", sub.StopID))
			continue
		}

		e.fire(routeID, vehicleID, sub, stop)
	}
}

func (e *Engine) fire(routeID, vehicleID string, sub store.Subscription, stop geo.Stop) {
	eta := e.config.LeadStops * e.config.MinutesPerStop
	payload := events.ProximityAlert{
		VehicleID:  vehicleID,
		RouteID:    routeID,
		StopID:     sub.StopID,
		StopIndex:  sub.StopIndex,
		StopName:   stop.Name,
		EtaMinutes: eta,
	}

	e.emit.Broadcast(state.RiderTopic(sub.RiderID), events.ProximityAlertEvent, payload)
	if e.metrics != nil {
		e.metrics.AlertsFired.Inc()
	}

	riderID := sub.RiderID
	title := "Vehicle Approaching"
	body := fmt.Sprintf("Your stop %s is coming up in %d minutes", stop.Name, eta)
	e.pool.Submit("push_notification", func(taskCtx context.Context) {
		if err := e.notifier.SendPushNotification(taskCtx, riderID, title, body); err != nil {
			e.logger.Warn("Push notification failed",
				slog.String("riderID", riderID), slog.Any("error", err))
			if e.metrics != nil {
				e.metrics.PushErrors.Inc()
			}
		}
	})

	e.logger.Info("Proximity alert fired",
		slog.String("riderID", sub.RiderID),
		slog.String("vehicleID", vehicleID),
		slog.String("stopID", sub.StopID))
}

func findStop(stops []geo.Stop, sub store.Subscription) (geo.Stop, bool) {
	for _, s := range stops {
		if s.ID == sub.StopID {
			return s, true
		}
	}
	// Fall back to index lookup for stores that don't carry stop ids.
	for _, s := range stops {
		if s.Index == sub.StopIndex {
			return s, true
		}
	}
	return geo.Stop{}, false
}

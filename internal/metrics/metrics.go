package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the ingestion core's prometheus instruments on a private
// registry.
type Collector struct {
	reg *prometheus.Registry

	UpdatesIngested prometheus.Counter
	EventsDropped   *prometheus.CounterVec // reason label: validation|unknown_event|unknown_vehicle
	Broadcasts      *prometheus.CounterVec // event label
	AlertsFired     prometheus.Counter

	PersistErrors prometheus.Counter
	PushErrors    prometheus.Counter
	TasksDropped  prometheus.Counter

	ActiveConnections prometheus.Gauge
	ActiveVehicles    prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		UpdatesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routewatch_updates_ingested_total",
			Help: "Total vehicle position updates accepted by the pipeline.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routewatch_events_dropped_total",
			Help: "Total inbound events dropped before processing.",
		}, []string{"reason"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routewatch_broadcasts_total",
			Help: "Total broadcast emissions by event name.",
		}, []string{"event"}),
		AlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routewatch_proximity_alerts_fired_total",
			Help: "Total proximity alerts emitted.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routewatch_persist_errors_total",
			Help: "Total failed location persistence attempts.",
		}),
		PushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routewatch_push_errors_total",
			Help: "Total failed push notification sends.",
		}),
		TasksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routewatch_tasks_dropped_total",
			Help: "Total background tasks dropped due to a full queue.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routewatch_active_connections",
			Help: "Number of live websocket connections.",
		}),
		ActiveVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routewatch_active_vehicles",
			Help: "Number of vehicles known to the registry.",
		}),
	}

	reg.MustRegister(
		c.UpdatesIngested, c.EventsDropped, c.Broadcasts, c.AlertsFired,
		c.PersistErrors, c.PushErrors, c.TasksDropped,
		c.ActiveConnections, c.ActiveVehicles,
	)

	return c
}

// VehicleRegistered satisfies the registry's metrics hook.
func (c *Collector) VehicleRegistered() { c.ActiveVehicles.Inc() }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

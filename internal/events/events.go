// Package events defines the wire contract: event names and payload shapes
// exchanged over the websocket transport.
package events

import "encoding/json"

// Client → server events.
const (
	VehicleConnectEvent     = "vehicle-connect"
	VehicleUpdateEvent      = "vehicle-update"
	VehicleStopReachedEvent = "vehicle-stop-reached"
	SubscribeRouteEvent     = "subscribe-route"
	SubscribeVehicleEvent   = "subscribe-vehicle"
	UnsubscribeRouteEvent   = "unsubscribe-route"
	UnsubscribeVehicleEvent = "unsubscribe-vehicle"
)

// Server → client events.
const (
	PositionUpdateEvent = "vehicle-position-update"
	StopReachedEvent    = "stop-reached"
	ProximityAlertEvent = "proximity-alert"
)

// Envelope is the frame every message travels in, both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// VehicleConnect registers a vehicle feed for a route.
type VehicleConnect struct {
	VehicleID string `json:"vehicleId" validate:"required"`
	RouteID   string `json:"routeId" validate:"required"`
}

// VehicleUpdate is one position sample from a vehicle feed. Lat/Lng are
// pointers so a present-but-zero coordinate is distinguishable from a missing
// field; Speed defaults to 0 when absent.
type VehicleUpdate struct {
	VehicleID string   `json:"vehicleId" validate:"required"`
	RouteID   string   `json:"routeId" validate:"required"`
	Lat       *float64 `json:"lat" validate:"required"`
	Lng       *float64 `json:"lng" validate:"required"`
	Speed     *float64 `json:"speed"`
}

// StopReached is the explicit stop-arrival event, distinct from continuous
// position updates.
type StopReached struct {
	VehicleID string `json:"vehicleId" validate:"required"`
	StopID    string `json:"stopId" validate:"required"`
	StopIndex *int   `json:"stopIndex" validate:"required"`
}

// PositionUpdate is broadcast to route and vehicle topics. The timestamp is
// server-stamped, never client-supplied.
type PositionUpdate struct {
	VehicleID string  `json:"vehicleId"`
	RouteID   string  `json:"routeId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Speed     float64 `json:"speed"`
	Timestamp string  `json:"timestamp"`
}

// StopReachedBroadcast is emitted to the vehicle topic on explicit arrival.
type StopReachedBroadcast struct {
	VehicleID string `json:"vehicleId"`
	StopID    string `json:"stopId"`
	StopIndex int    `json:"stopIndex"`
	Timestamp string `json:"timestamp"`
}

// ProximityAlert is sent to a rider topic when their stop is a fixed number
// of stops ahead of the vehicle.
type ProximityAlert struct {
	VehicleID  string `json:"vehicleId"`
	RouteID    string `json:"routeId"`
	StopID     string `json:"stopId"`
	StopIndex  int    `json:"stopIndex"`
	StopName   string `json:"stopName"`
	EtaMinutes int    `json:"etaMinutes"`
}

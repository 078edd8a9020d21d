// Package store holds the interfaces to the external relational store. The
// core never caches subscription data across updates; every evaluation reads
// a fresh snapshot through these interfaces.
package store

import (
	"context"
	"time"

	"github.com/routewatch/routewatch/pkg/geo"
)

// Subscription binds a rider to a stop on a route. Alerts fire only when both
// IsActive (payment-gated) and NotificationsEnabled are true; the Postgres
// implementation filters on both.
type Subscription struct {
	ID                   string
	RiderID              string
	RouteID              string
	StopID               string
	StopIndex            int
	IsActive             bool
	NotificationsEnabled bool
}

// LocationRecord is one persisted position sample.
type LocationRecord struct {
	ID        string
	VehicleID string
	Lat       float64
	Lng       float64
	Speed     float64
	Timestamp time.Time
}

// StopSource fetches a route's stops ordered by their index.
type StopSource interface {
	FetchOrderedStops(ctx context.Context, routeID string) ([]geo.Stop, error)
}

// SubscriptionSource fetches subscriptions eligible for alerting on a route.
type SubscriptionSource interface {
	FetchActiveSubscriptions(ctx context.Context, routeID string) ([]Subscription, error)
}

// LocationSink persists location records. Callers issue writes through the
// worker pool; a failing sink must never stall the live path.
type LocationSink interface {
	PersistLocation(ctx context.Context, rec LocationRecord) error
}

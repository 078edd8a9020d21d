package state

import (
	"github.com/google/uuid"
	"github.com/routewatch/routewatch/pkg/transport"
)

// Manager owns all connection, rider and topic membership state. Broadcast
// helpers return snapshots so callers never send while a lock is held.
type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn *transport.Connection, ipAddr string) (*Connection, error)
	// DeregisterConnection detaches the connection from its rider and removes
	// it from every topic it joined. Must run on every disconnect.
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)

	// --- Rider Management ---
	// AssociateRider links a connection to a rider, creating the rider if they
	// don't exist.
	AssociateRider(connID uuid.UUID, riderID string) (*Rider, error)
	RiderConnectionCount(riderID string) (int, error)
	FindOldestRiderConnection(riderID string) (*Connection, bool)

	// --- Topic Membership ---
	// Join and Leave are idempotent no-ops when already in the requested state.
	Join(connID uuid.UUID, topic string) error
	Leave(connID uuid.UUID, topic string) error
	FindTopic(topic string) (*Topic, bool)
	// TopicConnections resolves a topic to a snapshot of member transports.
	// Topics with the rider: prefix resolve through the rider's connection set.
	TopicConnections(topic string) []*transport.Connection

	// AllConnections snapshots every live connection, used at shutdown.
	AllConnections() []*Connection
}

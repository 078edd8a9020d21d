package state

import (
	"time"

	"github.com/google/uuid"
	"github.com/routewatch/routewatch/pkg/transport"
)

// Connection is the session-level view of a single transport connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport *transport.Connection // The actual connection for sending messages
	Rider     *Rider                // Pointer to the owning rider (nil until associated)
	Topics    map[string]*Topic     // Topics this connection joined, keyed by topic name
	CreatedAt time.Time
}

// Rider is the canonical representation of an authenticated user, aggregating
// all of their connections. Alerts addressed to rider:<id> fan out to every
// connection here.
type Rider struct {
	ID          string
	Connections map[uuid.UUID]*Connection
}

// Topic is a named broadcast scope (route:<id>, vehicle:<id>). It exists only
// while it has members.
type Topic struct {
	Name    string
	Members map[uuid.UUID]*Connection
}

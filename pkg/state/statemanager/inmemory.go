package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/routewatch/routewatch/pkg/state"
	"github.com/routewatch/routewatch/pkg/transport"
)

type InMemoryManager struct {
	conns  map[uuid.UUID]*state.Connection
	riders map[string]*state.Rider
	topics map[string]*state.Topic

	connMu  sync.RWMutex
	riderMu sync.RWMutex
	topicMu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		riders: make(map[string]*state.Rider),
		topics: make(map[string]*state.Topic),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn *transport.Connection, ipAddr string) (*state.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: conn,
		Topics:    make(map[string]*state.Topic),
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.connMu.Lock()
	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		m.connMu.Unlock()
		return nil
	}
	delete(m.conns, connID)
	m.connMu.Unlock()

	// drop the connection from every topic it joined
	m.topicMu.Lock()
	for name, topic := range conn.Topics {
		delete(topic.Members, connID)
		if len(topic.Members) == 0 {
			delete(m.topics, name)
			m.logger.Debug("Removed empty topic", slog.String("topic", name))
		}
	}
	conn.Topics = make(map[string]*state.Topic)
	m.topicMu.Unlock()

	// detach conn from rider
	if conn.Rider != nil {
		m.riderMu.Lock()
		rider := conn.Rider
		delete(rider.Connections, connID)
		if len(rider.Connections) == 0 {
			delete(m.riders, rider.ID)
		}
		m.riderMu.Unlock()
		m.logger.Debug("Detached connection from rider", slog.String("connID", connID.String()), slog.String("riderID", rider.ID))
	}
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

// --- Rider Management ---

func (m *InMemoryManager) AssociateRider(connID uuid.UUID, riderID string) (*state.Rider, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.riderMu.Lock()
	defer m.riderMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, errors.New("cannot associate rider with unknown connection")
	}

	// Find or create the rider session.
	rider, exists := m.riders[riderID]
	if !exists {
		rider = &state.Rider{
			ID:          riderID,
			Connections: make(map[uuid.UUID]*state.Connection),
		}
		m.riders[riderID] = rider
		m.logger.Debug("Created new rider session", slog.String("riderID", riderID))
	}

	conn.Rider = rider
	rider.Connections[connID] = conn

	m.logger.Debug("Associated connection with rider", slog.String("connID", connID.String()), slog.String("riderID", riderID))
	return rider, nil
}

func (m *InMemoryManager) RiderConnectionCount(riderID string) (int, error) {
	m.riderMu.RLock()
	defer m.riderMu.RUnlock()

	rider, ok := m.riders[riderID]
	if !ok {
		return 0, nil // Rider doesn't exist yet, so they have 0 connections.
	}
	return len(rider.Connections), nil
}

func (m *InMemoryManager) FindOldestRiderConnection(riderID string) (*state.Connection, bool) {
	m.riderMu.RLock()
	defer m.riderMu.RUnlock()

	rider, ok := m.riders[riderID]
	if !ok {
		return nil, false
	}

	var oldestConn *state.Connection
	var oldestTime time.Time
	for _, conn := range rider.Connections {
		if oldestConn == nil || conn.CreatedAt.Before(oldestTime) {
			oldestConn = conn
			oldestTime = conn.CreatedAt
		}
	}
	if oldestConn == nil {
		return nil, false
	}
	return oldestConn, true
}

// --- Topic Membership ---

func (m *InMemoryManager) Join(connID uuid.UUID, topicName string) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.topicMu.Lock()
	defer m.topicMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot join topic: connection not found")
	}

	// Already a member; joining twice is a no-op.
	if _, exists := conn.Topics[topicName]; exists {
		return nil
	}

	topic, exists := m.topics[topicName]
	if !exists {
		topic = &state.Topic{
			Name:    topicName,
			Members: make(map[uuid.UUID]*state.Connection),
		}
		m.topics[topicName] = topic
	}

	conn.Topics[topicName] = topic
	topic.Members[connID] = conn

	m.logger.Debug("Connection joined topic", slog.String("connID", connID.String()), slog.String("topic", topicName))
	return nil
}

func (m *InMemoryManager) Leave(connID uuid.UUID, topicName string) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.topicMu.Lock()
	defer m.topicMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// Connection doesn't exist, so it can't be in the topic.
		return nil
	}

	topic, ok := m.topics[topicName]
	if !ok {
		return nil // Topic doesn't exist; leaving is a no-op.
	}

	delete(conn.Topics, topicName)
	delete(topic.Members, connID)

	// For memory hygiene, remove the topic if it's now empty.
	if len(topic.Members) == 0 {
		delete(m.topics, topicName)
		m.logger.Debug("Removed empty topic", slog.String("topic", topicName))
	}

	m.logger.Debug("Connection left topic", slog.String("connID", connID.String()), slog.String("topic", topicName))
	return nil
}

func (m *InMemoryManager) FindTopic(topicName string) (*state.Topic, bool) {
	m.topicMu.RLock()
	defer m.topicMu.RUnlock()
	topic, ok := m.topics[topicName]
	return topic, ok
}

// TopicConnections snapshots the member transports of a topic so the caller
// can fan out without holding membership locks during sends.
func (m *InMemoryManager) TopicConnections(topicName string) []*transport.Connection {
	if riderID, ok := state.RiderIDFromTopic(topicName); ok {
		return m.riderConnections(riderID)
	}

	m.topicMu.RLock()
	defer m.topicMu.RUnlock()

	topic, ok := m.topics[topicName]
	if !ok {
		return nil
	}
	conns := make([]*transport.Connection, 0, len(topic.Members))
	for _, member := range topic.Members {
		conns = append(conns, member.Transport)
	}
	return conns
}

func (m *InMemoryManager) riderConnections(riderID string) []*transport.Connection {
	m.riderMu.RLock()
	defer m.riderMu.RUnlock()

	rider, ok := m.riders[riderID]
	if !ok {
		return nil
	}
	conns := make([]*transport.Connection, 0, len(rider.Connections))
	for _, conn := range rider.Connections {
		conns = append(conns, conn.Transport)
	}
	return conns
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	return conns
}

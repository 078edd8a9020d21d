package registry

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Snapshot is the live state of one vehicle.
type Snapshot struct {
	VehicleID string    `json:"vehicleId"`
	RouteID   string    `json:"routeId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Speed     float64   `json:"speed"`
	StopIndex int       `json:"stopIndex"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the registry's backing state store. The registry serializes
// writes per vehicle id on top of it, so implementations only need to be
// safe for concurrent access, not atomic read-modify-write.
type Store interface {
	Get(ctx context.Context, vehicleID string) (Snapshot, bool)
	Set(ctx context.Context, vehicleID string, snap Snapshot)
	Delete(ctx context.Context, vehicleID string)
}

const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	vehicles map[string]Snapshot
}

// InMemoryStore shards the vehicle table so concurrent feeds don't contend
// on a single lock.
type InMemoryStore struct {
	shards [shardCount]*shard
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{vehicles: make(map[string]Snapshot)}
	}
	return s
}

func (s *InMemoryStore) shardFor(vehicleID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(vehicleID))
	return s.shards[h.Sum32()%shardCount]
}

func (s *InMemoryStore) Get(_ context.Context, vehicleID string) (Snapshot, bool) {
	sh := s.shardFor(vehicleID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	snap, ok := sh.vehicles[vehicleID]
	return snap, ok
}

func (s *InMemoryStore) Set(_ context.Context, vehicleID string, snap Snapshot) {
	sh := s.shardFor(vehicleID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.vehicles[vehicleID] = snap
}

func (s *InMemoryStore) Delete(_ context.Context, vehicleID string) {
	sh := s.shardFor(vehicleID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.vehicles, vehicleID)
}

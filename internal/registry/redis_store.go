package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps vehicle snapshots in Redis so multiple server instances
// can share the registry. Entries expire after the configured TTL, which
// also bounds stale vehicles that never disconnect cleanly.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ Store = (*RedisStore)(nil)

type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Expiry   time.Duration
}

func NewRedisStore(cfg RedisStoreConfig, logger *slog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ttl := cfg.Expiry
	if ttl == 0 {
		ttl = time.Hour
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "registry_store_redis")),
	}
}

func key(vehicleID string) string {
	return "vehicle:" + vehicleID
}

func (s *RedisStore) Get(ctx context.Context, vehicleID string) (Snapshot, bool) {
	raw, err := s.client.Get(ctx, key(vehicleID)).Result()
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		s.logger.Warn("Discarding undecodable vehicle snapshot", slog.String("vehicleID", vehicleID), slog.Any("error", err))
		return Snapshot{}, false
	}
	return snap, true
}

func (s *RedisStore) Set(ctx context.Context, vehicleID string, snap Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key(vehicleID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("Failed to write vehicle snapshot", slog.String("vehicleID", vehicleID), slog.Any("error", err))
	}
}

func (s *RedisStore) Delete(ctx context.Context, vehicleID string) {
	s.client.Del(ctx, key(vehicleID))
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

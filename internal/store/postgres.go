package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/routewatch/routewatch/pkg/geo"
)

// Postgres implements the three store interfaces against the relational
// schema owned by the CRUD service (routes, stops, subscriptions,
// bus_locations).
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ StopSource         = (*Postgres)(nil)
	_ SubscriptionSource = (*Postgres)(nil)
	_ LocationSink       = (*Postgres)(nil)
)

func Open(dsn string, logger *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Postgres{db: db, logger: logger.With(slog.String("component", "store_postgres"))}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) FetchOrderedStops(ctx context.Context, routeID string) ([]geo.Stop, error) {
	q := `SELECT id, name, latitude, longitude, "index"
          FROM stops WHERE route_id = $1 ORDER BY "index"`
	rows, err := p.db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	var stops []geo.Stop
	for rows.Next() {
		var s geo.Stop
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lng, &s.Index); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

func (p *Postgres) FetchActiveSubscriptions(ctx context.Context, routeID string) ([]Subscription, error) {
	q := `SELECT id, user_id, route_id, stop_id, stop_index, is_active, notifications_enabled
          FROM subscriptions
          WHERE route_id = $1 AND is_active AND notifications_enabled`
	rows, err := p.db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.RiderID, &s.RouteID, &s.StopID, &s.StopIndex, &s.IsActive, &s.NotificationsEnabled); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (p *Postgres) PersistLocation(ctx context.Context, rec LocationRecord) error {
	q := `INSERT INTO bus_locations (id, bus_id, latitude, longitude, speed, timestamp)
          VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := p.db.ExecContext(ctx, q, rec.ID, rec.VehicleID, rec.Lat, rec.Lng, rec.Speed, rec.Timestamp); err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

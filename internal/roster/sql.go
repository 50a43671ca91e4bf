package roster

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"trip-monitor/internal/trip"
)

// Open opens a pooled handle for the pgx or mysql driver.
func Open(driver, dsn string) (*sql.DB, error) {
	dsn, err := NormalizeDSN(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// ongoingTripsQuery uses no placeholders so it runs unchanged on both
// Postgres and MySQL.
const ongoingTripsQuery = `
SELECT trip_id,
       COALESCE(route_id, ''),
       COALESCE(vehicle_id, ''),
       COALESCE(driver_id, ''),
       status,
       started_at
FROM trips
WHERE status IN ('ongoing', 'in_progress', 'started')
ORDER BY trip_id`

// SQLSource reads ongoing trips straight from the transport database.
type SQLSource struct {
	db *sql.DB
}

func NewSQLSource(db *sql.DB) *SQLSource { return &SQLSource{db: db} }

func (s *SQLSource) FetchOngoing(ctx context.Context) ([]trip.OngoingTrip, error) {
	rows, err := s.db.QueryContext(ctx, ongoingTripsQuery)
	if err != nil {
		return nil, fmt.Errorf("query ongoing trips: %w", err)
	}
	defer rows.Close()

	var trips []trip.OngoingTrip
	for rows.Next() {
		var (
			t       trip.OngoingTrip
			id      string
			started sql.NullTime
		)
		if err := rows.Scan(&id, &t.RouteID, &t.VehicleID, &t.DriverID, &t.Status, &started); err != nil {
			return nil, err
		}
		t.TripID = trip.ID(id)
		if started.Valid {
			t.StartedAt = started.Time
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trips, nil
}

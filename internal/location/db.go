package location

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/randytsao24/timeright/internal/models"
)

// OpenCatalogDB opens a GTFS Postgres database through the pgx stdlib driver
func OpenCatalogDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging catalog db: %w", err)
	}
	return db, nil
}

// LoadFromDB reads parent stops from a GTFS stops table. Platforms with a
// parent_station are skipped, stations (location_type 1) become SUBWAY stops.
func (s *StopService) LoadFromDB(ctx context.Context, db *sql.DB) error {
	const q = `
SELECT stop_id,
       COALESCE(stop_name, ''),
       stop_lat,
       stop_lon,
       COALESCE(location_type::text, '0')
FROM stops
WHERE COALESCE(parent_station, '') = ''
  AND stop_lat IS NOT NULL AND stop_lon IS NOT NULL`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	var stops []models.Stop
	for rows.Next() {
		var (
			stop         models.Stop
			locationType string
		)
		if err := rows.Scan(&stop.ID, &stop.Name, &stop.Location.Lat, &stop.Location.Lng, &locationType); err != nil {
			return fmt.Errorf("scan stop: %w", err)
		}
		stop.Kind = models.StopKindBus
		if locationType == "1" {
			stop.Kind = models.StopKindSubway
		}
		stops = append(stops, stop)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate stops: %w", err)
	}
	if len(stops) == 0 {
		return fmt.Errorf("stops table has no usable rows")
	}

	s.Add(stops...)
	return nil
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roadwatch/roadwatch/internal/backend"
)

// Store runs the analytics queries against the DuckDB mirror.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ReplaceEntries swaps the full mirror contents. The entry set is
// small enough that a wholesale replace beats diffing.
func (s *Store) ReplaceEntries(ctx context.Context, entries []backend.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting mirror transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return fmt.Errorf("clearing entries mirror: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (id, title, severity, type, lon, lat, user_id, total_cracks, detection_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing mirror insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		totalCracks := 0
		status := ""
		if e.DetectionInfo != nil {
			totalCracks = e.DetectionInfo.TotalCracks
			status = e.DetectionInfo.Status
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Title, e.Severity, e.Type,
			e.Coordinates.Lon, e.Coordinates.Lat,
			e.User.ID, totalCracks, status, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entries mirror: %w", err)
	}
	return nil
}

// Stats is the aggregate picture served by the stats endpoint.
type Stats struct {
	TotalEntries       int            `json:"total_entries" doc:"Number of reports"`
	BySeverity         map[string]int `json:"by_severity" doc:"Report counts per severity"`
	ByType             map[string]int `json:"by_type" doc:"Report counts per defect type"`
	TotalCracks        int            `json:"total_cracks" doc:"Cracks found across all analyzed photos"`
	DetectionCompleted int            `json:"detection_completed" doc:"Reports with finished photo analysis"`
	NewestEntry        *time.Time     `json:"newest_entry,omitempty" doc:"Creation time of the latest report"`
}

// Stats aggregates the mirror.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT count(*),
		       coalesce(sum(total_cracks), 0),
		       count(*) FILTER (WHERE detection_status = 'completed'),
		       max(created_at)
		FROM entries`)
	var newest sql.NullTime
	if err := row.Scan(&stats.TotalEntries, &stats.TotalCracks, &stats.DetectionCompleted, &newest); err != nil {
		return Stats{}, fmt.Errorf("aggregating entries: %w", err)
	}
	if newest.Valid {
		t := newest.Time
		stats.NewestEntry = &t
	}

	if err := s.countsInto(ctx, "severity", stats.BySeverity); err != nil {
		return Stats{}, err
	}
	if err := s.countsInto(ctx, "type", stats.ByType); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (s *Store) countsInto(ctx context.Context, column string, dest map[string]int) error {
	// column is one of two fixed names, never user input.
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s, count(*) FROM entries WHERE %s IS NOT NULL AND %s != '' GROUP BY %s",
		column, column, column, column))
	if err != nil {
		return fmt.Errorf("grouping by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scanning %s counts: %w", column, err)
		}
		dest[key] = count
	}
	return rows.Err()
}

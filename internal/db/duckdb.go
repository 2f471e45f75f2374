// Package db keeps a local DuckDB mirror of the entries for analytics
// queries. The mirror is rebuilt from the cache on every refresh, so
// losing it costs nothing.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
}

// Get returns the singleton DuckDB connection with the entries schema
// in place.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0o755); err != nil {
			initErr = fmt.Errorf("failed to create duckdb directory: %w", err)
			return
		}

		dbPath := filepath.Join(duckdbDir, cfg.DBName+".duckdb")
		instance, initErr = sql.Open("duckdb", dbPath)
		if initErr != nil {
			return
		}

		initErr = createSchema(instance)
	})
	return instance, initErr
}

// Close closes the database connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}

func createSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id               VARCHAR PRIMARY KEY,
	title            VARCHAR NOT NULL,
	severity         VARCHAR NOT NULL,
	type             VARCHAR,
	lon              DOUBLE NOT NULL,
	lat              DOUBLE NOT NULL,
	user_id          VARCHAR,
	total_cracks     INTEGER DEFAULT 0,
	detection_status VARCHAR,
	created_at       TIMESTAMP
)`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create entries schema: %w", err)
	}
	return nil
}

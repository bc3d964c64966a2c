package artifact

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Index is the SQLite-backed retention ledger. Every artifact write
// records a row; the sweep deletes files older than the retention TTL
// together with their rows. The pipeline itself never deletes
// artifacts; retention is an explicit, externally triggered action.
type Index struct {
	db *sql.DB
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
`

// OpenIndex opens (creating if needed) the retention index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing artifact index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error { return ix.db.Close() }

// Record registers one written artifact.
func (ix *Index) Record(id, kind, name string, createdAt time.Time) error {
	_, err := ix.db.Exec(
		`INSERT INTO artifacts (id, kind, name, created_at) VALUES (?, ?, ?, ?)`,
		id, kind, name, createdAt.Unix(),
	)
	return err
}

// Count returns the number of tracked artifacts.
func (ix *Index) Count() (int, error) {
	var n int
	err := ix.db.QueryRow(`SELECT COUNT(*) FROM artifacts`).Scan(&n)
	return n, err
}

// Sweep removes artifacts created before now-ttl from both the
// controlled directory and the index, returning how many were removed.
// A file already gone on disk still has its row cleared.
func (ix *Index) Sweep(dir string, ttl time.Duration, now time.Time) (int, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("retention TTL must be positive")
	}
	cutoff := now.Add(-ttl).Unix()

	rows, err := ix.db.Query(`SELECT id, name FROM artifacts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("querying expired artifacts: %w", err)
	}
	type expired struct{ id, name string }
	var victims []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.name); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range victims {
		path := filepath.Join(dir, e.name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove expired artifact", "name", e.name, "error", err)
			continue
		}
		if _, err := ix.db.Exec(`DELETE FROM artifacts WHERE id = ?`, e.id); err != nil {
			return removed, fmt.Errorf("deleting index row for %s: %w", e.name, err)
		}
		removed++
	}
	return removed, nil
}

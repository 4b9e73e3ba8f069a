package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

var memSeq atomic.Int64

const defaultDBName = "geomon.db"

// Config locates the on-disk database.
type Config struct {
	// Path is the full database path. When empty, DataDir/geomon.db is used.
	Path    string
	DataDir string
}

func (c Config) dbPath() string {
	if c.Path != "" {
		return c.Path
	}
	dir := c.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, defaultDBName)
}

// Open opens the SQLite database with foreign keys on and applies pending
// migrations.
func Open(cfg Config) (*sql.DB, error) {
	path := cfg.dbPath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// modernc sqlite is single-writer; one connection avoids SQLITE_BUSY
	// churn under concurrent sweep units.
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens a fresh in-memory database for tests. Each call gets
// its own database; shared-cache naming would bleed state across tests.
func OpenMemory() (*sql.DB, error) {
	dsn := fmt.Sprintf("file:mem%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", memSeq.Add(1))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

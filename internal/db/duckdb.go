package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
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
	// Extensions are installed and loaded after opening, e.g. "httpfs".
	Extensions []string
}

// Get returns the process-wide DuckDB connection.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			initErr = eris.Wrap(err, "db: create duckdb directory")
			return
		}
		dbName := cfg.DBName
		if dbName == "" {
			dbName = "casemap"
		}
		instance, initErr = Open(filepath.Join(duckdbDir, dbName+".duckdb"), cfg.Extensions...)
	})
	return instance, initErr
}

// Open opens a standalone DuckDB database. An empty path is in-memory.
func Open(path string, extensions ...string) (*sql.DB, error) {
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, eris.Wrapf(err, "db: open %q", path)
	}
	if err := conn.Ping(); err != nil {
		conn.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "db: ping %q", path)
	}
	for _, ext := range extensions {
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			// Might already be installed, or offline.
			zap.L().Warn("db: extension not loaded", zap.String("extension", ext), zap.Error(err))
		}
	}
	return conn, nil
}

// Close closes the process-wide connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}

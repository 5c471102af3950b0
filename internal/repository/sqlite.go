package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/camal-digital/tarifario/internal/domain"
	_ "modernc.org/sqlite"
)

// sqlitePragmas tune the embedded database for a long-running service:
// WAL keeps readers off the writer's back and the busy timeout absorbs
// brief lock contention between the API and the audit recorder.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// openSQLite opens the embedded database. modernc.org/sqlite is pure Go,
// so the binary stays CGO-free.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./tarifario.db"
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	var dsn strings.Builder
	fmt.Fprintf(&dsn, "file:%s", path)
	for i, pragma := range sqlitePragmas {
		sep := "&"
		if i == 0 {
			sep = "?"
		}
		fmt.Fprintf(&dsn, "%s_pragma=%s", sep, pragma)
	}

	db, err := sql.Open("sqlite", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	driverSQLite   = "sqlite"
	driverPostgres = "pgx"
)

// DB wraps a sql.DB connection with the ledger's write worker. All writes
// go through the worker; reads use the pool directly.
type DB struct {
	*sql.DB
	driver string
	writer *Worker
}

// Open opens the activity ledger at location. A postgres:// or
// postgresql:// URL selects PostgreSQL; anything else is a SQLite file
// path, created with WAL mode enabled. Pending migrations are applied in
// both cases, so opening an existing store is safe.
func Open(location string) (*DB, error) {
	if IsPostgresDSN(location) {
		return openPostgres(location)
	}
	return openSQLite(location)
}

// IsPostgresDSN reports whether location names a PostgreSQL server.
func IsPostgresDSN(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "postgres://") || strings.HasPrefix(l, "postgresql://")
}

func openSQLite(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", dbPath)

	sqlDB, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection is taken by the write worker at a time; the rest
	// serve dashboard reads concurrently under WAL.
	sqlDB.SetMaxOpenConns(4)

	db := &DB{DB: sqlDB, driver: driverSQLite}

	if err := db.migrate(migrationsFS, "migrations"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.writer = NewWorker(sqlDB)
	slog.Info("database opened", "driver", driverSQLite, "path", dbPath)
	return db, nil
}

// Close drains the write worker and closes the pool.
func (db *DB) Close() error {
	if db.writer != nil {
		db.writer.Close()
	}
	return db.DB.Close()
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// rebind rewrites ? placeholders into $N for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// migrate runs all pending SQL migration files in dir, in order.
func (db *DB) migrate(fsys fs.FS, dir string) error {
	appliedAt := "DATETIME DEFAULT (datetime('now'))"
	if db.driver == driverPostgres {
		appliedAt = "TIMESTAMPTZ NOT NULL DEFAULT NOW()"
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at ` + appliedAt + `
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := db.QueryRow(db.rebind("SELECT COUNT(*) FROM schema_migrations WHERE version = ?"), version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec(db.rebind("INSERT INTO schema_migrations (version) VALUES (?)"), version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "driver", db.driver, "version", version)
	}

	return nil
}

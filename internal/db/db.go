package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to dsn with the named driver and returns the matching dialect.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, nil, err
	}
	var database *sql.DB
	switch d.Name() {
	case DriverMySQL:
		database, err = OpenMySQL(dsn)
	case DriverPostgres:
		database, err = OpenPostgres(dsn)
	default:
		database, err = OpenSQLite(dsn)
	}
	if err != nil {
		return nil, nil, err
	}
	return database, d, nil
}

func OpenMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// applied_at is scanned into time.Time
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// OpenSQLite opens a SQLite database. A single connection is kept so that
// in-memory databases stay visible to every query.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Name extracts the database name from dsn, used to scope advisory locks.
func Name(driver, dsn string) string {
	switch driver {
	case DriverMySQL:
		if cfg, err := mysql.ParseDSN(dsn); err == nil && cfg.DBName != "" {
			return cfg.DBName
		}
	case DriverPostgres:
		if cfg, err := pgx.ParseConfig(dsn); err == nil && cfg.Database != "" {
			return cfg.Database
		}
	case DriverSQLite:
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i != -1 {
			path = path[:i]
		}
		if path != "" {
			return filepath.Base(path)
		}
	}
	return "db"
}

// EnsureTable creates the applied changelog table when it does not exist.
func EnsureTable(ctx context.Context, db *sql.DB, d Dialect, table string) error {
	_, err := db.ExecContext(ctx, d.LogTableDDL(table))
	return err
}

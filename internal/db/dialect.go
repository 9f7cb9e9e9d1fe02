package db

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mirajehossain/gochangelog/internal/changelog"
)

// Dialect extends the rendering dialect with the DDL of the log table.
type Dialect interface {
	changelog.Dialect
	LogTableDDL(table string) string
}

// DialectFor returns the dialect registered for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case DriverMySQL, "mariadb":
		return MySQL{}, nil
	case DriverPostgres, "postgresql", "pgx":
		return Postgres{}, nil
	case DriverSQLite, "sqlite3":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}

type MySQL struct{}

func (MySQL) Name() string               { return DriverMySQL }
func (MySQL) Quote(s string) string      { return "`" + strings.ReplaceAll(s, "`", "``") + "`" }
func (MySQL) Placeholder(int) string     { return "?" }
func (MySQL) ColumnType(t string) string { return t }
func (MySQL) BoolLiteral(v bool) string  { return boolDigit(v) }
func (MySQL) ColumnPosition() bool       { return true }
func (MySQL) ColumnComments() bool       { return true }
func (MySQL) MultiAddColumn() bool       { return true }

func (MySQL) LogTableDDL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id VARCHAR(255) NOT NULL PRIMARY KEY,
  author VARCHAR(255) NOT NULL,
  filename VARCHAR(512) NOT NULL,
  checksum CHAR(64) NOT NULL,
  applied_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
  applied_by VARCHAR(255) NOT NULL,
  deployment_id CHAR(36) NOT NULL,
  execution_order BIGINT NOT NULL,
  duration_ms BIGINT NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`, table)
}

type Postgres struct{}

var (
	pgTinyintRe = regexp.MustCompile(`(?i)^tinyint(\(\d+\))?$`)
	pgTypes     = map[string]string{
		"datetime": "timestamp",
		"longtext": "text",
		"double":   "double precision",
	}
)

func (Postgres) Name() string             { return DriverPostgres }
func (Postgres) Quote(s string) string    { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) ColumnType(t string) string {
	if pgTinyintRe.MatchString(t) {
		return "smallint"
	}
	if m, ok := pgTypes[strings.ToLower(t)]; ok {
		return m
	}
	return t
}

func (Postgres) BoolLiteral(v bool) string { return strings.ToUpper(strconv.FormatBool(v)) }
func (Postgres) ColumnPosition() bool      { return false }
func (Postgres) ColumnComments() bool      { return false }
func (Postgres) MultiAddColumn() bool      { return true }

func (Postgres) LogTableDDL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  author TEXT NOT NULL,
  filename TEXT NOT NULL,
  checksum TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  applied_by TEXT NOT NULL,
  deployment_id TEXT NOT NULL,
  execution_order BIGINT NOT NULL,
  duration_ms BIGINT NOT NULL
)`, table)
}

type SQLite struct{}

func (SQLite) Name() string               { return DriverSQLite }
func (SQLite) Quote(s string) string      { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
func (SQLite) Placeholder(int) string     { return "?" }
func (SQLite) ColumnType(t string) string { return t }
func (SQLite) BoolLiteral(v bool) string  { return boolDigit(v) }
func (SQLite) ColumnPosition() bool       { return false }
func (SQLite) ColumnComments() bool       { return false }
func (SQLite) MultiAddColumn() bool       { return false }

func (SQLite) LogTableDDL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  author TEXT NOT NULL,
  filename TEXT NOT NULL,
  checksum TEXT NOT NULL,
  applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  applied_by TEXT NOT NULL,
  deployment_id TEXT NOT NULL,
  execution_order INTEGER NOT NULL,
  duration_ms INTEGER NOT NULL
)`, table)
}

func boolDigit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Package changelog discovers and parses changesets from formatted SQL and
// structured YAML changelog files.
package changelog

import (
	"strconv"
	"strings"

	"github.com/mirajehossain/gochangelog/internal/checksum"
)

// ChangeSet is an ordered, atomic unit of schema or data migration.
type ChangeSet struct {
	ID         string
	Author     string
	Comment    string
	Source     string // file the changeset was read from
	Statements []Statement
	Checksum   string
}

// Key returns the author:id pair that identifies the changeset in its file.
func (c ChangeSet) Key() string { return c.Author + ":" + c.ID }

func (c *ChangeSet) computeChecksum() {
	texts := make([]string, len(c.Statements))
	for i, s := range c.Statements {
		texts[i] = s.Canonical()
	}
	c.Checksum = checksum.Statements(texts)
}

// Dialect renders dialect-dependent SQL fragments. Implementations live in
// internal/db.
type Dialect interface {
	Name() string
	Quote(ident string) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	ColumnType(t string) string
	BoolLiteral(v bool) string
	// ColumnPosition reports whether ADD COLUMN ... AFTER is supported.
	ColumnPosition() bool
	// ColumnComments reports whether inline column COMMENT is supported.
	ColumnComments() bool
	// MultiAddColumn reports whether one ALTER TABLE may add several columns.
	MultiAddColumn() bool
}

// Compare orders changeset ids. Ids made only of digits compare numerically,
// anything else falls back to byte order.
func Compare(a, b string) int {
	if isDigits(a) && isDigits(b) {
		a, b = strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValueKind tells how a column value is bound or rendered.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumeric
	ValueBoolean
	ValueComputed
	ValueJSON
)

// Value is a typed column value. Raw holds the textual form; for ValueJSON it
// is the encoded document, which stays opaque to the runner.
type Value struct {
	Kind ValueKind
	Raw  string
}

// Arg converts v to a driver argument. Computed values have no argument form.
func (v Value) Arg() any {
	switch v.Kind {
	case ValueNull:
		return nil
	case ValueNumeric:
		if i, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(v.Raw, 64); err == nil {
			return f
		}
		return v.Raw
	case ValueBoolean:
		return v.Raw == "true"
	default:
		return v.Raw
	}
}

// Literal renders v as inline SQL, for DDL defaults and canonical text.
func (v Value) Literal(d Dialect) string {
	switch v.Kind {
	case ValueNull:
		return "NULL"
	case ValueNumeric, ValueComputed:
		return v.Raw
	case ValueBoolean:
		if d == nil {
			return strings.ToUpper(v.Raw)
		}
		return d.BoolLiteral(v.Raw == "true")
	default:
		return quoteString(v.Raw)
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

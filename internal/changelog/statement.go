package changelog

import (
	"errors"
	"fmt"
	"strings"
)

// Statement is one step of a changeset. Render produces the query for a
// target dialect; Canonical is the dialect-independent form that feeds the
// checksum.
type Statement interface {
	Render(d Dialect) (query string, args []any, err error)
	Canonical() string
}

// RawSQL is opaque SQL text, executed as written.
type RawSQL struct {
	SQL string
}

func (s RawSQL) Render(Dialect) (string, []any, error) { return s.SQL, nil, nil }
func (s RawSQL) Canonical() string                     { return s.SQL }

// Column describes a column added by AddColumn.
type Column struct {
	Name     string
	Type     string
	Default  *Value
	Nullable bool
	Remarks  string
	After    string // insert immediately after this column when supported
}

// AddColumn adds columns to an existing table. Where the dialect allows it
// the columns go into a single ALTER TABLE.
type AddColumn struct {
	Table   string
	Columns []Column
}

// Expander is implemented by statements that some dialects must run as
// several queries.
type Expander interface {
	Expand(d Dialect) []Statement
}

// Expand splits s into one AddColumn per column when d cannot add several
// columns in one ALTER TABLE.
func (s AddColumn) Expand(d Dialect) []Statement {
	if len(s.Columns) <= 1 || d.MultiAddColumn() {
		return []Statement{s}
	}
	out := make([]Statement, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = AddColumn{Table: s.Table, Columns: []Column{c}}
	}
	return out
}

func (s AddColumn) Render(d Dialect) (string, []any, error) {
	if s.Table == "" || len(s.Columns) == 0 {
		return "", nil, errors.New("addColumn requires a table and at least one column")
	}
	for _, c := range s.Columns {
		if c.Name == "" || c.Type == "" {
			return "", nil, errors.New("addColumn requires column name and type")
		}
	}
	if len(s.Columns) > 1 && !d.MultiAddColumn() {
		return "", nil, fmt.Errorf("%s adds one column per ALTER TABLE", d.Name())
	}
	return s.render(d), nil, nil
}

func (s AddColumn) Canonical() string { return s.render(nil) }

func (s AddColumn) render(d Dialect) string {
	quote := plainIdent
	if d != nil {
		quote = d.Quote
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s", quote(s.Table))
	for i, c := range s.Columns {
		if i > 0 {
			b.WriteByte(',')
		}
		typ := c.Type
		if d != nil {
			typ = d.ColumnType(typ)
		}
		fmt.Fprintf(&b, " ADD COLUMN %s %s", quote(c.Name), typ)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if c.Default != nil {
			b.WriteString(" DEFAULT " + c.Default.Literal(d))
		}
		if c.Remarks != "" && (d == nil || d.ColumnComments()) {
			b.WriteString(" COMMENT " + quoteString(c.Remarks))
		}
		if c.After != "" && (d == nil || d.ColumnPosition()) {
			b.WriteString(" AFTER " + quote(c.After))
		}
	}
	return b.String()
}

// ColumnValue pairs a column name with its value.
type ColumnValue struct {
	Name  string
	Value Value
}

// Insert inserts one row.
type Insert struct {
	Table   string
	Columns []ColumnValue
}

func (s Insert) Render(d Dialect) (string, []any, error) {
	if s.Table == "" || len(s.Columns) == 0 {
		return "", nil, errors.New("insert requires a table and at least one column")
	}
	names := make([]string, len(s.Columns))
	marks := make([]string, len(s.Columns))
	var args []any
	for i, c := range s.Columns {
		names[i] = d.Quote(c.Name)
		if c.Value.Kind == ValueComputed {
			marks[i] = c.Value.Raw
			continue
		}
		args = append(args, c.Value.Arg())
		marks[i] = d.Placeholder(len(args))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(s.Table), strings.Join(names, ", "), strings.Join(marks, ", "))
	return q, args, nil
}

func (s Insert) Canonical() string {
	names := make([]string, len(s.Columns))
	vals := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
		vals[i] = c.Value.Literal(nil)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.Table, strings.Join(names, ", "), strings.Join(vals, ", "))
}

// Update sets columns on the rows matched by Where. An empty Where updates
// every row.
type Update struct {
	Table   string
	Columns []ColumnValue
	Where   string
}

func (s Update) Render(d Dialect) (string, []any, error) {
	if s.Table == "" || len(s.Columns) == 0 {
		return "", nil, errors.New("update requires a table and at least one column")
	}
	sets := make([]string, len(s.Columns))
	var args []any
	for i, c := range s.Columns {
		if c.Value.Kind == ValueComputed {
			sets[i] = d.Quote(c.Name) + " = " + c.Value.Raw
			continue
		}
		args = append(args, c.Value.Arg())
		sets[i] = d.Quote(c.Name) + " = " + d.Placeholder(len(args))
	}
	q := fmt.Sprintf("UPDATE %s SET %s", d.Quote(s.Table), strings.Join(sets, ", "))
	if s.Where != "" {
		q += " WHERE " + s.Where
	}
	return q, args, nil
}

func (s Update) Canonical() string {
	sets := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		sets[i] = c.Name + " = " + c.Value.Literal(nil)
	}
	q := fmt.Sprintf("UPDATE %s SET %s", s.Table, strings.Join(sets, ", "))
	if s.Where != "" {
		q += " WHERE " + s.Where
	}
	return q
}

func plainIdent(s string) string { return s }

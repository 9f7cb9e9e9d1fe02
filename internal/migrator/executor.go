package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mirajehossain/gochangelog/internal/changelog"
	"github.com/mirajehossain/gochangelog/internal/db"
)

// TxBeginner is satisfied by *sql.DB and *sql.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Executor applies a single changeset atomically: every statement and the
// applied record commit together, or nothing does.
type Executor struct {
	Dialect db.Dialect
	Storage *Storage
}

type query struct {
	sql  string
	args []any
}

// Render returns the SQL a changeset would execute, without touching the
// target. A statement that cannot be rendered fails with *ApplyError. Statement
// indexes count queries after dialect expansion.
func (e *Executor) Render(cs changelog.ChangeSet) ([]string, error) {
	qs, err := e.render(cs)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.sql
	}
	return out, nil
}

func (e *Executor) render(cs changelog.ChangeSet) ([]query, error) {
	qs := make([]query, 0, len(cs.Statements))
	for _, s := range cs.Statements {
		parts := []changelog.Statement{s}
		if x, ok := s.(changelog.Expander); ok {
			parts = x.Expand(e.Dialect)
		}
		for _, p := range parts {
			sqlText, args, err := p.Render(e.Dialect)
			if err != nil {
				return nil, &ApplyError{ChangeSetID: cs.ID, StatementIndex: len(qs), Err: err}
			}
			qs = append(qs, query{sql: sqlText, args: args})
		}
	}
	return qs, nil
}

// Apply runs cs in one transaction on conn and inserts rec, completed with the
// changeset's identity, timing and checksum, before committing. It returns
// the record as written.
//
// On MySQL every DDL statement commits implicitly, so a failure after an
// ALTER leaves the earlier statements in place even though the record is
// not written.
func (e *Executor) Apply(ctx context.Context, conn TxBeginner, cs changelog.ChangeSet, rec Record) (Record, error) {
	qs, err := e.render(cs)
	if err != nil {
		return rec, err
	}

	start := time.Now()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return rec, fmt.Errorf("begin changeset %s: %w", cs.ID, classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	for i, q := range qs {
		if _, err := tx.ExecContext(ctx, q.sql, q.args...); err != nil {
			return rec, &ApplyError{ChangeSetID: cs.ID, StatementIndex: i, Err: classify(err)}
		}
	}

	rec.ID = cs.ID
	rec.Author = cs.Author
	rec.Filename = cs.Source
	rec.Checksum = cs.Checksum
	rec.AppliedAt = time.Now().UTC()
	rec.DurationMS = time.Since(start).Milliseconds()
	if err := e.Storage.Record(ctx, tx, rec); err != nil {
		return rec, e.recordErr(cs, err)
	}
	if err := tx.Commit(); err != nil {
		return rec, e.recordErr(cs, err)
	}
	return rec, nil
}

func (e *Executor) recordErr(cs changelog.ChangeSet, err error) error {
	if db.IsDuplicate(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateApplication, cs.ID)
	}
	return fmt.Errorf("record changeset %s: %w", cs.ID, classify(err))
}

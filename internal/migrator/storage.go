package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mirajehossain/gochangelog/internal/db"
)

const recordColumns = "id, author, filename, checksum, applied_at, applied_by, deployment_id, execution_order, duration_ms"

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Storage is the applied changelog table.
type Storage struct {
	DB      *sql.DB
	Dialect db.Dialect
	Table   string
}

func (s *Storage) Ensure(ctx context.Context) error {
	return db.EnsureTable(ctx, s.DB, s.Dialect, s.Table)
}

func (s *Storage) Contains(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE id = %s`, s.Table, s.Dialect.Placeholder(1)), id,
	).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *Storage) GetAll(ctx context.Context) (map[string]Record, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s`, recordColumns, s.Table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Author, &r.Filename, &r.Checksum, &r.AppliedAt, &r.AppliedBy,
			&r.DeploymentID, &r.ExecutionOrder, &r.DurationMS); err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

func (s *Storage) MaxExecutionOrder(ctx context.Context) (int64, error) {
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(execution_order), 0) FROM %s`, s.Table))
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

// Record inserts r through q, which is normally the changeset's transaction.
// A nil q writes through the pool. An existing id fails with the driver's
// unique violation; records are never overwritten.
func (s *Storage) Record(ctx context.Context, q Execer, r Record) error {
	if q == nil {
		q = s.DB
	}
	marks := make([]string, 9)
	for i := range marks {
		marks[i] = s.Dialect.Placeholder(i + 1)
	}
	_, err := q.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, s.Table, recordColumns, strings.Join(marks, ", ")),
		r.ID, r.Author, r.Filename, r.Checksum, r.AppliedAt, r.AppliedBy, r.DeploymentID, r.ExecutionOrder, r.DurationMS,
	)
	return err
}

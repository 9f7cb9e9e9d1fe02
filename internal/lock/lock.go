package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

var ErrNotAcquired = errors.New("failed to acquire advisory lock (timeout or error)")

// Locker serializes changelog runs against one target.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) error
	Release(ctx context.Context) error
	Key() string
}

// New returns the locker suited to driver: GET_LOCK for mysql,
// pg_try_advisory_lock for postgres, a process mutex otherwise.
func New(driver string, db *sql.DB, key string) Locker {
	switch driver {
	case "mysql":
		return NewMySQL(db, key)
	case "postgres":
		return NewPostgres(db, key)
	}
	return NewLocal(key)
}

func KeyFor(database, table string) string {
	return fmt.Sprintf("gochangelog:%s:%s", database, table)
}

// MySQL advisory lock using GET_LOCK/RELEASE_LOCK on a dedicated connection.
type MySQL struct {
	db   *sql.DB
	conn *sql.Conn
	key  string
	held bool
}

func NewMySQL(db *sql.DB, key string) *MySQL {
	return &MySQL{db: db, key: key}
}

func (m *MySQL) Acquire(ctx context.Context, timeout time.Duration) error {
	if m.held {
		return nil
	}
	var err error
	m.conn, err = m.db.Conn(ctx)
	if err != nil {
		return err
	}
	// GET_LOCK(name, timeout_seconds)
	row := m.conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", m.key, int(timeout.Seconds()))
	var got sql.NullInt64
	if err := row.Scan(&got); err != nil {
		_ = m.conn.Close()
		return err
	}
	if !got.Valid || got.Int64 != 1 {
		_ = m.conn.Close()
		return ErrNotAcquired
	}
	m.held = true
	return nil
}

func (m *MySQL) Release(ctx context.Context) error {
	if !m.held || m.conn == nil {
		return nil
	}
	row := m.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.key)
	var rel sql.NullInt64
	_ = row.Scan(&rel) // do not fail on release
	m.held = false
	return m.conn.Close()
}

func (m *MySQL) Key() string { return m.key }

// Postgres holds a session-level advisory lock. The lock belongs to the
// session, so acquire and release run on the same dedicated connection.
type Postgres struct {
	db       *sql.DB
	conn     *sql.Conn
	key      string
	held     bool
	interval time.Duration
}

func NewPostgres(db *sql.DB, key string) *Postgres {
	return &Postgres{db: db, key: key, interval: 250 * time.Millisecond}
}

func (p *Postgres) Acquire(ctx context.Context, timeout time.Duration) error {
	if p.held {
		return nil
	}
	var err error
	p.conn, err = p.db.Conn(ctx)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		var got bool
		if err := p.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", hashKey(p.key)).Scan(&got); err != nil {
			_ = p.conn.Close()
			return err
		}
		if got {
			p.held = true
			return nil
		}
		if time.Now().After(deadline) {
			_ = p.conn.Close()
			return ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			_ = p.conn.Close()
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

func (p *Postgres) Release(ctx context.Context) error {
	if !p.held || p.conn == nil {
		return nil
	}
	_, _ = p.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", hashKey(p.key))
	p.held = false
	return p.conn.Close()
}

func (p *Postgres) Key() string { return p.key }

var localLocks sync.Map // key -> chan struct{}

// Local is a process-wide lock for targets without advisory locks, such as
// SQLite whose own file locking covers other processes.
type Local struct {
	key  string
	sem  chan struct{}
	held bool
}

func NewLocal(key string) *Local {
	sem, _ := localLocks.LoadOrStore(key, make(chan struct{}, 1))
	return &Local{key: key, sem: sem.(chan struct{})}
}

func (l *Local) Acquire(ctx context.Context, timeout time.Duration) error {
	if l.held {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.sem <- struct{}{}:
		l.held = true
		return nil
	case <-timer.C:
		return ErrNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) Release(context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	<-l.sem
	return nil
}

func (l *Local) Key() string { return l.key }

// hashKey maps a lock name onto the bigint key space of pg advisory locks.
func hashKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // truncation is intended
}

package migrator

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirajehossain/gochangelog/changelogs"
	"github.com/mirajehossain/gochangelog/internal/changelog"
	"github.com/mirajehossain/gochangelog/internal/db"
	"github.com/mirajehossain/gochangelog/internal/lock"
)

const targetSchema = `
CREATE TABLE ai_agent (id TEXT PRIMARY KEY, agent_name TEXT, chat_history_conf INTEGER);
CREATE TABLE ai_agent_template (id TEXT PRIMARY KEY, agent_name TEXT, chat_history_conf INTEGER);
CREATE TABLE ai_model_provider (
  id TEXT PRIMARY KEY, model_type TEXT, provider_code TEXT, name TEXT, fields TEXT,
  sort INTEGER, create_date TIMESTAMP);
CREATE TABLE ai_model_config (
  id TEXT PRIMARY KEY, model_type TEXT, model_code TEXT, model_name TEXT,
  is_default INTEGER, is_enabled INTEGER, config_json TEXT, doc_link TEXT, remark TEXT,
  sort INTEGER, create_date TIMESTAMP);
INSERT INTO ai_agent (id, agent_name, chat_history_conf) VALUES ('a1', 'assistant', 1);
`

func newSQLiteRunner(t *testing.T, schema string) *Runner {
	t.Helper()
	database, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	if schema != "" {
		_, err = database.Exec(schema)
		require.NoError(t, err)
	}

	r := NewRunner(database, db.SQLite{}, "schema_changelog", "tester")
	r.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	r.Retry = RetryPolicy{MaxAttempts: 1}
	r.Locker = lock.NewLocal(lock.KeyFor(t.Name(), "schema_changelog"))
	require.NoError(t, r.Ensure(context.Background()))
	return r
}

func sampleRegistry() *changelog.Registry {
	return changelog.NewRegistry(changelog.Source{FS: changelogs.FS, RootDir: "."})
}

func columnsOf(t *testing.T, database *sql.DB, table string) map[string]bool {
	t.Helper()
	rows, err := database.Query(`SELECT name, "notnull" FROM pragma_table_info(?)`, table)
	require.NoError(t, err)
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var (
			name    string
			notNull int
		)
		require.NoError(t, rows.Scan(&name, &notNull))
		out[name] = notNull == 0
	}
	require.NoError(t, rows.Err())
	return out
}

func count(t *testing.T, database *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRow(query, args...).Scan(&n))
	return n
}

func TestUpSamplePayload(t *testing.T) {
	r := newSQLiteRunner(t, targetSchema)
	ctx := context.Background()

	applied, err := r.Up(ctx, sampleRegistry(), false)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "202510221000", applied[0].ID)
	assert.Equal(t, "202510221001", applied[1].ID)
	assert.Equal(t, int64(1), applied[0].ExecutionOrder)
	assert.Equal(t, int64(2), applied[1].ExecutionOrder)
	assert.Equal(t, r.DeploymentID, applied[1].DeploymentID)

	assert.Equal(t, 2, count(t, r.DB, `SELECT COUNT(*) FROM schema_changelog`))
	assert.Equal(t, 2, count(t, r.DB,
		`SELECT COUNT(*) FROM ai_model_provider WHERE id IN ('SYSTEM_V2V_LiveKit', 'SYSTEM_V2V_ElevenLabs')`))
	assert.Equal(t, 2, count(t, r.DB, `SELECT COUNT(*) FROM ai_model_config WHERE model_type = 'V2V'`))

	for _, table := range []string{"ai_agent", "ai_agent_template"} {
		cols := columnsOf(t, r.DB, table)
		assert.True(t, cols["enable_voice2voice"], "%s.enable_voice2voice should be nullable", table)
		assert.True(t, cols["v2v_model_id"], "%s.v2v_model_id should be nullable", table)
	}
	assert.Equal(t, 1, count(t, r.DB, `SELECT COUNT(*) FROM ai_agent WHERE enable_voice2voice = 0`))

	var cfg string
	require.NoError(t, r.DB.QueryRow(`SELECT config_json FROM ai_model_config WHERE id = 'V2V_ElevenLabs'`).Scan(&cfg))
	assert.JSONEq(t, `{"type":"elevenlabs","api_key":"","agent_id":"","signed_url":"","audio_format":"pcm_16000"}`, cfg)
}

func TestUpIsIdempotent(t *testing.T) {
	r := newSQLiteRunner(t, targetSchema)
	ctx := context.Background()

	_, err := r.Up(ctx, sampleRegistry(), false)
	require.NoError(t, err)

	started := 0
	r.Progress = func(stage string, _ changelog.ChangeSet, _ *Record, _ error) {
		if stage == StageStart {
			started++
		}
	}
	applied, err := r.Up(ctx, sampleRegistry(), false)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Zero(t, started)
	assert.Equal(t, 2, count(t, r.DB, `SELECT COUNT(*) FROM schema_changelog`))
}

func TestUpOrdersByIDNotFileName(t *testing.T) {
	r := newSQLiteRunner(t, "")
	fsys := fstest.MapFS{
		"a_seed.sql":   {Data: []byte("-- changeset dev:202510221001\nINSERT INTO v2v (id) VALUES ('LiveKit');\n")},
		"b_create.sql": {Data: []byte("-- changeset dev:202510221000\nCREATE TABLE v2v (id TEXT PRIMARY KEY);\n")},
	}
	applied, err := r.Up(context.Background(), changelog.NewRegistry(changelog.Source{FS: fsys}), false)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "202510221000", applied[0].ID)
	assert.Equal(t, 1, count(t, r.DB, `SELECT COUNT(*) FROM v2v`))
}

type snapshot struct {
	schema []string
	rows   []string
}

func takeSnapshot(t *testing.T, database *sql.DB) snapshot {
	t.Helper()
	var s snapshot
	rows, err := database.Query(`SELECT sql FROM sqlite_master WHERE sql IS NOT NULL ORDER BY name`)
	require.NoError(t, err)
	for rows.Next() {
		var ddl string
		require.NoError(t, rows.Scan(&ddl))
		s.schema = append(s.schema, ddl)
	}
	require.NoError(t, rows.Err())
	rows.Close()

	rows, err = database.Query(`SELECT id || ':' || name FROM ai_model_provider ORDER BY id`)
	require.NoError(t, err)
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		s.rows = append(s.rows, v)
	}
	require.NoError(t, rows.Err())
	rows.Close()
	return s
}

func TestFailedChangeSetLeavesNoTrace(t *testing.T) {
	r := newSQLiteRunner(t, targetSchema)
	ctx := context.Background()
	fsys := fstest.MapFS{"1.sql": {Data: []byte(`-- changeset dev:1
INSERT INTO ai_model_provider (id, name) VALUES ('SYSTEM_V2V_LiveKit', 'LiveKit');
ALTER TABLE ai_agent ADD COLUMN v2v_model_id varchar(32);
INSERT INTO ai_model_provider (id, name) VALUES ('SYSTEM_V2V_LiveKit', 'again');
`)}}

	before := takeSnapshot(t, r.DB)
	_, err := r.Up(ctx, changelog.NewRegistry(changelog.Source{FS: fsys}), false)

	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, "1", applyErr.ChangeSetID)
	assert.Equal(t, 2, applyErr.StatementIndex)
	assert.Equal(t, before, takeSnapshot(t, r.DB))
	assert.Zero(t, count(t, r.DB, `SELECT COUNT(*) FROM schema_changelog`))
}

func TestConstraintViolationInSamplePayload(t *testing.T) {
	r := newSQLiteRunner(t, targetSchema+
		`INSERT INTO ai_model_provider (id, name) VALUES ('SYSTEM_V2V_ElevenLabs', 'existing');`)
	ctx := context.Background()

	applied, err := r.Up(ctx, sampleRegistry(), false)
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, "202510221001", applyErr.ChangeSetID)
	assert.Equal(t, 1, applyErr.StatementIndex)

	require.Len(t, applied, 1)
	assert.Zero(t, count(t, r.DB, `SELECT COUNT(*) FROM ai_model_provider WHERE id = 'SYSTEM_V2V_LiveKit'`))
	assert.Zero(t, count(t, r.DB, `SELECT COUNT(*) FROM schema_changelog WHERE id = '202510221001'`))
	assert.Equal(t, 1, count(t, r.DB, `SELECT COUNT(*) FROM schema_changelog WHERE id = '202510221000'`))
}

func TestApplyUpSkipsConcurrentApplication(t *testing.T) {
	r := newSQLiteRunner(t, "CREATE TABLE t (id INTEGER PRIMARY KEY);")
	ctx := context.Background()
	cs := rawChangeSet("7", "INSERT INTO t (id) VALUES (1)")
	require.NoError(t, r.Storage.Record(ctx, nil, Record{ID: "7", Author: "other", Checksum: cs.Checksum, DeploymentID: "x", ExecutionOrder: 4}))

	var stages []string
	r.Progress = func(stage string, _ changelog.ChangeSet, _ *Record, _ error) { stages = append(stages, stage) }
	applied, err := r.ApplyUp(ctx, []changelog.ChangeSet{cs}, false)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Equal(t, []string{StageStart, StageSkipped}, stages)
	assert.Zero(t, count(t, r.DB, `SELECT COUNT(*) FROM t`))
}

func newMockRunner(t *testing.T) (*Runner, sqlmock.Sqlmock, *[]string) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	r := NewRunner(database, db.MySQL{}, "schema_changelog", "tester")
	r.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	r.Retry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	var stages []string
	r.Progress = func(stage string, _ changelog.ChangeSet, _ *Record, _ error) { stages = append(stages, stage) }
	return r, mock, &stages
}

var (
	maxOrderSQL = regexp.QuoteMeta("SELECT COALESCE(MAX(execution_order), 0) FROM schema_changelog")
	containsSQL = regexp.QuoteMeta("SELECT 1 FROM schema_changelog WHERE id = ?")
	recordSQL   = regexp.QuoteMeta("INSERT INTO schema_changelog (id, author")
	seedSQL     = regexp.QuoteMeta("INSERT INTO t (id) VALUES (1)")
)

func TestApplyUpSkipsWhenLostCommitLanded(t *testing.T) {
	r, mock, stages := newMockRunner(t)
	cs := rawChangeSet("9", "INSERT INTO t (id) VALUES (1)")

	mock.ExpectQuery(maxOrderSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(3)))
	mock.ExpectBegin()
	mock.ExpectExec(seedSQL).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(recordSQL).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(mysql.ErrInvalidConn)
	mock.ExpectQuery(containsSQL).WithArgs("9").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(maxOrderSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(4)))

	applied, err := r.ApplyUp(context.Background(), []changelog.ChangeSet{cs}, false)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Equal(t, []string{StageStart, StageSkipped}, *stages)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyUpReappliesAfterConnectivityFailure(t *testing.T) {
	r, mock, stages := newMockRunner(t)
	cs := rawChangeSet("9", "INSERT INTO t (id) VALUES (1)")

	mock.ExpectQuery(maxOrderSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(3)))
	mock.ExpectBegin()
	mock.ExpectExec(seedSQL).WillReturnError(mysql.ErrInvalidConn)
	mock.ExpectRollback()
	mock.ExpectQuery(containsSQL).WithArgs("9").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectBegin()
	mock.ExpectExec(seedSQL).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(recordSQL).
		WithArgs("9", "dev", "log/9.sql", "sum-9", sqlmock.AnyArg(), "tester", r.DeploymentID, int64(4), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := r.ApplyUp(context.Background(), []changelog.ChangeSet{cs}, false)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, int64(4), applied[0].ExecutionOrder)
	assert.Equal(t, []string{StageStart, StageSuccess}, *stages)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyUpGivesUpAfterMaxAttempts(t *testing.T) {
	r, mock, stages := newMockRunner(t)
	r.Retry.MaxAttempts = 2
	cs := rawChangeSet("9", "INSERT INTO t (id) VALUES (1)")

	mock.ExpectQuery(maxOrderSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(0)))
	mock.ExpectBegin()
	mock.ExpectExec(seedSQL).WillReturnError(mysql.ErrInvalidConn)
	mock.ExpectRollback()
	mock.ExpectQuery(containsSQL).WithArgs("9").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectBegin()
	mock.ExpectExec(seedSQL).WillReturnError(mysql.ErrInvalidConn)
	mock.ExpectRollback()

	_, err := r.ApplyUp(context.Background(), []changelog.ChangeSet{cs}, false)
	var connErr *ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, []string{StageStart, StageError}, *stages)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpDryRunExecutesNothing(t *testing.T) {
	r := newSQLiteRunner(t, targetSchema)
	applied, err := r.Up(context.Background(), sampleRegistry(), true)
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	assert.Zero(t, count(t, r.DB, `SELECT COUNT(*) FROM schema_changelog`))
	assert.False(t, columnsOf(t, r.DB, "ai_agent")["v2v_model_id"])
}

func TestSync(t *testing.T) {
	r := newSQLiteRunner(t, targetSchema)
	ctx := context.Background()

	_, err := r.Sync(ctx, sampleRegistry(), "999")
	require.ErrorIs(t, err, ErrNoSuchChangeSet)

	synced, err := r.Sync(ctx, sampleRegistry(), "202510221000")
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.NotContains(t, columnsOf(t, r.DB, "ai_agent"), "v2v_model_id")

	plan, err := r.Plan(ctx, sampleRegistry())
	require.NoError(t, err)
	require.Len(t, plan.Pending, 1)
	assert.Equal(t, "202510221001", plan.Pending[0].ID)

	synced, err = r.Sync(ctx, sampleRegistry(), "")
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, int64(2), synced[0].ExecutionOrder)
}

func TestValidateReportsDrift(t *testing.T) {
	r := newSQLiteRunner(t, targetSchema)
	ctx := context.Background()
	require.NoError(t, r.Storage.Record(ctx, nil, Record{ID: "202510221000", Checksum: "edited", DeploymentID: "x", ExecutionOrder: 1}))

	_, err := r.Validate(ctx, sampleRegistry())
	assert.True(t, errors.Is(err, ErrDrift))
}

func TestUpReportsHeldLock(t *testing.T) {
	r := newSQLiteRunner(t, targetSchema)
	ctx := context.Background()
	other := lock.NewLocal(r.Locker.Key())
	require.NoError(t, other.Acquire(ctx, r.LockTimeout))
	defer other.Release(ctx)

	r.LockTimeout = 10 * time.Millisecond
	_, err := r.Up(ctx, sampleRegistry(), false)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
}

package migrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mirajehossain/gochangelog/internal/changelog"
	"github.com/mirajehossain/gochangelog/internal/db"
)

// helper to create a temp changelog file
func writeChangelog(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write changelog: %v", err)
	}
}

func TestDiscoverAndPlan_PendingAndApplied(t *testing.T) {
	dir := t.TempDir()
	writeChangelog(t, dir, "20250101_init.sql", "-- changeset dev:20250101\nCREATE TABLE t1(id INT);\n")
	writeChangelog(t, dir, "20250102_add_col.sql", "-- changeset dev:20250102\nALTER TABLE t1 ADD COLUMN c INT;\n")

	reg := changelog.NewRegistry(changelog.Source{RootDir: dir})
	sets, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	database, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer database.Close()
	columns := []string{"id", "author", "filename", "checksum", "applied_at", "applied_by", "deployment_id", "execution_order", "duration_ms"}
	rows := sqlmock.NewRows(columns).
		AddRow("20250101", "dev", sets[0].Source, sets[0].Checksum, time.Now(), "tester", "d", int64(1), int64(5))
	mock.ExpectQuery("SELECT id, author, filename, checksum").WillReturnRows(rows)

	st := &Storage{DB: database, Dialect: db.MySQL{}, Table: "schema_changelog"}
	plan, err := DiscoverAndPlan(context.Background(), reg, st)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.All) != 2 {
		t.Fatalf("expected 2 changesets, got %d", len(plan.All))
	}
	if len(plan.Pending) != 1 || plan.Pending[0].ID != "20250102" {
		t.Fatalf("expected 20250102 pending, got %+v", plan.Pending)
	}
}

func TestNewPlanDrift(t *testing.T) {
	all := []changelog.ChangeSet{{ID: "1", Checksum: "aaa"}, {ID: "2", Checksum: "bbb"}}
	_, err := NewPlan(all, map[string]Record{"1": {ID: "1", Checksum: "zzz"}})
	if !errors.Is(err, ErrDrift) {
		t.Fatalf("expected drift, got %v", err)
	}

	plan, err := NewPlan(all, map[string]Record{"1": {ID: "1", Checksum: "AAA"}})
	if err != nil {
		t.Fatalf("checksums compare case-insensitively: %v", err)
	}
	if len(plan.Pending) != 1 || plan.Pending[0].ID != "2" {
		t.Fatalf("unexpected pending: %+v", plan.Pending)
	}
}

func TestPlanStatus(t *testing.T) {
	all := []changelog.ChangeSet{{ID: "1", Checksum: "a"}, {ID: "2", Checksum: "b"}}
	applied := map[string]Record{
		"1":   {ID: "1", Checksum: "a", ExecutionOrder: 2},
		"old": {ID: "old", Checksum: "x", ExecutionOrder: 1},
	}
	plan, err := NewPlan(all, applied)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	got := plan.Status()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	want := []struct{ id, state string }{{"1", StateApplied}, {"2", StatePending}, {"old", StateMissing}}
	for i, w := range want {
		if got[i].ID != w.id || got[i].State != w.state {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, got[i].ID, got[i].State, w.id, w.state)
		}
	}
	if got[1].AppliedAt != nil {
		t.Error("pending entries have no applied_at")
	}
}

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe("start", 0)
	m.Observe("success", 20*time.Millisecond)
	m.Observe("success", 40*time.Millisecond)
	m.Observe("skipped", 0)
	m.Observe("error", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.applied))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Observe("success", time.Second)
	m.Finish(time.Unix(1761100000, 0))

	path := filepath.Join(t.TempDir(), "gochangelog.prom")
	require.NoError(t, m.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "gochangelog_changesets_applied_total 1")
	assert.Contains(t, out, "gochangelog_changeset_duration_seconds_count 1")
	assert.True(t, strings.Contains(out, "# TYPE gochangelog_last_run_timestamp_seconds gauge"), out)
	assert.Equal(t, 1761100000.0, testutil.ToFloat64(m.lastRun))
}

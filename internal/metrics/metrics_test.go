package metrics_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"codeberg.org/mutker/thermobeacon/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(seq uint64, mean float64, alert bool) *metrics.Report {
	return &metrics.Report{
		Timestamp: time.UnixMilli(1_700_000_000_000 + int64(seq)),
		Reason:    "periodic",
		Seq:       seq,
		Count:     60,
		Mean:      mean,
		Latest:    mean + 0.5,
		SupplyMV:  3300,
		Threshold: 30,
		Alert:     alert,
		Published: true,
	}
}

func countRows(t *testing.T, path string) int {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM reports").Scan(&n))
	return n
}

func TestDisabledServiceIsNoop(t *testing.T) {
	rec, err := metrics.NewService(metrics.DefaultConfig(), logger.Nop())
	require.NoError(t, err)

	assert.NoError(t, rec.Record(context.Background(), sampleReport(1, 20, false)))
	assert.NoError(t, rec.Close())
}

func TestRecordBatchesAndFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	cfg := metrics.Config{DBPath: path, Enabled: true, BatchSize: 3, BatchTimeout: 3600}

	rec, err := metrics.NewService(cfg, logger.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, rec.Record(ctx, sampleReport(i, 20+float64(i), i == 4)))
	}

	assert.Equal(t, 3, countRows(t, path), "a full batch is written immediately")

	require.NoError(t, rec.Close())
	assert.Equal(t, 4, countRows(t, path), "the partial batch is written on close")
}

func TestUnbatchedWritesEachReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	rec, err := metrics.NewService(metrics.Config{DBPath: path, Enabled: true}, logger.Nop())
	require.NoError(t, err)
	defer rec.Close()

	require.NoError(t, rec.Record(context.Background(), sampleReport(1, 31.2, true)))
	assert.Equal(t, 1, countRows(t, path))
}

func TestFailedFlushDropsBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	rec, err := metrics.NewService(metrics.Config{DBPath: path, Enabled: true}, logger.Nop())
	require.NoError(t, err)
	defer rec.Close()

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	_, err = db.Exec("ALTER TABLE reports RENAME TO reports_held")
	require.NoError(t, err)

	err = rec.Record(ctx, sampleReport(1, 20, false))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, metrics.ErrRecordFailed))

	_, err = db.Exec("ALTER TABLE reports_held RENAME TO reports")
	require.NoError(t, err)

	require.NoError(t, rec.Record(ctx, sampleReport(2, 21, false)))
	assert.Equal(t, 1, countRows(t, path), "the failed batch is not retried")
}

func TestRecordRejectsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	rec, err := metrics.NewService(metrics.Config{DBPath: path, Enabled: true}, logger.Nop())
	require.NoError(t, err)
	defer rec.Close()

	err = rec.Record(context.Background(), nil)
	assert.True(t, errors.HasCode(err, metrics.ErrInvalidReport))
}

func TestRecordHonoursCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	rec, err := metrics.NewService(metrics.Config{DBPath: path, Enabled: true}, logger.Nop())
	require.NoError(t, err)
	defer rec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = rec.Record(ctx, sampleReport(1, 20, false))
	assert.True(t, errors.HasCode(err, metrics.ErrOperationTimeout))
}

func TestSchemaMismatchIsBackedUpAndRecreated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	backups := filepath.Join(dir, "old")
	rec, err := metrics.NewService(metrics.Config{DBPath: path, Enabled: true, BackupDir: backups}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	matches, err := filepath.Glob(filepath.Join(backups, "reports_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	db, err = sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	version, err := metrics.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, metrics.SchemaVersion, version)
}

func TestInvalidConfig(t *testing.T) {
	_, err := metrics.NewService(metrics.Config{Enabled: true}, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, metrics.ErrInvalidDBPath))
}

package rollup

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/perfeye/internal/database"
	"github.com/perfeye/internal/models"
	"github.com/perfeye/internal/store"
)

func newTestCompactor(t *testing.T, bucket, lookback time.Duration) (*Compactor, *store.Store, *gorm.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	st := store.New(db)
	return NewCompactor(st, log, bucket, lookback), st, db
}

func ingest(t *testing.T, st *store.Store, metric, target string, ts time.Time, value float64) {
	t.Helper()
	require.NoError(t, st.WriteSample(&models.MetricSample{
		MetricName: metric, TargetID: target, Timestamp: ts, Value: value,
	}))
}

func TestRunCycleAggregatesCompleteBuckets(t *testing.T) {
	c, st, _ := newTestCompactor(t, 5*time.Minute, time.Hour)
	bucket := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []float64{10, 30, 20} {
		ingest(t, st, "cpu_pct", "host-1", bucket.Add(time.Duration(i)*time.Minute), v)
	}
	// A sample in the current, incomplete bucket must not be rolled up.
	now := bucket.Add(7 * time.Minute)
	ingest(t, st, "cpu_pct", "host-1", bucket.Add(6*time.Minute), 99)

	c.now = func() time.Time { return now }
	require.NoError(t, c.RunCycle(context.Background()))

	rollups, err := st.ReadRollups("cpu_pct", "host-1", bucket.Add(-time.Hour), bucket.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	r := rollups[0]
	assert.Equal(t, int64(3), r.Count)
	assert.Equal(t, 10.0, r.Min)
	assert.Equal(t, 30.0, r.Max)
	assert.Equal(t, 60.0, r.Sum)
	assert.Equal(t, 20.0, r.Avg)
	assert.True(t, r.Bucket.Equal(bucket))
}

func TestRunCycleRerunRewritesSameRows(t *testing.T) {
	c, st, db := newTestCompactor(t, 5*time.Minute, time.Hour)
	bucket := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ingest(t, st, "cpu_pct", "host-1", bucket.Add(time.Minute), 42)

	now := bucket.Add(6 * time.Minute)
	c.now = func() time.Time { return now }
	require.NoError(t, c.RunCycle(context.Background()))

	// Simulate a crash before the checkpoint commit and rerun.
	require.NoError(t, db.Delete(&models.EvaluationCheckpoint{}, "loop_name = ?", LoopName).Error)
	require.NoError(t, c.RunCycle(context.Background()))

	rollups, err := st.ReadRollups("cpu_pct", "host-1", bucket.Add(-time.Hour), bucket.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, rollups, 1, "rerun must upsert, not duplicate")
}

func TestRunCycleResumesFromCheckpoint(t *testing.T) {
	c, st, _ := newTestCompactor(t, 5*time.Minute, time.Hour)
	b1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b2 := b1.Add(5 * time.Minute)

	ingest(t, st, "cpu_pct", "host-1", b1.Add(time.Minute), 1)
	c.now = func() time.Time { return b2.Add(time.Minute) }
	require.NoError(t, c.RunCycle(context.Background()))

	cp, err := st.GetCheckpoint(LoopName)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.LastProcessedTimestamp.Equal(b2))

	ingest(t, st, "cpu_pct", "host-1", b2.Add(time.Minute), 2)
	c.now = func() time.Time { return b2.Add(6 * time.Minute) }
	require.NoError(t, c.RunCycle(context.Background()))

	rollups, err := st.ReadRollups("cpu_pct", "host-1", b1, b2.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, rollups, 2)
}

func TestRunCycleBoundsFirstScanByLookback(t *testing.T) {
	c, st, _ := newTestCompactor(t, 5*time.Minute, 30*time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Older than the lookback; must be ignored on the first run.
	ingest(t, st, "cpu_pct", "host-1", now.Add(-2*time.Hour), 1)
	ingest(t, st, "cpu_pct", "host-1", now.Add(-10*time.Minute), 2)

	c.now = func() time.Time { return now }
	require.NoError(t, c.RunCycle(context.Background()))

	rollups, err := st.ReadRollups("cpu_pct", "host-1", now.Add(-3*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, 2.0, rollups[0].Avg)
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfeye/internal/database"
	"github.com/perfeye/internal/errs"
	"github.com/perfeye/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return New(db)
}

func sampleAt(metric, target string, ts time.Time, value float64) *models.MetricSample {
	return &models.MetricSample{
		MetricName: metric,
		TargetID:   target,
		Timestamp:  ts,
		Value:      value,
	}
}

func TestWriteSampleIdempotent(t *testing.T) {
	st := newTestStore(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.WriteSample(sampleAt("cpu_pct", "host-1", ts, 95)))
	require.NoError(t, st.WriteSample(sampleAt("cpu_pct", "host-1", ts, 95)))

	samples, err := st.ReadWindow("cpu_pct", "host-1", ts.Add(-time.Minute), ts.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestWriteSampleValidation(t *testing.T) {
	st := newTestStore(t)
	ts := time.Now()

	tests := []struct {
		name   string
		sample *models.MetricSample
	}{
		{"nil sample", nil},
		{"empty metric", sampleAt("", "host-1", ts, 1)},
		{"empty target", sampleAt("cpu_pct", "", ts, 1)},
		{"zero timestamp", sampleAt("cpu_pct", "host-1", time.Time{}, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.WriteSample(tt.sample)
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestReadWindowHalfOpenAndOrdered(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []float64{3, 1, 2} {
		ts := base.Add(time.Duration(2-i) * time.Minute) // written out of order
		require.NoError(t, st.WriteSample(sampleAt("cpu_pct", "host-1", ts, v)))
	}

	samples, err := st.ReadWindow("cpu_pct", "host-1", base, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 2, "upper bound is exclusive")
	assert.True(t, samples[0].Timestamp.Before(samples[1].Timestamp))
}

func TestDistinctAndKnownTargets(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.WriteSample(sampleAt("cpu_pct", "host-1", base, 1)))
	require.NoError(t, st.WriteSample(sampleAt("cpu_pct", "host-2", base.Add(-time.Hour), 1)))
	require.NoError(t, st.WriteSample(sampleAt("mem_pct", "host-3", base, 1)))

	recent, err := st.DistinctTargets("cpu_pct", base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host-1"}, recent)

	known, err := st.KnownTargets("cpu_pct")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host-1", "host-2"}, known)
}

func TestUpsertAlertStateKeyed(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	state := &models.AlertState{
		AlertID:         models.AlertKey("rule-1", "host-1"),
		RuleID:          "rule-1",
		TargetID:        "host-1",
		Status:          models.AlertStatusOpen,
		Severity:        models.SeverityWarning,
		OpenedAt:        now,
		LastEvaluatedAt: now,
	}
	require.NoError(t, st.UpsertAlertState(state))

	state.Status = models.AlertStatusResolved
	resolved := now.Add(time.Minute)
	state.ResolvedAt = &resolved
	require.NoError(t, st.UpsertAlertState(state))

	all, err := st.ListAlertStates(AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1, "upsert must not create a second record")
	assert.Equal(t, models.AlertStatusResolved, all[0].Status)
	require.NotNil(t, all[0].ResolvedAt)
}

func TestListAlertStatesFilter(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	for _, row := range []struct {
		rule, target string
		status       models.AlertStatus
	}{
		{"rule-1", "host-1", models.AlertStatusOpen},
		{"rule-1", "host-2", models.AlertStatusResolved},
		{"rule-2", "host-1", models.AlertStatusOpen},
	} {
		require.NoError(t, st.UpsertAlertState(&models.AlertState{
			AlertID:  models.AlertKey(row.rule, row.target),
			RuleID:   row.rule,
			TargetID: row.target,
			Status:   row.status,
			OpenedAt: now,
		}))
	}

	open, err := st.ListAlertStates(AlertFilter{Status: models.AlertStatusOpen})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	rule1Open, err := st.ListAlertStates(AlertFilter{Status: models.AlertStatusOpen, RuleID: "rule-1"})
	require.NoError(t, err)
	require.Len(t, rule1Open, 1)
	assert.Equal(t, "host-1", rule1Open[0].TargetID)

	targets, err := st.OpenAlertTargets("rule-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host-1"}, targets)
}

func TestCheckpointMonotonic(t *testing.T) {
	st := newTestStore(t)
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	cp, err := st.GetCheckpoint("evaluator")
	require.NoError(t, err)
	assert.Nil(t, cp, "missing checkpoint reads as nil")

	require.NoError(t, st.SetCheckpoint(&models.EvaluationCheckpoint{
		LoopName: "evaluator", LastRunAt: t2, LastProcessedTimestamp: t2,
	}))

	// An attempt to move the watermark backwards keeps the stored value.
	require.NoError(t, st.SetCheckpoint(&models.EvaluationCheckpoint{
		LoopName: "evaluator", LastRunAt: t2, LastProcessedTimestamp: t1,
	}))

	cp, err = st.GetCheckpoint("evaluator")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.LastProcessedTimestamp.Equal(t2))
}

func TestRollupUpsertAndRead(t *testing.T) {
	st := newTestStore(t)
	bucket := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rollup := &models.MetricRollup{
		MetricName: "cpu_pct", TargetID: "host-1", Bucket: bucket,
		Count: 2, Min: 1, Max: 3, Sum: 4, Avg: 2,
	}
	require.NoError(t, st.UpsertRollup(rollup))

	rollup.ID = 0
	rollup.Count = 3
	require.NoError(t, st.UpsertRollup(rollup))

	rollups, err := st.ReadRollups("cpu_pct", "host-1", bucket.Add(-time.Minute), bucket.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, int64(3), rollups[0].Count)
}

func TestDeleteResolvedAlertsKeepsOpen(t *testing.T) {
	st := newTestStore(t)
	old := time.Now().UTC().Add(-48 * time.Hour)

	require.NoError(t, st.UpsertAlertState(&models.AlertState{
		AlertID: "r:open", RuleID: "r", TargetID: "open", Status: models.AlertStatusOpen, OpenedAt: old,
	}))
	require.NoError(t, st.UpsertAlertState(&models.AlertState{
		AlertID: "r:resolved", RuleID: "r", TargetID: "resolved",
		Status: models.AlertStatusResolved, OpenedAt: old, ResolvedAt: &old,
	}))

	n, err := st.DeleteResolvedAlertsBefore(time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := st.ListAlertStates(AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.AlertStatusOpen, all[0].Status)
}

package retention

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfeye/internal/database"
	"github.com/perfeye/internal/models"
	"github.com/perfeye/internal/store"
)

func newTestSweeper(t *testing.T, sampleTTL, alertTTL time.Duration) (*Sweeper, *store.Store) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	st := store.New(db)
	return NewSweeper(st, log, sampleTTL, alertTTL), st
}

func TestRunCyclePrunesOldSamples(t *testing.T) {
	sw, st := newTestSweeper(t, 24*time.Hour, 7*24*time.Hour)
	now := time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)
	sw.now = func() time.Time { return now }

	require.NoError(t, st.WriteSample(&models.MetricSample{
		MetricName: "cpu_pct", TargetID: "host-1", Timestamp: now.Add(-48 * time.Hour), Value: 1,
	}))
	require.NoError(t, st.WriteSample(&models.MetricSample{
		MetricName: "cpu_pct", TargetID: "host-1", Timestamp: now.Add(-time.Hour), Value: 2,
	}))

	require.NoError(t, sw.RunCycle(context.Background()))

	samples, err := st.ReadWindow("cpu_pct", "host-1", now.Add(-72*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].Value)
}

func TestRunCyclePrunesOnlyOldResolvedAlerts(t *testing.T) {
	sw, st := newTestSweeper(t, 24*time.Hour, 7*24*time.Hour)
	now := time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)
	sw.now = func() time.Time { return now }

	oldResolve := now.Add(-8 * 24 * time.Hour)
	freshResolve := now.Add(-time.Hour)
	for _, row := range []struct {
		target     string
		status     models.AlertStatus
		resolvedAt *time.Time
	}{
		{"expired", models.AlertStatusResolved, &oldResolve},
		{"recent", models.AlertStatusResolved, &freshResolve},
		{"still-open", models.AlertStatusOpen, nil},
	} {
		require.NoError(t, st.UpsertAlertState(&models.AlertState{
			AlertID:    models.AlertKey("rule-1", row.target),
			RuleID:     "rule-1",
			TargetID:   row.target,
			Status:     row.status,
			OpenedAt:   oldResolve.Add(-time.Hour),
			ResolvedAt: row.resolvedAt,
		}))
	}

	require.NoError(t, sw.RunCycle(context.Background()))

	remaining, err := st.ListAlertStates(store.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	targets := []string{remaining[0].TargetID, remaining[1].TargetID}
	assert.ElementsMatch(t, []string{"recent", "still-open"}, targets)
}

func TestRunCycleCommitsCheckpoint(t *testing.T) {
	sw, st := newTestSweeper(t, 24*time.Hour, 7*24*time.Hour)
	now := time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)
	sw.now = func() time.Time { return now }

	require.NoError(t, sw.RunCycle(context.Background()))

	cp, err := st.GetCheckpoint(LoopName)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.LastProcessedTimestamp.Equal(now.Add(-24*time.Hour)))
}

func TestRunCycleIsIdempotent(t *testing.T) {
	sw, st := newTestSweeper(t, 24*time.Hour, 7*24*time.Hour)
	now := time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)
	sw.now = func() time.Time { return now }

	require.NoError(t, st.WriteSample(&models.MetricSample{
		MetricName: "cpu_pct", TargetID: "host-1", Timestamp: now.Add(-48 * time.Hour), Value: 1,
	}))

	require.NoError(t, sw.RunCycle(context.Background()))
	require.NoError(t, sw.RunCycle(context.Background()))

	samples, err := st.ReadWindow("cpu_pct", "host-1", now.Add(-72*time.Hour), now)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

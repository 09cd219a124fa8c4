package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/perfeye/internal/models"
)

func openAlert(id string, openedAt time.Time) models.AlertState {
	return models.AlertState{
		AlertID:  id,
		Status:   models.AlertStatusOpen,
		OpenedAt: openedAt,
	}
}

func TestLoadKeepsOnlyOpen(t *testing.T) {
	tr := New()
	now := time.Now()

	tr.Load([]models.AlertState{
		openAlert("a", now),
		{AlertID: "b", Status: models.AlertStatusResolved, OpenedAt: now},
	})

	assert.Equal(t, 1, tr.OpenCount())
	assert.Equal(t, "a", tr.Open()[0].AlertID)
}

func TestApplyTransitions(t *testing.T) {
	tr := New()
	now := time.Now()

	tr.Apply(openAlert("a", now))
	assert.Equal(t, 1, tr.OpenCount())

	resolved := openAlert("a", now)
	resolved.Status = models.AlertStatusResolved
	tr.Apply(resolved)
	assert.Equal(t, 0, tr.OpenCount())

	// Resolving an alert the tracker never saw is a no-op.
	tr.Apply(resolved)
	assert.Equal(t, 0, tr.OpenCount())
}

func TestOpenOrderedMostRecentFirst(t *testing.T) {
	tr := New()
	now := time.Now()

	tr.Apply(openAlert("older", now.Add(-time.Hour)))
	tr.Apply(openAlert("newer", now))

	open := tr.Open()
	assert.Equal(t, []string{"newer", "older"}, []string{open[0].AlertID, open[1].AlertID})
}

func TestLoadReplacesView(t *testing.T) {
	tr := New()
	now := time.Now()

	tr.Apply(openAlert("stale", now))
	tr.Load([]models.AlertState{openAlert("fresh", now)})

	assert.Equal(t, 1, tr.OpenCount())
	assert.Equal(t, "fresh", tr.Open()[0].AlertID)
}

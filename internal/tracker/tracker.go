// Package tracker keeps an in-memory view of currently open alerts for
// the query path, so listing open alerts does not hit the store.
package tracker

import (
	"sort"
	"sync"

	"github.com/perfeye/internal/models"
)

type Tracker struct {
	mu   sync.RWMutex
	open map[string]models.AlertState
}

func New() *Tracker {
	return &Tracker{open: make(map[string]models.AlertState)}
}

// Load replaces the view with the given states, keeping only OPEN ones.
// Used to warm the tracker from the store at startup.
func (t *Tracker) Load(states []models.AlertState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = make(map[string]models.AlertState, len(states))
	for _, st := range states {
		if st.Status == models.AlertStatusOpen {
			t.open[st.AlertID] = st
		}
	}
}

// Apply reflects one alert-state transition written by the evaluator.
func (t *Tracker) Apply(state models.AlertState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state.Status == models.AlertStatusOpen {
		t.open[state.AlertID] = state
		return
	}
	delete(t.open, state.AlertID)
}

// Open returns the currently open alerts, most recently opened first.
func (t *Tracker) Open() []models.AlertState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.AlertState, 0, len(t.open))
	for _, st := range t.open {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.After(out[j].OpenedAt)
	})
	return out
}

// OpenCount returns the number of currently open alerts.
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.open)
}

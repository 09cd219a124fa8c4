// Package retention prunes data past its retention horizon: raw samples
// and alerts that resolved long ago. Open alerts are never expired.
package retention

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perfeye/internal/errs"
	"github.com/perfeye/internal/models"
	"github.com/perfeye/internal/store"
)

// LoopName identifies this loop's checkpoint record.
const LoopName = "retention"

type Sweeper struct {
	store     *store.Store
	log       *logrus.Logger
	sampleTTL time.Duration
	alertTTL  time.Duration
	now       func() time.Time
}

func NewSweeper(st *store.Store, log *logrus.Logger, sampleTTL, alertTTL time.Duration) *Sweeper {
	return &Sweeper{
		store:     st,
		log:       log,
		sampleTTL: sampleTTL,
		alertTTL:  alertTTL,
		now:       time.Now,
	}
}

func (s *Sweeper) Name() string { return LoopName }

// RunCycle deletes samples older than the sample TTL and RESOLVED alerts
// older than the alert TTL. Deletes are naturally idempotent, so a rerun
// after a failure removes whatever the previous attempt missed.
func (s *Sweeper) RunCycle(ctx context.Context) error {
	started := s.now()
	sampleCutoff := started.Add(-s.sampleTTL)
	alertCutoff := started.Add(-s.alertTTL)

	samples, err := s.store.DeleteSamplesBefore(sampleCutoff)
	if err != nil {
		return errs.CycleFailure(err, "sample pruning failed")
	}
	alerts, err := s.store.DeleteResolvedAlertsBefore(alertCutoff)
	if err != nil {
		return errs.CycleFailure(err, "alert pruning failed")
	}

	if err := s.store.SetCheckpoint(&models.EvaluationCheckpoint{
		LoopName:               LoopName,
		LastRunAt:              started,
		LastProcessedTimestamp: sampleCutoff,
	}); err != nil {
		return errs.CycleFailure(err, "failed to commit checkpoint")
	}

	if samples > 0 || alerts > 0 {
		s.log.WithFields(logrus.Fields{
			"loop":    LoopName,
			"samples": samples,
			"alerts":  alerts,
		}).Info("retention sweep pruned records")
	}
	return nil
}

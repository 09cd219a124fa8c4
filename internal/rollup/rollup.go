// Package rollup compacts raw samples into fixed-size aggregation
// buckets so long-range queries do not scan raw history.
package rollup

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perfeye/internal/errs"
	"github.com/perfeye/internal/models"
	"github.com/perfeye/internal/store"
)

// LoopName identifies this loop's checkpoint record.
const LoopName = "rollup"

type Compactor struct {
	store  *store.Store
	log    *logrus.Logger
	bucket time.Duration

	// lookback bounds the first run so enabling rollups on an old
	// dataset does not scan all of history.
	lookback time.Duration
	now      func() time.Time
}

func NewCompactor(st *store.Store, log *logrus.Logger, bucket, lookback time.Duration) *Compactor {
	return &Compactor{
		store:    st,
		log:      log,
		bucket:   bucket,
		lookback: lookback,
		now:      time.Now,
	}
}

func (c *Compactor) Name() string { return LoopName }

// RunCycle compacts every complete bucket since the loop's checkpoint.
// The current in-progress bucket is excluded. Upserts are keyed per
// (metric, target, bucket), so a rerun after a crash rewrites the same
// rows and the checkpoint only advances after all buckets committed.
func (c *Compactor) RunCycle(ctx context.Context) error {
	started := c.now()
	upper := floorToBucket(started, c.bucket)

	cp, err := c.store.GetCheckpoint(LoopName)
	if err != nil {
		return errs.CycleFailure(err, "failed to load checkpoint")
	}
	var since time.Time
	if cp != nil {
		since = cp.LastProcessedTimestamp
	} else {
		since = floorToBucket(started.Add(-c.lookback), c.bucket)
	}
	if !upper.After(since) {
		return nil
	}

	series, err := c.store.SeriesInWindow(since, upper)
	if err != nil {
		return errs.CycleFailure(err, "failed to list series")
	}

	written := 0
	for _, pair := range series {
		for b := since; b.Before(upper); b = b.Add(c.bucket) {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := c.compactBucket(pair, b)
			if err != nil {
				return errs.CycleFailure(err, "bucket %s aborted the cycle", b.Format(time.RFC3339))
			}
			written += n
		}
	}

	if err := c.store.SetCheckpoint(&models.EvaluationCheckpoint{
		LoopName:               LoopName,
		LastRunAt:              started,
		LastProcessedTimestamp: upper,
	}); err != nil {
		return errs.CycleFailure(err, "failed to commit checkpoint")
	}

	if written > 0 {
		c.log.WithFields(logrus.Fields{
			"loop":    LoopName,
			"buckets": written,
			"until":   upper,
		}).Debug("rollup cycle committed")
	}
	return nil
}

func (c *Compactor) compactBucket(pair store.MetricTarget, bucket time.Time) (int, error) {
	samples, err := c.store.ReadWindow(pair.MetricName, pair.TargetID, bucket, bucket.Add(c.bucket))
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, nil
	}

	min, max, sum := samples[0].Value, samples[0].Value, 0.0
	for _, s := range samples {
		if s.Value < min {
			min = s.Value
		}
		if s.Value > max {
			max = s.Value
		}
		sum += s.Value
	}
	rollup := &models.MetricRollup{
		MetricName: pair.MetricName,
		TargetID:   pair.TargetID,
		Bucket:     bucket,
		Count:      int64(len(samples)),
		Min:        min,
		Max:        max,
		Sum:        sum,
		Avg:        sum / float64(len(samples)),
	}
	if err := c.store.UpsertRollup(rollup); err != nil {
		return 0, err
	}
	return 1, nil
}

func floorToBucket(ts time.Time, bucket time.Duration) time.Time {
	return ts.Truncate(bucket)
}

// Package ingest accepts metric samples and writes them through the
// store. The write path shares nothing with the evaluator beyond the
// store itself, so ingestion never waits on evaluation progress.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/perfeye/internal/models"
	"github.com/perfeye/internal/store"
)

const maxConcurrentWrites = 10

type Gateway struct {
	store *store.Store
	log   *logrus.Logger
	sem   *semaphore.Weighted
	now   func() time.Time
}

func NewGateway(st *store.Store, log *logrus.Logger) *Gateway {
	return &Gateway{
		store: st,
		log:   log,
		sem:   semaphore.NewWeighted(maxConcurrentWrites),
		now:   time.Now,
	}
}

// Accept validates and persists one sample. A sample without a timestamp
// is stamped on arrival. Validation failures surface to the caller and
// are not retried; store failures are transient and the caller may retry.
func (g *Gateway) Accept(ctx context.Context, sample *models.MetricSample) error {
	if sample != nil && sample.Timestamp.IsZero() {
		sample.Timestamp = g.now()
	}
	return g.store.WriteSample(sample)
}

// BatchResult reports the outcome of one sample in a batch.
type BatchResult struct {
	Index int    `json:"index"`
	Error string `json:"error,omitempty"`
}

// BatchSummary reports a whole batch: how many landed and the per-item
// failures. Partial failure is expected; accepted samples stay written.
type BatchSummary struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Failures []BatchResult `json:"failures,omitempty"`
}

// AcceptBatch writes a batch with bounded concurrency. Each sample is
// independent; one bad sample never rejects the rest.
func (g *Gateway) AcceptBatch(ctx context.Context, samples []*models.MetricSample) BatchSummary {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures []BatchResult
	)

	for i, sample := range samples {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failures = append(failures, BatchResult{Index: i, Error: err.Error()})
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(i int, sample *models.MetricSample) {
			defer wg.Done()
			defer g.sem.Release(1)
			if err := g.Accept(ctx, sample); err != nil {
				mu.Lock()
				failures = append(failures, BatchResult{Index: i, Error: err.Error()})
				mu.Unlock()
			}
		}(i, sample)
	}
	wg.Wait()

	summary := BatchSummary{
		Accepted: len(samples) - len(failures),
		Rejected: len(failures),
		Failures: failures,
	}
	if summary.Rejected > 0 {
		g.log.WithFields(logrus.Fields{
			"accepted": summary.Accepted,
			"rejected": summary.Rejected,
		}).Warn("batch ingestion had failures")
	}
	return summary
}

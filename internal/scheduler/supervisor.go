// Package scheduler owns the lifecycle of the background loops. Each
// named loop ticks on its own interval; a tick that fires while the
// previous cycle is still running is skipped, never queued.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Cycle is one runnable unit of background work. RunCycle must be safe
// to re-execute over the same data (the supervisor retries on the next
// tick after a failure) and should observe ctx between items of work.
type Cycle interface {
	Name() string
	RunCycle(ctx context.Context) error
}

// LoopStats exposes per-loop counters for observability and tests.
type LoopStats struct {
	Runs     uint64
	Failures uint64
	Skips    uint64
}

type loopRunner struct {
	cycle    Cycle
	interval time.Duration
	runs     atomic.Uint64
	failures atomic.Uint64
	skips    atomic.Uint64
}

type Supervisor struct {
	log     *logrus.Logger
	loops   []*loopRunner
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

func NewSupervisor(log *logrus.Logger) *Supervisor {
	return &Supervisor{
		log:  log,
		stop: make(chan struct{}),
	}
}

// Register adds a loop. Must be called before Start.
func (s *Supervisor) Register(cycle Cycle, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops = append(s.loops, &loopRunner{cycle: cycle, interval: interval})
}

// Start launches one goroutine per registered loop. Each loop runs an
// immediate first cycle, then ticks on its interval.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, l := range s.loops {
		s.wg.Add(1)
		go s.runLoop(l)
	}
	s.log.WithField("loops", len(s.loops)).Info("loop supervisor started")
}

// Stop prevents new ticks and waits for every in-flight cycle to reach
// its commit boundary. Cycles are never interrupted mid-write.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	close(s.stop)
	s.wg.Wait()
	s.log.Info("loop supervisor stopped")
}

// Stats returns the counters for a named loop.
func (s *Supervisor) Stats(name string) LoopStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.loops {
		if l.cycle.Name() == name {
			return LoopStats{
				Runs:     l.runs.Load(),
				Failures: l.failures.Load(),
				Skips:    l.skips.Load(),
			}
		}
	}
	return LoopStats{}
}

// runLoop drives one loop. The cycle executes in its own goroutine and
// reports through resultCh; the loop goroutine keeps consuming ticks so
// overlap is detected and skipped instead of queued. One loop's failure
// or slowness never touches another loop.
func (s *Supervisor) runLoop(l *loopRunner) {
	defer s.wg.Done()

	log := s.log.WithField("loop", l.cycle.Name())
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	ctx := context.Background()
	resultCh := make(chan error, 1)
	inFlight := false

	launch := func() {
		inFlight = true
		l.runs.Add(1)
		go func() {
			resultCh <- l.cycle.RunCycle(ctx)
		}()
	}

	// Immediate first cycle, like a collector doing an initial pass.
	launch()

	for {
		select {
		case <-ticker.C:
			if inFlight {
				l.skips.Add(1)
				log.Warn("tick skipped: previous cycle still running")
				continue
			}
			launch()

		case err := <-resultCh:
			inFlight = false
			if err != nil {
				l.failures.Add(1)
				log.WithError(err).Error("cycle failed; will retry on next tick")
			}

		case <-s.stop:
			if inFlight {
				if err := <-resultCh; err != nil {
					l.failures.Add(1)
					log.WithError(err).Error("cycle failed during shutdown")
				}
			}
			log.Info("loop stopped")
			return
		}
	}
}

package runtime

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

type worker struct {
	name string
	run  func(context.Context) error
	stop func() error
}

// Supervisor runs a fixed set of named workers. The first worker error cancels
// the rest; workers are closed in reverse registration order on shutdown.
type Supervisor struct {
	mu      sync.Mutex
	workers []worker
	running sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	failOnce sync.Once
	failure  error
}

func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Add registers a worker. stop may be nil.
func (s *Supervisor) Add(name string, run func(context.Context) error, stop func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker{name: name, run: run, stop: stop})
}

// Start launches every registered worker under a context derived from ctx.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, w := range s.workers {
		s.running.Add(1)
		go s.run(w)
	}
	return nil
}

func (s *Supervisor) run(w worker) {
	defer s.running.Done()
	logger := log.WithField("worker", w.name)
	logger.Debug("Worker started")

	err := w.run(s.ctx)
	if err != nil && s.ctx.Err() == nil {
		logger.WithError(err).Error("Worker failed")
		s.failOnce.Do(func() { s.failure = err })
		s.cancel()
		return
	}
	logger.Debug("Worker stopped")
}

// Wait blocks until ctx is cancelled or a worker fails, then closes every
// worker and waits for all of them to return. It reports the first worker error.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	runCtx, workers := s.ctx, append([]worker(nil), s.workers...)
	s.mu.Unlock()

	if runCtx == nil {
		runCtx = ctx
	}
	<-runCtx.Done()

	closeWorkers(workers)
	s.running.Wait()
	if s.cancel != nil {
		s.cancel()
	}
	return s.failure
}

func closeWorkers(workers []worker) {
	for i := len(workers) - 1; i >= 0; i-- {
		w := workers[i]
		if w.stop == nil {
			continue
		}
		if err := w.stop(); err != nil {
			log.WithField("worker", w.name).WithError(err).Warn("Worker close failed")
		}
	}
}

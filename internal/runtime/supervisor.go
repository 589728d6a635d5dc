package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	ErrAlreadyStarted = errors.New("runtime: supervisor already started")
	ErrNotStarted     = errors.New("runtime: supervisor not started")
)

type worker struct {
	name   string
	run    func(context.Context) error
	closeF func() error
}

// Supervisor runs named workers on a shared context. The first worker that
// returns an error cancels that context for all of them.
type Supervisor struct {
	mu      sync.Mutex
	workers []worker
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Add registers a worker. closeF may be nil.
func (s *Supervisor) Add(name string, run func(context.Context) error, closeF func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker{name: name, run: run, closeF: closeF})
}

func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, w := range s.workers {
		s.wg.Add(1)
		go s.runWorker(w)
	}
	return nil
}

func (s *Supervisor) runWorker(w worker) {
	defer s.wg.Done()

	logger := log.WithField("worker", w.name)
	logger.Debug("Worker started")

	err := w.run(s.ctx)
	if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		logger.WithError(err).Error("Worker failed")
		s.errOnce.Do(func() { s.err = fmt.Errorf("%s: %w", w.name, err) })
		s.cancel()
		return
	}
	logger.Debug("Worker stopped")
}

// Wait blocks until the parent context is done or a worker fails, closes
// the workers in reverse order and returns the first worker error.
func (s *Supervisor) Wait() error {
	s.mu.Lock()
	ctx, cancel := s.ctx, s.cancel
	workers := s.workers
	s.mu.Unlock()
	if ctx == nil {
		return ErrNotStarted
	}

	<-ctx.Done()

	// Close in reverse order.
	for i := len(workers) - 1; i >= 0; i-- {
		if workers[i].closeF == nil {
			continue
		}
		if err := workers[i].closeF(); err != nil {
			log.WithError(err).WithField("worker", workers[i].name).Warn("Failed to close worker")
		}
	}
	s.wg.Wait()
	cancel()
	return s.err
}

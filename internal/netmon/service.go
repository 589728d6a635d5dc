package netmon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	log "github.com/sirupsen/logrus"
)

// Recorder observes the service loop. Implemented by metrics.Metrics.
type Recorder interface {
	ObserveEvent(event NetworkChangeEvent)
	ObserveError(kind string)
	ObserveRestart()
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvent(NetworkChangeEvent) {}
func (nopRecorder) ObserveError(string)             {}
func (nopRecorder) ObserveRestart()                 {}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithWatcherFactory replaces the function used to create watchers.
// Default creates a Monitor.
func WithWatcherFactory(factory func() (Watcher, error)) ServiceOption {
	return func(s *Service) {
		s.newWatcher = factory
	}
}

// WithMonitorOptions sets the options passed to NewMonitor by the default
// watcher factory.
func WithMonitorOptions(opts ...Option) ServiceOption {
	return func(s *Service) {
		s.monitorOpts = append(s.monitorOpts, opts...)
	}
}

// WithRecorder sets the recorder notified of events, errors and restarts.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithSetupAttempts sets how many times the watcher is created before the
// service gives up. Zero retries until the context is cancelled.
func WithSetupAttempts(n uint) ServiceOption {
	return func(s *Service) {
		s.setupAttempts = n
	}
}

// WithRetryDelay sets the base delay between watcher setup attempts and the
// pause before recreating a failed watcher.
func WithRetryDelay(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.retryDelay = d
	}
}

// WithRetryMaxDelay caps the backoff between watcher setup attempts.
func WithRetryMaxDelay(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.retryMaxDelay = d
	}
}

// Service drives a single Watcher: it waits for change events in a loop,
// passes each one to the handler and recreates the watcher when it fails.
type Service struct {
	handler     EventHandler
	newWatcher  func() (Watcher, error)
	monitorOpts []Option
	recorder    Recorder

	setupAttempts uint
	retryDelay    time.Duration
	retryMaxDelay time.Duration

	mu      sync.Mutex
	current Watcher
	closed  bool
}

func NewService(handler EventHandler, opts ...ServiceOption) *Service {
	s := &Service{
		handler:       handler,
		recorder:      nopRecorder{},
		setupAttempts: 5,
		retryDelay:    500 * time.Millisecond,
		retryMaxDelay: 30 * time.Second,
	}
	s.newWatcher = s.newMonitor
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) newMonitor() (Watcher, error) {
	m, err := NewMonitor(s.monitorOpts...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) Start(ctx context.Context) error {
	log.Info("Starting network change monitoring service")
	defer log.Info("Stopping network change monitoring service")

	for {
		w, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			return err
		}

		err = s.watch(ctx, w)
		s.release(w)

		if ctx.Err() != nil || s.isClosed() {
			return nil
		}

		kind := ErrorKind(err)
		s.recorder.ObserveError(kind)
		s.recorder.ObserveRestart()
		log.WithError(err).WithField("kind", kind).Warn("Network monitor failed, recreating")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.retryDelay):
		}
	}
}

// Close stops the service and closes the current watcher, which unblocks
// an outstanding wait. It is safe to call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.current != nil {
		return s.current.Close()
	}
	return nil
}

func (s *Service) connect(ctx context.Context) (Watcher, error) {
	w, err := retry.DoWithData(
		s.newWatcher,
		retry.Context(ctx),
		retry.Attempts(s.setupAttempts),
		retry.Delay(s.retryDelay),
		retry.MaxDelay(s.retryMaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrUnsupportedPlatform)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Warn("Failed to create network monitor")
		}),
	)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = w.Close()
		return nil, ErrMonitorClosed
	}
	s.current = w
	return w, nil
}

func (s *Service) watch(ctx context.Context, w Watcher) error {
	for {
		ev, err := w.WaitForChangeEvent(ctx)
		if err != nil {
			return err
		}

		log.WithField("event", ev.String()).Debug("Received network change event")
		s.recorder.ObserveEvent(ev)
		if s.handler != nil {
			s.handler(ev)
		}
	}
}

func (s *Service) release(w Watcher) {
	s.mu.Lock()
	if s.current == w {
		s.current = nil
	}
	s.mu.Unlock()

	if err := w.Close(); err != nil {
		log.WithError(err).Debug("Failed to close network monitor")
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockUntilDone is a worker body that parks until the shared context ends.
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func waitWithTimeout(t *testing.T, s *Supervisor) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for supervisor")
		return nil
	}
}

func TestSupervisor_WorkersShareOneContext(t *testing.T) {
	s := NewSupervisor()

	// Every worker must be running at the same time for the barrier to open.
	const n = 4
	var barrier sync.WaitGroup
	barrier.Add(n)
	allRunning := make(chan struct{})
	go func() {
		barrier.Wait()
		close(allRunning)
	}()

	for i := 0; i < n; i++ {
		s.Add(fmt.Sprintf("worker-%d", i), func(ctx context.Context) error {
			barrier.Done()
			return blockUntilDone(ctx)
		}, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	select {
	case <-allRunning:
	case <-time.After(time.Second):
		t.Fatal("workers did not run concurrently")
	}

	cancel()
	assert.NoError(t, waitWithTimeout(t, s))
}

func TestSupervisor_ClosesInReverseRegistrationOrder(t *testing.T) {
	s := NewSupervisor()

	var mu sync.Mutex
	var closed []string
	closer := func(name string) func() error {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			closed = append(closed, name)
			return nil
		}
	}

	s.Add("netmon", blockUntilDone, closer("netmon"))
	s.Add("metrics", blockUntilDone, nil)
	s.Add("handler", blockUntilDone, closer("handler"))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	require.NoError(t, waitWithTimeout(t, s))

	assert.Equal(t, []string{"handler", "netmon"}, closed)
}

func TestSupervisor_FailingWorkerStopsOthers(t *testing.T) {
	s := NewSupervisor()
	monitorErr := errors.New("monitor failed")

	var metricsStopped, metricsClosed atomic.Bool

	s.Add("netmon", func(context.Context) error {
		return monitorErr
	}, nil)
	s.Add("metrics", func(ctx context.Context) error {
		<-ctx.Done()
		metricsStopped.Store(true)
		return nil
	}, func() error {
		metricsClosed.Store(true)
		return nil
	})

	// The parent context is never cancelled.
	require.NoError(t, s.Start(context.Background()))

	err := waitWithTimeout(t, s)
	assert.ErrorIs(t, err, monitorErr)
	assert.EqualError(t, err, "netmon: monitor failed")
	assert.True(t, metricsStopped.Load())
	assert.True(t, metricsClosed.Load())
}

func TestSupervisor_FirstErrorWins(t *testing.T) {
	s := NewSupervisor()

	setupErr := errors.New("socket: operation not permitted")
	shutdownErr := errors.New("listener closed")

	s.Add("netmon", func(context.Context) error {
		return setupErr
	}, nil)
	s.Add("metrics", func(ctx context.Context) error {
		<-ctx.Done()
		return shutdownErr
	}, nil)

	require.NoError(t, s.Start(context.Background()))

	err := waitWithTimeout(t, s)
	assert.ErrorIs(t, err, setupErr)
	assert.NotErrorIs(t, err, shutdownErr)
}

func TestSupervisor_CleanShutdown(t *testing.T) {
	tests := []struct {
		name string
		run  func(context.Context) error
	}{
		{name: "returns nil", run: blockUntilDone},
		{name: "returns ctx error", run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{name: "returns wrapped ctx error", run: func(ctx context.Context) error {
			<-ctx.Done()
			return fmt.Errorf("receive: %w", ctx.Err())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSupervisor()
			s.Add("netmon", tt.run, nil)

			ctx, cancel := context.WithCancel(context.Background())
			require.NoError(t, s.Start(ctx))
			cancel()

			assert.NoError(t, waitWithTimeout(t, s))
		})
	}
}

func TestSupervisor_CloseErrorIsLoggedNotReturned(t *testing.T) {
	s := NewSupervisor()
	s.Add("netmon", blockUntilDone, func() error {
		return errors.New("bad file descriptor")
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.NoError(t, waitWithTimeout(t, s))
}

func TestSupervisor_CloseUnblocksWorker(t *testing.T) {
	s := NewSupervisor()

	stop := make(chan struct{})
	s.Add("netmon", func(context.Context) error {
		// Ignores ctx, only the close func releases it.
		<-stop
		return nil
	}, func() error {
		close(stop)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.NoError(t, waitWithTimeout(t, s))
}

func TestSupervisor_NoWorkers(t *testing.T) {
	s := NewSupervisor()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.NoError(t, waitWithTimeout(t, s))
}

func TestSupervisor_Lifecycle(t *testing.T) {
	s := NewSupervisor()
	assert.ErrorIs(t, s.Wait(), ErrNotStarted)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)

	cancel()
	assert.NoError(t, waitWithTimeout(t, s))
}

package netmon

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrMonitorClosed is returned when the monitor's socket has been closed,
	// including for a wait that was outstanding when Close was called.
	ErrMonitorClosed = errors.New("netmon: monitor closed")

	// ErrWaitInProgress is returned when WaitForChangeEvent is called while
	// another call on the same monitor has not returned yet.
	ErrWaitInProgress = errors.New("netmon: wait already in progress")

	// ErrMalformedMessage is returned when a datagram contains a record whose
	// header or body does not fit in the received bytes.
	ErrMalformedMessage = errors.New("netmon: malformed netlink message")

	// ErrReceiveCyclesExhausted is returned when a receive cycle cap is
	// configured and no relevant change was seen within it.
	ErrReceiveCyclesExhausted = errors.New("netmon: receive cycles exhausted without a change")

	// ErrUnsupportedPlatform is returned by NewMonitor outside Linux.
	ErrUnsupportedPlatform = errors.New("netmon: rtnetlink is only available on linux")
)

// KernelError is an NLMSG_ERROR record reported by the kernel. Code is the
// signed value carried in the record, which the kernel sends as a negative
// errno.
type KernelError struct {
	Code int32
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("netmon: kernel reported error %d: %v", e.Code, e.Errno())
}

// Errno returns the positive errno value for the kernel code.
func (e *KernelError) Errno() syscall.Errno {
	if e.Code < 0 {
		return syscall.Errno(-e.Code)
	}
	return syscall.Errno(e.Code)
}

func (e *KernelError) Unwrap() error {
	return e.Errno()
}

// Error kinds used for logging and metrics labels.
const (
	ErrorKindKernel    = "kernel"
	ErrorKindMalformed = "malformed"
	ErrorKindClosed    = "closed"
	ErrorKindCanceled  = "canceled"
	ErrorKindExhausted = "exhausted"
	ErrorKindTransport = "transport"
)

// ErrorKind classifies an error returned by WaitForChangeEvent.
func ErrorKind(err error) string {
	var kerr *KernelError
	switch {
	case errors.As(err, &kerr):
		return ErrorKindKernel
	case errors.Is(err, ErrMalformedMessage):
		return ErrorKindMalformed
	case errors.Is(err, ErrMonitorClosed):
		return ErrorKindClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCanceled
	case errors.Is(err, ErrReceiveCyclesExhausted):
		return ErrorKindExhausted
	default:
		return ErrorKindTransport
	}
}

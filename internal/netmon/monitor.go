package netmon

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const defaultReceiveBufferSize = 4096

// conn is the receive side of a bound rtnetlink socket.
type conn interface {
	// Receive reads one datagram into b. It blocks until data arrives, ctx
	// is done or the conn is closed. The returned length is that of the whole
	// datagram and exceeds len(b) when the datagram did not fit.
	Receive(ctx context.Context, b []byte) (int, error)
	Close() error
}

type monitorConfig struct {
	maxReceiveCycles  int
	receiveBufferSize int
}

// Option configures a Monitor.
type Option func(*monitorConfig)

// WithMaxReceiveCycles caps the number of datagrams a single wait reads
// before giving up with ErrReceiveCyclesExhausted. Zero means no cap.
func WithMaxReceiveCycles(n int) Option {
	return func(c *monitorConfig) {
		if n >= 0 {
			c.maxReceiveCycles = n
		}
	}
}

// WithReceiveBufferSize sets the per-datagram receive buffer. Default is 4096.
func WithReceiveBufferSize(n int) Option {
	return func(c *monitorConfig) {
		if n > 0 {
			c.receiveBufferSize = n
		}
	}
}

// Monitor receives link, address and route change notifications from the
// kernel over a NETLINK_ROUTE socket.
//
// At most one WaitForChangeEvent call may be outstanding at a time. A Monitor
// must not be copied.
type Monitor struct {
	id        string
	conn      conn
	buf       []byte
	maxCycles int

	waiting atomic.Bool
	closed  atomic.Bool
}

// NewMonitor opens a NETLINK_ROUTE socket subscribed to link, IPv4/IPv6
// address and IPv4/IPv6 route changes. It fails with the OS error if the
// socket cannot be created or bound.
func NewMonitor(opts ...Option) (*Monitor, error) {
	c, err := openConn()
	if err != nil {
		return nil, err
	}
	return newMonitor(c, opts...), nil
}

func newMonitor(c conn, opts ...Option) *Monitor {
	cfg := monitorConfig{receiveBufferSize: defaultReceiveBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Monitor{
		id:        uuid.NewString(),
		conn:      c,
		buf:       make([]byte, cfg.receiveBufferSize),
		maxCycles: cfg.maxReceiveCycles,
	}

	m.logger().Info("Network monitor initialized")
	return m
}

// WaitForChangeEvent blocks until the kernel reports at least one link,
// address or route change and returns the union of everything seen since
// the call started. The result is never None when err is nil.
//
// A kernel error record, a malformed record or a failed receive aborts the
// call; nothing seen before the failure is returned.
func (m *Monitor) WaitForChangeEvent(ctx context.Context) (NetworkChangeEvent, error) {
	if m.closed.Load() {
		return None, ErrMonitorClosed
	}
	if !m.waiting.CompareAndSwap(false, true) {
		return None, ErrWaitInProgress
	}
	defer m.waiting.Store(false)

	received := None
	for cycle := 0; received.IsNone(); cycle++ {
		if m.maxCycles > 0 && cycle >= m.maxCycles {
			return None, ErrReceiveCyclesExhausted
		}

		n, err := m.conn.Receive(ctx, m.buf)
		if err != nil {
			if m.closed.Load() {
				return None, ErrMonitorClosed
			}
			return None, err
		}

		truncated := n > len(m.buf)
		if truncated {
			m.logger().WithFields(log.Fields{
				"bytes":  n,
				"buffer": len(m.buf),
			}).Debug("Netlink datagram truncated")
			n = len(m.buf)
		}

		events, err := classifyDatagram(m.buf[:n], truncated)
		if err != nil {
			return None, err
		}

		m.logger().WithFields(log.Fields{
			"bytes":  n,
			"events": events.String(),
		}).Trace("Decoded netlink datagram")

		received = received.Union(events)
	}

	return received, nil
}

// Close releases the socket. An outstanding wait fails with ErrMonitorClosed.
// Calling Close more than once is a no-op.
func (m *Monitor) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	err := m.conn.Close()
	m.logger().Info("Network monitor destroyed")
	return err
}

func (m *Monitor) logger() *log.Entry {
	return log.WithField("monitor", m.id)
}

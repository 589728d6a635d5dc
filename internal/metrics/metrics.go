package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmdmdm-nz/netmond/internal/netmon"
)

// Category label values, in the order they are rendered by
// NetworkChangeEvent.String.
const (
	CategoryNIC   = "nic"
	CategoryIP    = "ip"
	CategoryRoute = "route"
)

type Metrics struct {
	EventsTotal     prometheus.Counter
	ChangesTotal    *prometheus.CounterVec
	WaitErrorsTotal *prometheus.CounterVec
	RestartsTotal   prometheus.Counter

	eventsCount   atomic.Uint64
	restartsCount atomic.Uint64
	mu            sync.Mutex
	changes       map[string]uint64
	waitErrors    map[string]uint64
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmond_events_total",
			Help: "Total number of change events returned by the network monitor",
		}),
		ChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netmond_changes_total",
			Help: "Change events by category",
		}, []string{"category"}),
		WaitErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netmond_wait_errors_total",
			Help: "Failed waits for a change event by kind",
		}, []string{"kind"}),
		RestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmond_monitor_restarts_total",
			Help: "Total number of times the network monitor was recreated",
		}),
		changes:    map[string]uint64{},
		waitErrors: map[string]uint64{},
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.EventsTotal,
		m.ChangesTotal,
		m.WaitErrorsTotal,
		m.RestartsTotal,
	)
	return m
}

func (m *Metrics) ObserveEvent(ev netmon.NetworkChangeEvent) {
	if ev.IsNone() {
		return
	}
	m.eventsCount.Add(1)
	m.EventsTotal.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range []struct {
		flag  netmon.NetworkChangeEvent
		label string
	}{
		{netmon.NicChanged, CategoryNIC},
		{netmon.AddressChanged, CategoryIP},
		{netmon.RouteChanged, CategoryRoute},
	} {
		if ev.Has(c.flag) {
			m.ChangesTotal.WithLabelValues(c.label).Inc()
			m.changes[c.label]++
		}
	}
}

func (m *Metrics) ObserveError(kind string) {
	if kind == "" {
		return
	}
	m.WaitErrorsTotal.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.waitErrors[kind]++
	m.mu.Unlock()
}

func (m *Metrics) ObserveRestart() {
	m.restartsCount.Add(1)
	m.RestartsTotal.Inc()
}

var _ netmon.Recorder = (*Metrics)(nil)

type Snapshot struct {
	Events     uint64
	Restarts   uint64
	Changes    map[string]uint64
	WaitErrors map[string]uint64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	changes := make(map[string]uint64, len(m.changes))
	for k, v := range m.changes {
		changes[k] = v
	}
	waitErrors := make(map[string]uint64, len(m.waitErrors))
	for k, v := range m.waitErrors {
		waitErrors[k] = v
	}
	m.mu.Unlock()
	return Snapshot{
		Events:     m.eventsCount.Load(),
		Restarts:   m.restartsCount.Load(),
		Changes:    changes,
		WaitErrors: waitErrors,
	}
}

// StartServer serves the default registry on address and path until ctx
// is done.
func StartServer(ctx context.Context, address, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    address,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/reachd/internal/reachmgr"
)

var connections = []string{"ethernet-or-wifi", "cellular"}

// Metrics holds the reachd Prometheus collectors and the registry they are
// exposed from.
type Metrics struct {
	// TargetReachable is 1 for the connection a target is reachable over.
	TargetReachable *prometheus.GaugeVec
	StatusChanges   *prometheus.CounterVec
	Targets         prometheus.Gauge

	registry *prometheus.Registry

	evCh    <-chan reachmgr.StatusEvent
	evUnsub func()
}

// NewMetrics creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		TargetReachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reachd_target_reachable",
			Help: "Whether a target is reachable over a connection type (1 for reachable, 0 otherwise)",
		}, []string{"target", "connection"}),

		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reachd_status_changes_total",
			Help: "Total number of reachability status changes per target",
		}, []string{"target", "status"}),

		Targets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reachd_targets",
			Help: "Number of targets being watched",
		}),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.TargetReachable,
		m.StatusChanges,
		m.Targets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AttachReachMgr wires the status stream (must be called before Start).
func (m *Metrics) AttachReachMgr(ch <-chan reachmgr.StatusEvent, unsub func()) {
	m.evCh = ch
	m.evUnsub = unsub
}

func (m *Metrics) Start(ctx context.Context) error {
	log.Info("Starting metrics service")
	defer log.Info("Stopping metrics service")

	if m.evCh == nil {
		log.Error("AttachReachMgr was not called before Start")
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-m.evCh:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

func (m *Metrics) Close() error {
	if m.evUnsub != nil {
		m.evUnsub()
	}
	return nil
}

// Observe applies one status event to the collectors.
func (m *Metrics) Observe(ev reachmgr.StatusEvent) {
	target := ev.Target.Target

	switch ev.Type {
	case reachmgr.TargetAdded:
		m.Targets.Inc()
		m.setReachable(target, ev.Target)
	case reachmgr.StatusChanged:
		m.StatusChanges.WithLabelValues(target, ev.Target.Status.String()).Inc()
		m.setReachable(target, ev.Target)
	case reachmgr.TargetRemoved:
		m.Targets.Dec()
		m.TargetReachable.DeletePartialMatch(prometheus.Labels{"target": target})
		m.StatusChanges.DeletePartialMatch(prometheus.Labels{"target": target})
	}
}

func (m *Metrics) setReachable(target string, st reachmgr.TargetStatus) {
	current, reachable := st.Status.ConnectionType()
	for _, conn := range connections {
		v := 0.0
		if reachable && current.String() == conn {
			v = 1
		}
		m.TargetReachable.WithLabelValues(target, conn).Set(v)
	}
}

// Package adapter connects hostsys events to external monitoring systems.
package adapter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/hostsys/pkg/fault"
	"github.com/srediag/hostsys/pkg/hostsys"
)

// PrometheusObserver turns memory events and faults into Prometheus metrics.
type PrometheusObserver struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
	mapped  *prometheus.GaugeVec
	faults  *prometheus.CounterVec
}

// NewPrometheusObserver creates the collectors and registers them with reg.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) (*PrometheusObserver, error) {
	p := &PrometheusObserver{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Memory operations by kind and result.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_operation_duration_seconds",
			Help:      "Time spent in the kernel per memory operation.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"op"}),
		mapped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mapped_bytes",
			Help:      "Bytes currently mapped, by kind.",
		}, []string{"kind"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_faults_total",
			Help:      "Intercepted page faults by access kind and decision.",
		}, []string{"access", "decision"}),
	}
	for _, c := range []prometheus.Collector{p.ops, p.latency, p.mapped, p.faults} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Observe implements hostsys.Observer.
func (p *PrometheusObserver) Observe(e hostsys.Event) {
	op := string(e.Op)
	if e.Err != nil {
		p.ops.WithLabelValues(op, "error").Inc()
		return
	}
	p.ops.WithLabelValues(op, "ok").Inc()
	p.latency.WithLabelValues(op).Observe(e.Duration.Seconds())
	if kind, sign := mappedDelta(e.Op); kind != "" {
		p.mapped.WithLabelValues(kind).Add(sign * float64(e.Size))
	}
}

// ObserveFault has the shape of fault.Observer.
func (p *PrometheusObserver) ObserveFault(f fault.Fault, d fault.Decision) {
	p.faults.WithLabelValues(f.Access.String(), d.String()).Inc()
}

// mappedDelta classifies an operation's effect on the mapped byte gauges.
func mappedDelta(op hostsys.Op) (string, float64) {
	switch op {
	case hostsys.OpReserve:
		return "private", 1
	case hostsys.OpRelease:
		return "private", -1
	case hostsys.OpShmMap, hostsys.OpAreaMap:
		return "shared", 1
	case hostsys.OpShmUnmap, hostsys.OpAreaUnmap:
		return "shared", -1
	case hostsys.OpAreaCreate:
		return "area", 1
	case hostsys.OpAreaClose:
		return "area", -1
	}
	return "", 0
}

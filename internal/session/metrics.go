package session

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	accepted       prometheus.Counter
	disconnections *prometheus.CounterVec
	active         prometheus.Gauge
	delivered      prometheus.Counter
	dropped        prometheus.Counter
	writeFailures  prometheus.Counter
	fanoutSize     prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intel_stream",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted client connections",
		}),
		disconnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intel_stream",
			Name:      "disconnections_total",
			Help:      "Total number of client disconnections by reason",
		}, []string{"reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "intel_stream",
			Name:      "active_connections",
			Help:      "Number of open client connections",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intel_stream",
			Name:      "frames_delivered_total",
			Help:      "Total number of frames written to client transports",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intel_stream",
			Name:      "frames_dropped_total",
			Help:      "Total number of frames evicted from full outbound queues",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intel_stream",
			Name:      "write_failures_total",
			Help:      "Total number of transport write failures",
		}),
		fanoutSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intel_stream",
			Name:      "fanout_recipients",
			Help:      "Number of recipients per published record",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	collectors := []prometheus.Collector{
		m.accepted, m.disconnections, m.active, m.delivered, m.dropped, m.writeFailures, m.fanoutSize,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register session metrics: %w", err)
		}
	}
	return m, nil
}

// Package metrics exposes Prometheus counters for the serial link and the
// message dispatcher. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gasmix"

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the link and dispatch collectors.
type Metrics struct {
	BytesRead      prometheus.Counter
	FramesReceived prometheus.Counter
	FramesSent     prometheus.Counter
	ReadErrors     prometheus.Counter
	WriteErrors    prometheus.Counter
	GarbageResets  prometheus.Counter
	Routed         *prometheus.CounterVec // labels: route
	Dropped        *prometheus.CounterVec // labels: reason
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_bytes_read_total",
			Help:      "Bytes read from the serial device.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_frames_received_total",
			Help:      "Complete frames extracted from the serial stream.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_frames_sent_total",
			Help:      "Frames written to the serial device.",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_read_errors_total",
			Help:      "Failed serial reads.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_write_errors_total",
			Help:      "Failed serial writes; the message is lost.",
		}),
		GarbageResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_garbage_resets_total",
			Help:      "Framer buffer resets caused by data without a start marker.",
		}),
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_routed_total",
			Help:      "Inbound messages delivered, by route.",
		}, []string{"route"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dropped_total",
			Help:      "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.BytesRead, m.FramesReceived, m.FramesSent, m.ReadErrors,
		m.WriteErrors, m.GarbageResets, m.Routed, m.Dropped)
	return m
}

func (m *Metrics) AddBytesRead(n int) {
	if m != nil {
		m.BytesRead.Add(float64(n))
	}
}

func (m *Metrics) AddFramesReceived(n int) {
	if m != nil {
		m.FramesReceived.Add(float64(n))
	}
}

func (m *Metrics) IncFramesSent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

func (m *Metrics) IncReadErrors() {
	if m != nil {
		m.ReadErrors.Inc()
	}
}

func (m *Metrics) IncWriteErrors() {
	if m != nil {
		m.WriteErrors.Inc()
	}
}

func (m *Metrics) AddGarbageResets(n int) {
	if m != nil && n > 0 {
		m.GarbageResets.Add(float64(n))
	}
}

func (m *Metrics) IncRouted(route string) {
	if m != nil {
		m.Routed.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) IncDropped(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

// SPDX-License-Identifier: MIT
// Package metrics exposes engine telemetry to Prometheus. Each engine owns
// its own registry so several engines can live in one process.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lipsync/internal/events"
	applog "lipsync/internal/log"
)

// Metrics collects counters and gauges derived from the engine event stream.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal      *prometheus.CounterVec
	visemesTotal     *prometheus.CounterVec
	underrunsTotal   prometheus.Counter
	overflowSamples  prometheus.Counter
	telemetryDropped prometheus.Counter
	bufferLevel      prometheus.Gauge
	bufferSeconds    prometheus.Gauge
	positionSeconds  prometheus.Gauge
	playing          prometheus.Gauge
	intensity        prometheus.Histogram
}

// New creates a registry and registers a fresh set of collectors on it.
func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on an existing registry.
func NewWithRegistry(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register lipsync metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lipsync_events_total",
			Help: "Events emitted by the engine",
		},
		[]string{"event"},
	)

	m.visemesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lipsync_viseme_frames_total",
			Help: "Analysis frames by reported viseme",
		},
		[]string{"viseme", "coarse"},
	)

	m.underrunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lipsync_buffer_underruns_total",
		Help: "Contiguous silent runs while playing",
	})

	m.overflowSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lipsync_buffer_overflow_samples_total",
		Help: "Samples discarded by drop-oldest backpressure",
	})

	m.telemetryDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lipsync_telemetry_dropped_total",
		Help: "Playback telemetry messages lost because the dispatcher fell behind",
	})

	m.bufferLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lipsync_buffer_level_ratio",
		Help: "Playback ring fill level (0.0 to 1.0)",
	})

	m.bufferSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lipsync_buffer_seconds",
		Help: "Buffered audio ahead of the play head",
	})

	m.positionSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lipsync_position_seconds",
		Help: "Playback position",
	})

	m.playing = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lipsync_playing",
		Help: "1 while audio is audible",
	})

	m.intensity = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lipsync_viseme_intensity",
		Help:    "Distribution of reported mouth intensity",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.eventsTotal.Describe(ch)
	m.visemesTotal.Describe(ch)
	m.underrunsTotal.Describe(ch)
	m.overflowSamples.Describe(ch)
	m.telemetryDropped.Describe(ch)
	m.bufferLevel.Describe(ch)
	m.bufferSeconds.Describe(ch)
	m.positionSeconds.Describe(ch)
	m.playing.Describe(ch)
	m.intensity.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.eventsTotal.Collect(ch)
	m.visemesTotal.Collect(ch)
	m.underrunsTotal.Collect(ch)
	m.overflowSamples.Collect(ch)
	m.telemetryDropped.Collect(ch)
	m.bufferLevel.Collect(ch)
	m.bufferSeconds.Collect(ch)
	m.positionSeconds.Collect(ch)
	m.playing.Collect(ch)
	m.intensity.Collect(ch)
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe updates the collectors from one event. It has the signature of an
// events.AnyListener so it can subscribe directly.
func (m *Metrics) Observe(name events.Name, ev events.Event) {
	m.eventsTotal.WithLabelValues(string(name)).Inc()

	switch e := ev.(type) {
	case events.Viseme:
		m.visemesTotal.WithLabelValues(e.Viseme.String(), e.Coarse.String()).Inc()
		m.intensity.Observe(e.Intensity)
		if e.BufferLevel > 0 {
			m.bufferLevel.Set(e.BufferLevel)
		}
	case events.Position:
		m.bufferLevel.Set(e.BufferLevel)
		m.bufferSeconds.Set(e.BufferMs / 1000)
		m.positionSeconds.Set(e.TimeMs / 1000)
		if e.IsPlaying {
			m.playing.Set(1)
		} else {
			m.playing.Set(0)
		}
	case events.PlaybackStarted:
		m.playing.Set(1)
	case events.PlaybackEnded:
		m.playing.Set(0)
	case events.BufferUnderrun:
		m.underrunsTotal.Inc()
	case events.BufferOverflow:
		m.overflowSamples.Add(float64(e.Dropped))
	case events.Reset:
		m.positionSeconds.Set(0)
		m.bufferLevel.Set(0)
		m.bufferSeconds.Set(0)
	}
}

// AddTelemetryDropped records messages the playback notifier discarded.
func (m *Metrics) AddTelemetryDropped(n uint64) {
	if n > 0 {
		m.telemetryDropped.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers mounts /metrics on mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
	applog.Debugf("Metrics: /metrics registered")
}

var _ prometheus.Collector = (*Metrics)(nil)

package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// monitorMetrics holds the prometheus instruments for one monitor session,
// registered on a private registry so the /metrics endpoint only exposes ours
type monitorMetrics struct {
	registry *prometheus.Registry

	Polls             prometheus.Counter
	FeedErrors        prometheus.Counter
	PositionsReceived prometheus.Counter
	TimetableErrors   prometheus.Counter
	ArrivalsDetected  prometheus.Counter
	JourneysStarted   prometheus.Counter
	CellsWritten      prometheus.Counter
	PersistErrors     prometheus.Counter
	CycleSeconds      prometheus.Histogram
}

func newMonitorMetrics() *monitorMetrics {
	m := &monitorMetrics{
		registry: prometheus.NewRegistry(),
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_monitor_polls_total",
			Help: "Number of feed poll cycles performed.",
		}),
		FeedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_monitor_feed_errors_total",
			Help: "Number of feed requests that failed or could not be parsed.",
		}),
		PositionsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_monitor_positions_received_total",
			Help: "Number of vehicle positions read from the feed.",
		}),
		TimetableErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_monitor_timetable_errors_total",
			Help: "Number of positions skipped because the route timetable could not be loaded.",
		}),
		ArrivalsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_monitor_arrivals_detected_total",
			Help: "Number of stop arrival events detected.",
		}),
		JourneysStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_monitor_journeys_started_total",
			Help: "Number of new journeys opened.",
		}),
		CellsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_monitor_cells_written_total",
			Help: "Number of arrival cells persisted to a row store.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_monitor_persist_errors_total",
			Help: "Number of failed attempts to persist an arrival.",
		}),
		CycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bus_monitor_cycle_seconds",
			Help:    "Time spent fetching and processing one poll cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
	m.registry.MustRegister(
		m.Polls,
		m.FeedErrors,
		m.PositionsReceived,
		m.TimetableErrors,
		m.ArrivalsDetected,
		m.JourneysStarted,
		m.CellsWritten,
		m.PersistErrors,
		m.CycleSeconds,
	)
	return m
}

// handler serves the session's registry for the web service's /metrics route
func (m *monitorMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

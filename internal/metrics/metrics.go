package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trip-monitor/internal/hub"
	"trip-monitor/internal/logging"
	"trip-monitor/internal/trip"
)

type Collector struct {
	reg *prometheus.Registry

	ConnectionState prometheus.Gauge // hub.State as a number
	ConnectAttempts prometheus.Counter
	ConnectFailures prometheus.Counter
	Reconnects      prometheus.Counter
	ConnectDuration prometheus.Histogram

	Events        *prometheus.CounterVec // labels: kind, outcome
	DecodeErrors  prometheus.Counter
	ApplyDuration prometheus.Histogram

	Seeds        *prometheus.CounterVec // result label: ok|error
	SeedDuration prometheus.Histogram

	RosterTrips    prometheus.Gauge
	TripsReporting prometheus.Gauge
	Students       *prometheus.GaugeVec // status label

	BackoffInitial prometheus.Gauge // seconds
	BackoffMax     prometheus.Gauge // seconds
	RefreshPeriod  prometheus.Gauge // seconds
}

func NewCollector(backoffInitial, backoffMax, refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_hub_connection_state",
			Help: "Supervisor state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting.",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_hub_connect_attempts_total",
			Help: "Total hub connect attempts.",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_hub_connect_failures_total",
			Help: "Total failed or timed out hub connect attempts.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_hub_drops_total",
			Help: "Total connected sessions that dropped and entered reconnecting.",
		}),
		ConnectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_hub_connect_duration_seconds",
			Help:    "Duration of hub connect attempts.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_events_total",
			Help: "Hub events by kind and store outcome.",
		}, []string{"kind", "outcome"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_event_decode_errors_total",
			Help: "Hub messages that could not be decoded.",
		}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_event_apply_duration_seconds",
			Help:    "Duration to decode and apply one hub event.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		Seeds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_roster_seeds_total",
			Help: "Roster fetches by result.",
		}, []string{"result"}),
		SeedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_roster_seed_duration_seconds",
			Help:    "Duration of roster fetches.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		RosterTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_roster_trips",
			Help: "Trips currently in the roster.",
		}),
		TripsReporting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_trips_reporting_location",
			Help: "Roster trips with a known location.",
		}),
		Students: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "monitor_students",
			Help: "Students on ongoing trips by attendance status.",
		}, []string{"status"}),
		BackoffInitial: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_backoff_initial_seconds",
			Help: "First reconnect delay in seconds.",
		}),
		BackoffMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_backoff_max_seconds",
			Help: "Reconnect delay cap in seconds.",
		}),
		RefreshPeriod: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_roster_refresh_interval_seconds",
			Help: "Periodic roster refresh interval in seconds, 0 if disabled.",
		}),
	}

	reg.MustRegister(
		c.ConnectionState, c.ConnectAttempts, c.ConnectFailures, c.Reconnects, c.ConnectDuration,
		c.Events, c.DecodeErrors, c.ApplyDuration,
		c.Seeds, c.SeedDuration,
		c.RosterTrips, c.TripsReporting, c.Students,
		c.BackoffInitial, c.BackoffMax, c.RefreshPeriod,
	)

	c.BackoffInitial.Set(backoffInitial.Seconds())
	c.BackoffMax.Set(backoffMax.Seconds())
	c.RefreshPeriod.Set(refreshInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	log := logging.NewLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server error")
		}
	}()
	log.Infof("metrics listening on %s", addr)
	return srv
}

// Supervisor adapts the collector to supervisor.Metrics.
func (c *Collector) Supervisor() *SupervisorMetrics { return &SupervisorMetrics{c: c} }

// Roster adapts the collector to roster.Metrics.
func (c *Collector) Roster() *RosterMetrics { return &RosterMetrics{c: c} }

type SupervisorMetrics struct{ c *Collector }

func (m *SupervisorMetrics) ConnectAttemptInc()             { m.c.ConnectAttempts.Inc() }
func (m *SupervisorMetrics) ConnectFailureInc()             { m.c.ConnectFailures.Inc() }
func (m *SupervisorMetrics) ReconnectInc()                  { m.c.Reconnects.Inc() }
func (m *SupervisorMetrics) ConnectObserve(d time.Duration) { m.c.ConnectDuration.Observe(d.Seconds()) }
func (m *SupervisorMetrics) SetState(s hub.State)           { m.c.ConnectionState.Set(float64(s)) }

type RosterMetrics struct{ c *Collector }

func (m *RosterMetrics) SeedInc(result string)       { m.c.Seeds.WithLabelValues(result).Inc() }
func (m *RosterMetrics) SeedObserve(d time.Duration) { m.c.SeedDuration.Observe(d.Seconds()) }

// Monitor adapts the collector to monitor.Metrics.
func (c *Collector) Monitor() *MonitorMetrics { return &MonitorMetrics{c: c} }

type MonitorMetrics struct{ c *Collector }

func (m *MonitorMetrics) EventObserve(kind, outcome string, d time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	m.c.Events.WithLabelValues(kind, outcome).Inc()
	m.c.ApplyDuration.Observe(d.Seconds())
}

func (m *MonitorMetrics) DecodeErrorInc() { m.c.DecodeErrors.Inc() }

func (m *MonitorMetrics) StatsSet(st trip.Stats) {
	m.c.RosterTrips.Set(float64(st.Trips))
	m.c.TripsReporting.Set(float64(st.TripsReporting))
	m.c.Students.WithLabelValues(string(trip.Boarded)).Set(float64(st.StudentsBoarded))
	m.c.Students.WithLabelValues(string(trip.Dropped)).Set(float64(st.StudentsDropped))
	m.c.Students.WithLabelValues(string(trip.Absent)).Set(float64(st.StudentsAbsent))
	m.c.Students.WithLabelValues(string(trip.Pending)).Set(float64(st.StudentsPending))
}

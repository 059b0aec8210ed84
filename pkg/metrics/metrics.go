// Package metrics exposes this runtime's Prometheus instrumentation.
// Grounded on pkg/observability/prometheus/metrics.go's promauto-built
// metric-struct pattern, retargeted from HTTP/verticle/eventbus counters
// onto the state-machine domain: registry size, transitions, timeouts,
// persistence, archival, and batch-logger backpressure.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultRegistry is the process-wide Prometheus registry.
var DefaultRegistry = prometheus.NewRegistry()

// DefaultRegisterer namespaces every metric under service="statekeep".
var DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "statekeep"}, DefaultRegistry)

var (
	once sync.Once
	m    *Metrics
)

// Metrics holds every counter/gauge/histogram this runtime emits.
type Metrics struct {
	TransitionsTotal       *prometheus.CounterVec
	TransitionDuration     *prometheus.HistogramVec
	TransitionsIgnored     *prometheus.CounterVec
	MachinesActive         prometheus.Gauge
	MachinesDegraded       prometheus.Gauge
	RegistryOutcomesTotal  *prometheus.CounterVec
	MailboxDepth           *prometheus.GaugeVec
	TimeoutsScheduled      prometheus.Counter
	TimeoutsFired          prometheus.Counter
	TimeoutsCancelled      prometheus.Counter
	SchedulerPending       prometheus.Gauge
	PersistenceRetries     *prometheus.CounterVec
	BatchLogBackpressure   *prometheus.CounterVec
	BatchLogFlushDuration  *prometheus.HistogramVec
	ArchivalMovedTotal     prometheus.Counter
	ArchivalFailuresTotal  prometheus.Counter
	RetentionDeletedTotal  prometheus.Counter
	DatabaseConnectionsOpen *prometheus.GaugeVec
	DatabaseConnectionsIdle *prometheus.GaugeVec
}

// Get returns the process-wide Metrics, constructing it on first use.
func Get() *Metrics {
	once.Do(func() {
		m = New(DefaultRegisterer)
	})
	return m
}

// New builds a fresh Metrics registered against registerer — tests use
// their own prometheus.NewRegistry() to avoid colliding with the process
// default.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	f := promauto.With(registerer)
	return &Metrics{
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statekeep_transitions_total",
			Help: "Total number of committed state transitions.",
		}, []string{"machine_type", "event_type", "state_after"}),
		TransitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statekeep_transition_duration_seconds",
			Help:    "Wall time spent executing a transition's handler and persistence.",
			Buckets: prometheus.DefBuckets,
		}, []string{"machine_type", "event_type"}),
		TransitionsIgnored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statekeep_transitions_ignored_total",
			Help: "Events that matched no stay-action or transition in the machine's current state.",
		}, []string{"machine_type", "state"}),
		MachinesActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "statekeep_machines_active",
			Help: "Number of machines currently resident in the registry.",
		}),
		MachinesDegraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "statekeep_machines_degraded",
			Help: "Number of resident machines currently in degraded mode.",
		}),
		RegistryOutcomesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statekeep_registry_outcomes_total",
			Help: "SendEvent outcomes by result.",
		}, []string{"result"}),
		MailboxDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statekeep_mailbox_depth",
			Help: "Pending events in a machine's mailbox, sampled.",
		}, []string{"machine_type"}),
		TimeoutsScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "statekeep_timeouts_scheduled_total",
			Help: "Total timeouts scheduled.",
		}),
		TimeoutsFired: f.NewCounter(prometheus.CounterOpts{
			Name: "statekeep_timeouts_fired_total",
			Help: "Total timeouts that fired and were delivered.",
		}),
		TimeoutsCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "statekeep_timeouts_cancelled_total",
			Help: "Total timeouts cancelled before firing.",
		}),
		SchedulerPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "statekeep_scheduler_pending",
			Help: "Timeout entries currently pending in the scheduler's heap.",
		}),
		PersistenceRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statekeep_persistence_retries_total",
			Help: "Persist hook retry attempts, by machine type.",
		}, []string{"machine_type"}),
		BatchLogBackpressure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statekeep_batchlog_backpressure_total",
			Help: "Enqueue calls rejected because a batch logger's buffer was full.",
		}, []string{"label"}),
		BatchLogFlushDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statekeep_batchlog_flush_duration_seconds",
			Help:    "Time spent flushing one batch to storage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"label"}),
		ArchivalMovedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "statekeep_archival_moved_total",
			Help: "Entity graphs moved from active to history storage.",
		}),
		ArchivalFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "statekeep_archival_failures_total",
			Help: "Archival attempts that failed and were left for retry.",
		}),
		RetentionDeletedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "statekeep_retention_deleted_total",
			Help: "History rows deleted by a retention pass.",
		}),
		DatabaseConnectionsOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statekeep_database_connections_open",
			Help: "Open connections per pool.",
		}, []string{"pool"}),
		DatabaseConnectionsIdle: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statekeep_database_connections_idle",
			Help: "Idle connections per pool.",
		}, []string{"pool"}),
	}
}

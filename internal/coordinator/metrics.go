package coordinator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes coordinator health to Prometheus and keeps a small
// in-memory per-operation snapshot for the daemon's status RPC.
type Metrics struct {
	creates           prometheus.Counter
	createFailures    *prometheus.CounterVec
	partialFailures   prometheus.Counter
	consistencyFaults prometheus.Counter
	eventsConsumed    *prometheus.CounterVec
	reconcileRuns     prometheus.Counter
	activeRecords     prometheus.Gauge

	mu        sync.Mutex
	opCounts  map[string]int
	opErrors  map[string]int
	updatedAt time.Time
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		creates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockroute_shipment_creates_total",
			Help: "Create sequences started.",
		}),
		createFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockroute_shipment_create_failures_total",
			Help: "Create sequences that ended in an error, by category.",
		}, []string{"category"}),
		partialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockroute_partial_failures_total",
			Help: "Context accepted but ledger never did.",
		}),
		consistencyFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockroute_consistency_faults_total",
			Help: "Ledger-confirmed and context-notified content disagreed.",
		}),
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockroute_context_events_total",
			Help: "Context events consumed, by kind.",
		}, []string{"kind"}),
		reconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockroute_reconcile_runs_total",
			Help: "Post-gap reconciliation sweeps.",
		}),
		activeRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blockroute_active_correlation_records",
			Help: "Correlation records currently retained.",
		}),
		opCounts: make(map[string]int),
		opErrors: make(map[string]int),
	}
	reg.MustRegister(m.creates, m.createFailures, m.partialFailures,
		m.consistencyFaults, m.eventsConsumed, m.reconcileRuns, m.activeRecords)
	return m
}

func (m *Metrics) recordOp(op string, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.opCounts[op]++
	if err != nil {
		m.opErrors[op]++
	}
	m.updatedAt = time.Now().UTC()
	m.mu.Unlock()
}

// OpSnapshot copies the per-operation counters.
func (m *Metrics) OpSnapshot() (counts, errCounts map[string]int, updatedAt time.Time) {
	if m == nil {
		return map[string]int{}, map[string]int{}, time.Time{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	counts = make(map[string]int, len(m.opCounts))
	for k, v := range m.opCounts {
		counts[k] = v
	}
	errCounts = make(map[string]int, len(m.opErrors))
	for k, v := range m.opErrors {
		errCounts[k] = v
	}
	return counts, errCounts, m.updatedAt
}

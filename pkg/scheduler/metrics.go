package scheduler

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/entrhq/browsergrid/pkg/types"
)

// Snapshot is a point-in-time view of the current (or last) batch.
type Snapshot struct {
	Total           int           `json:"total"`
	Queued          int           `json:"queued"`
	Running         int           `json:"running"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	AverageDuration time.Duration `json:"average_duration"`
	ActiveWorkers   int           `json:"active_workers"`
	Workers         int           `json:"workers"`
}

// Finished counts specs with a result.
func (s Snapshot) Finished() int {
	return s.Completed + s.Failed
}

type metrics struct {
	mu       sync.Mutex
	snap     Snapshot
	durTotal time.Duration
	states   map[int]State

	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  prometheus.Counter
	stalls   prometheus.Counter
	active   prometheus.Gauge
	queued   prometheus.Gauge
}

// newMetrics creates the collectors. A nil registerer leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		states: make(map[int]State),
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "browsergrid",
			Name:      "tests_total",
			Help:      "Finished tests by browser type and outcome.",
		}, []string{"browser", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "browsergrid",
			Name:      "test_duration_seconds",
			Help:      "Wall time of finished tests, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"browser"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "browsergrid",
			Name:      "test_retries_total",
			Help:      "Attempts made after a failed first run.",
		}),
		stalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "browsergrid",
			Name:      "worker_stalls_total",
			Help:      "Worker slots restarted by the stall watchdog.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "browsergrid",
			Name:      "active_workers",
			Help:      "Worker slots currently running a test.",
		}),
		queued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "browsergrid",
			Name:      "queued_tests",
			Help:      "Tests waiting for a worker.",
		}),
	}
}

func (m *metrics) reset(total, workers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = Snapshot{Total: total, Queued: total, Workers: workers}
	m.durTotal = 0
	m.states = make(map[int]State, total)
	for i := 0; i < total; i++ {
		m.states[i] = StateQueued
	}
	m.queued.Set(float64(total))
	m.active.Set(0)
}

func (s State) active() bool {
	return s == StateAssigned || s == StateRunning
}

// transition moves a spec between states and keeps the counters in step.
// Finished specs never move again.
func (m *metrics) transition(job int, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, ok := m.states[job]
	if !ok || from == to || from == StateCompleted || from == StateFailed {
		return
	}
	m.states[job] = to

	count := func(st State, delta int) {
		switch st {
		case StateQueued:
			m.snap.Queued += delta
		case StateRunning:
			m.snap.Running += delta
		}
		if st.active() {
			m.snap.ActiveWorkers += delta
		}
	}
	count(from, -1)
	count(to, 1)

	m.queued.Set(float64(m.snap.Queued))
	m.active.Set(float64(m.snap.ActiveWorkers))
}

func (m *metrics) record(job int, r TestResult) {
	to := StateFailed
	outcome := "failed"
	if r.Success {
		to = StateCompleted
		outcome = "passed"
	}
	m.transition(job, to)

	m.mu.Lock()
	if r.Success {
		m.snap.Completed++
	} else {
		m.snap.Failed++
	}
	m.durTotal += r.Duration
	if n := m.snap.Completed + m.snap.Failed; n > 0 {
		m.snap.AverageDuration = m.durTotal / time.Duration(n)
	}
	m.mu.Unlock()

	m.results.WithLabelValues(browserLabel(r.BrowserType), outcome).Inc()
	m.duration.WithLabelValues(browserLabel(r.BrowserType)).Observe(r.Duration.Seconds())
}

func (m *metrics) retry() {
	m.retries.Inc()
}

func (m *metrics) stall() {
	m.stalls.Inc()
}

func (m *metrics) state(job int) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[job]
}

func (m *metrics) snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// browserLabel names the browser label of specs without a browser type.
func browserLabel(bt types.BrowserType) string {
	if bt == "" {
		return "unknown"
	}
	return string(bt)
}

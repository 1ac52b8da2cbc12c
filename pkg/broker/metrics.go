package broker

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the broker's login/bridge Prometheus counters.
type Metrics struct {
	started   *prometheus.CounterVec
	completed prometheus.Counter
	failed    *prometheus.CounterVec
}

// NewMetrics registers the broker's counters with reg and returns a Metrics
// ready to record against.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbroker_login_started_total",
			Help: "Number of authentication attempts started, by bridge.",
		}, []string{"bridge"}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authbroker_login_completed_total",
			Help: "Number of authentication attempts that completed successfully.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbroker_login_failed_total",
			Help: "Number of authentication attempts that failed, by error kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.started, m.completed, m.failed)
	return m
}

func (m *Metrics) recordStarted(bridge string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(bridge).Inc()
}

func (m *Metrics) recordCompleted() {
	if m == nil {
		return
	}
	m.completed.Inc()
}

func (m *Metrics) recordFailed(kind Kind) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(string(kind)).Inc()
}

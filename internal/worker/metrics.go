package worker

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the per-worker counters, labelled by worker name. One
// Metrics value is shared by every worker of a robot.
type Metrics struct {
	Cycles        *prometheus.CounterVec
	Commands      *prometheus.CounterVec
	ApplyErrors   *prometheus.CounterVec
	RunErrors     *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	Running       *prometheus.GaugeVec
}

// NewMetrics creates the worker metrics and registers them with reg. A nil
// reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autocar",
				Subsystem: "worker",
				Name:      "cycles_total",
				Help:      "Completed run/emit cycles",
			},
			[]string{"worker"},
		),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autocar",
				Subsystem: "worker",
				Name:      "commands_total",
				Help:      "Commands taken from the command channel, EXIT included",
			},
			[]string{"worker"},
		),
		ApplyErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autocar",
				Subsystem: "worker",
				Name:      "apply_errors_total",
				Help:      "Commands the component rejected",
			},
			[]string{"worker"},
		),
		RunErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autocar",
				Subsystem: "worker",
				Name:      "run_errors_total",
				Help:      "Work units that returned an error",
			},
			[]string{"worker"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "autocar",
				Subsystem: "worker",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of one run/emit cycle",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"worker"},
		),
		Running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "autocar",
				Subsystem: "worker",
				Name:      "running",
				Help:      "1 while the worker loop is active",
			},
			[]string{"worker"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Cycles, m.Commands, m.ApplyErrors, m.RunErrors, m.CycleDuration, m.Running)
	}
	return m
}

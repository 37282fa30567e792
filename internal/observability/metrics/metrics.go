// Package metrics exposes Prometheus collectors for reminder delivery and
// serves them, with optional pprof, over HTTP.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"studybot/internal/eventbus"
)

const namespace = "studybot"

// Metrics implements the notifier and reminder recorders. A nil *Metrics is
// a valid no-op.
type Metrics struct {
	dispatch      *prometheus.CounterVec
	deduped       *prometheus.CounterVec
	planned       *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepFailures prometheus.Counter
	timersPending prometheus.Gauge
	tasks         *prometheus.CounterVec
}

// MustNewMetrics registers the collectors on reg, reusing any that are
// already registered there.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "dispatch_total",
			Help: "Channel delivery attempts by outcome.",
		}, []string{"channel", "kind", "result"}),
		deduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "deduped_total",
			Help: "Notifications suppressed inside the dedup window.",
		}, []string{"kind"}),
		planned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "jobs_total",
			Help: "Reminder jobs considered by the planner, by trigger kind and result.",
		}, []string{"kind", "result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "duration_seconds",
			Help:    "Wall time of one due-item sweep tick.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "user_failures_total",
			Help: "Users whose sweep work failed or panicked.",
		}),
		timersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "timers_pending",
			Help: "One-shot reminder timers currently registered.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "tasks_total",
			Help: "Task engine outcomes.",
		}, []string{"result"}),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}
	m.dispatch = register(m.dispatch).(*prometheus.CounterVec)
	m.deduped = register(m.deduped).(*prometheus.CounterVec)
	m.planned = register(m.planned).(*prometheus.CounterVec)
	m.sweepDuration = register(m.sweepDuration).(prometheus.Histogram)
	m.sweepFailures = register(m.sweepFailures).(prometheus.Counter)
	m.timersPending = register(m.timersPending).(prometheus.Gauge)
	m.tasks = register(m.tasks).(*prometheus.CounterVec)
	return m
}

func (m *Metrics) ObserveDispatch(channel, kind, result string) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(channel, kind, result).Inc()
}

func (m *Metrics) ObserveDedup(kind string) {
	if m == nil {
		return
	}
	m.deduped.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObservePlan(kind, result string) {
	if m == nil {
		return
	}
	m.planned.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveSweep(took time.Duration, failedUsers int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(took.Seconds())
	if failedUsers > 0 {
		m.sweepFailures.Add(float64(failedUsers))
	}
}

func (m *Metrics) SetTimersPending(n int) {
	if m == nil {
		return
	}
	m.timersPending.Set(float64(n))
}

// Watch counts task engine outcomes from the bus until ctx ends.
func (m *Metrics) Watch(ctx context.Context, bus eventbus.Bus) {
	if m == nil || bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			switch e.Type {
			case eventbus.TaskFinished:
				m.tasks.WithLabelValues("ok").Inc()
			case eventbus.TaskFailed:
				m.tasks.WithLabelValues("error").Inc()
			case eventbus.TaskDropped:
				m.tasks.WithLabelValues("dropped").Inc()
			}
		}
	}
}

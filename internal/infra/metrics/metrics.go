// Package metrics exports reminder tick outcomes to Prometheus.
package metrics

import (
	"net/http"

	"renewal_reminder/internal/app"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/reminder"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "renewal_reminder"

// Recorder implements app.TickRecorder on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	reminders    *prometheus.CounterVec // by outcome: sent, duplicate, failed
	skipped      *prometheus.CounterVec // by reason
	dispatches   *prometheus.CounterVec // by channel, status
	lastTick     prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Number of completed reminder ticks.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a reminder tick.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Due reminders by tick outcome.",
		}, []string{"outcome"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_skipped_total",
			Help:      "Items skipped by the due-reminder scan, by reason.",
		}, []string{"reason"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatch attempts by channel and status.",
		}, []string{"channel", "status"}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Start time of the last completed tick.",
		}),
	}
	r.registry.MustRegister(
		r.ticks, r.tickDuration, r.reminders, r.skipped, r.dispatches, r.lastTick,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)
	return r
}

func (r *Recorder) ObserveTick(s app.TickSummary) {
	r.ticks.Inc()
	r.tickDuration.Observe(s.Duration.Seconds())
	r.reminders.WithLabelValues("sent").Add(float64(s.Sent))
	r.reminders.WithLabelValues("duplicate").Add(float64(s.Duplicates))
	r.reminders.WithLabelValues("failed").Add(float64(s.Failed))
	for reason, n := range s.Skipped {
		r.skipped.WithLabelValues(reason).Add(float64(n))
	}
	r.lastTick.Set(float64(s.StartedAt.Unix()))
}

func (r *Recorder) ObserveDispatch(channel notifier.Channel, status reminder.Status) {
	if channel == "" {
		channel = "none"
	}
	r.dispatches.WithLabelValues(string(channel), string(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Package metrics exports sync activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ingestd/internal/eventbus"
)

const namespace = "ingestd"

// Outcome label values of ingestd_sync_attempts_total.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Collectors holds the daemon's metrics on a private registry.
type Collectors struct {
	reg *prometheus.Registry

	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
	retries  *prometheus.CounterVec
	running  prometheus.Gauge
	reloads  prometheus.Counter
}

func NewCollectors() *Collectors {
	c := &Collectors{
		reg: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Sync attempts by job, source and outcome.",
		}, []string{"job", "source", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of completed sync attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job", "source"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Items reported by successful syncs.",
		}, []string{"job", "kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_retries_queued_total",
			Help:      "Retries queued after a failed attempt.",
		}, []string{"job"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Sync attempts currently in flight.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Applied configuration reloads.",
		}),
	}
	c.reg.MustRegister(
		c.attempts, c.duration, c.items, c.retries, c.running, c.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// WatchBus exports the drop counter of bus as ingestd_eventbus_dropped_total.
func (c *Collectors) WatchBus(bus eventbus.Bus) {
	c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_dropped_total",
		Help:      "Events dropped because a subscriber was slow.",
	}, func() float64 { return float64(eventbus.Dropped(bus)) }))
}

func (c *Collectors) Registry() *prometheus.Registry { return c.reg }

func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

var itemKinds = [4]string{"processed", "added", "updated", "removed"}

// Observe folds one bus event into the metrics. Unknown events are ignored.
func (c *Collectors) Observe(e eventbus.Event) {
	if e.Type == eventbus.ConfigReload {
		c.reloads.Inc()
		return
	}
	ev, ok := e.Data.(eventbus.SyncEvent)
	if !ok {
		return
	}
	switch e.Type {
	case eventbus.SyncStarted:
		c.running.Inc()
	case eventbus.SyncFinished:
		c.running.Dec()
		c.attempts.WithLabelValues(ev.JobID, ev.Source, OutcomeSuccess).Inc()
		c.duration.WithLabelValues(ev.JobID, ev.Source).Observe(ev.Duration.Seconds())
		for i, n := range ev.Items {
			if n > 0 {
				c.items.WithLabelValues(ev.JobID, itemKinds[i]).Add(float64(n))
			}
		}
	case eventbus.SyncFailed:
		c.running.Dec()
		c.attempts.WithLabelValues(ev.JobID, ev.Source, OutcomeFailure).Inc()
		c.duration.WithLabelValues(ev.JobID, ev.Source).Observe(ev.Duration.Seconds())
	case eventbus.SyncSkipped:
		c.attempts.WithLabelValues(ev.JobID, ev.Source, OutcomeSkipped).Inc()
	case eventbus.RetryQueued:
		c.retries.WithLabelValues(ev.JobID).Inc()
	}
}

// Run observes bus events until ctx is done.
func (c *Collectors) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}

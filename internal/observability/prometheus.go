package observability

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valter-silva-au/tmsync/internal/core"
)

// SyncCollectors exposes Prometheus collectors for sync activity.
type SyncCollectors struct {
	signals     *prometheus.CounterVec
	tasksPushed prometheus.Counter
	lastCycle   prometheus.Gauge
	locksActive prometheus.GaugeFunc
}

// NewSyncCollectors registers the collectors with reg. activeLocks reports
// the number of held sync locks and may be nil.
func NewSyncCollectors(reg prometheus.Registerer, activeLocks func() int) (*SyncCollectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if activeLocks == nil {
		activeLocks = func() int { return 0 }
	}

	c := &SyncCollectors{
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tmsync",
				Name:      "signals_total",
				Help:      "Sync signals emitted, by signal name.",
			},
			[]string{"signal"},
		),
		tasksPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tmsync",
			Name:      "tag_tasks_processed_total",
			Help:      "Tasks processed by completed tag syncs.",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tmsync",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last completed change-detection cycle.",
		}),
		locksActive: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tmsync",
			Name:      "locks_active",
			Help:      "Sync locks currently held.",
		}, func() float64 { return float64(activeLocks()) }),
	}

	for _, collector := range []prometheus.Collector{c.signals, c.tasksPushed, c.lastCycle, c.locksActive} {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, err
		}
	}
	return c, nil
}

// Observe counts sig. A nil receiver is a no-op.
func (c *SyncCollectors) Observe(sig core.Signal) {
	if c == nil {
		return
	}
	c.signals.WithLabelValues(sig.Name).Inc()
	switch sig.Name {
	case core.SignalTagSynced:
		c.tasksPushed.Add(float64(sig.TaskCount))
	case core.SignalCycle:
		c.lastCycle.Set(float64(sig.Time.Unix()))
	}
}

// MetricsHandler serves the collectors gathered by g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

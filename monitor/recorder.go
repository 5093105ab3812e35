// Package monitor exposes runtime metrics and process listings over HTTP.
package monitor

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/najoast/procsys/core"
)

// Exit reason label values
const (
	ReasonLabelNormal = "normal"
	ReasonLabelKill   = "kill"
	ReasonLabelError  = "error"
)

// Recorder implements core.Recorder with Prometheus collectors.
type Recorder struct {
	spawned        prometheus.Counter
	exits          *prometheus.CounterVec
	delivered      prometheus.Counter
	taskFailures   prometheus.Counter
	reductions     prometheus.Counter
	pending        prometheus.Gauge
	roundHistogram prometheus.Histogram
}

var _ core.Recorder = (*Recorder)(nil)

// NewRecorder creates a Recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer, namespace string) (*Recorder, error) {
	r := &Recorder{
		spawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_spawned_total",
			Help:      "Number of processes spawned.",
		}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Number of process exits by reason.",
		}, []string{"reason"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Number of messages delivered to mailboxes.",
		}),
		taskFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_task_failures_total",
			Help:      "Number of scheduler tasks that failed or panicked.",
		}),
		reductions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_reductions_total",
			Help:      "Number of scheduler tasks executed.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_pending_tasks",
			Help:      "Tasks queued at the end of the last round.",
		}),
		roundHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_round_reductions",
			Help:      "Tasks executed per scheduling round.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	for _, c := range r.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.spawned, r.exits, r.delivered, r.taskFailures,
		r.reductions, r.pending, r.roundHistogram,
	}
}

func (r *Recorder) ProcessSpawned(core.PID) {
	r.spawned.Inc()
}

func (r *Recorder) ProcessExited(_ core.PID, reason error) {
	r.exits.WithLabelValues(reasonLabel(reason)).Inc()
}

func (r *Recorder) MessageDelivered(core.PID) {
	r.delivered.Inc()
}

// RoundCompleted skips empty rounds so that an idle scheduler does not
// flood the histogram.
func (r *Recorder) RoundCompleted(reductions, pending int) {
	r.pending.Set(float64(pending))
	if reductions == 0 {
		return
	}
	r.reductions.Add(float64(reductions))
	r.roundHistogram.Observe(float64(reductions))
}

func (r *Recorder) TaskFailed(core.PID, error) {
	r.taskFailures.Inc()
}

func reasonLabel(reason error) string {
	switch {
	case reason == nil, errors.Is(reason, core.ReasonNormal), errors.Is(reason, core.ReasonShutdown):
		return ReasonLabelNormal
	case errors.Is(reason, core.ReasonKill):
		return ReasonLabelKill
	default:
		return ReasonLabelError
	}
}

package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/git-clone-worker/internal/progress"
)

// PrometheusSink exports job progress metrics via Prometheus. It owns the
// collectors for jobs started/completed/running, run time, and checkout size.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	jobFailures   *prometheus.CounterVec
	checkoutBytes prometheus.Histogram

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gitworker_jobs_started_total",
			Help: "Total clone jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitworker_jobs_completed_total",
			Help: "Total clone jobs finished partitioned by result (completed, retryable, fatal).",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitworker_jobs_running",
			Help: "Current number of running clone jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gitworker_job_runtime_seconds",
			Help:    "Wall time per finished clone job.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitworker_job_failures_total",
			Help: "Failed clone jobs partitioned by reported reason.",
		}, []string{"reason"}),
		checkoutBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gitworker_checkout_bytes",
			Help:    "Estimated on-disk size of measured checkouts.",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 10),
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.jobFailures,
		s.checkoutBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	key := evt.JobID + "/" + evt.RunID
	if evt.Stage == progress.StageJobStart {
		s.jobsStarted.Inc()
		if s.tracker.start(key) {
			s.jobsRunning.Inc()
		}
		return
	}
	if !evt.Terminal() {
		return
	}

	result := resultLabel(evt)
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if evt.Stage == progress.StageJobError {
		s.jobFailures.WithLabelValues(evt.Reason).Inc()
	}
	// Rejected checkouts are measured too; their size is what tripped the limit.
	if evt.Bytes > 0 {
		s.checkoutBytes.Observe(float64(evt.Bytes))
	}
	if s.tracker.complete(key) {
		s.jobsRunning.Dec()
	}
}

// Result labels for completed jobs.
const (
	resultCompleted = "completed"
	resultRetryable = "retryable"
	resultFatal     = "fatal"
)

func resultLabel(evt progress.Event) string {
	switch {
	case evt.Stage == progress.StageJobDone:
		return resultCompleted
	case evt.Fatal:
		return resultFatal
	default:
		return resultRetryable
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *jobTracker) complete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}

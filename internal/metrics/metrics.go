package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// DispatchRuns counts completed dispatch passes
	DispatchRuns = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_runs_total", Help: "Completed dispatch runs."},
	)
	// JobsAssigned counts jobs placed on a route across dispatch runs
	JobsAssigned = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_jobs_assigned_total", Help: "Jobs assigned to a technician route."},
	)
	// JobsUnassignable counts jobs no technician could take
	JobsUnassignable = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_jobs_unassignable_total", Help: "Jobs left unassignable after partitioning."},
	)
	// SequenceDuration tracks end-to-end dispatch run durations in seconds
	SequenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dispatch_run_duration_seconds", Help: "Dispatch run duration in seconds.", Buckets: prometheus.DefBuckets},
	)

	// ConflictsDetected counts detected schedule conflicts by type
	ConflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "schedule_conflicts_total", Help: "Detected schedule conflicts by type."},
		[]string{"type"},
	)
	// Commits counts assignment commit outcomes
	Commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assignment_commits_total", Help: "Assignment commit outcomes by result."},
		[]string{"result"},
	)
	// CommitQueueRejections counts commits refused because a slot queue was full
	CommitQueueRejections = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "assignment_commit_queue_rejections_total", Help: "Commits refused due to a full slot queue."},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(DispatchRuns)
		Registry.MustRegister(JobsAssigned)
		Registry.MustRegister(JobsUnassignable)
		Registry.MustRegister(SequenceDuration)
		Registry.MustRegister(ConflictsDetected)
		Registry.MustRegister(Commits)
		Registry.MustRegister(CommitQueueRejections)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

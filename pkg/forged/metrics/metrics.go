package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "forge"
	subsystem = "forged"

	StatusOK    = "ok"
	StatusError = "error"

	LabelStatus     = "status"
	LabelStatusCode = "status_code"
	LabelStage      = "stage"
	LabelTask       = "task"
	LabelRepository = "repository"
)

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name:      name,
		Help:      help,
		Namespace: namespace,
		Subsystem: subsystem,
	})
}

func statusLabel(err error) string {
	if err == nil {
		return StatusOK
	}
	return StatusError
}

func DatabaseQuery(t time.Time, err error) {
	elapsed := time.Since(t)
	databaseQueries.With(prometheus.Labels{
		LabelStatus: statusLabel(err),
	}).Observe(elapsed.Seconds())
}

func HostingRequest(statusCode int, repository string) {
	hostingRequests.With(prometheus.Labels{
		LabelStatusCode: strconv.Itoa(statusCode),
		LabelRepository: repository,
	}).Inc()
}

func GeneratorRequest(statusCode int) {
	generatorRequests.With(prometheus.Labels{
		LabelStatusCode: strconv.Itoa(statusCode),
	}).Inc()
}

func NotifierRequest(statusCode int) {
	notifierRequests.With(prometheus.Labels{
		LabelStatusCode: strconv.Itoa(statusCode),
	}).Inc()
}

// StageTransition counts pipeline stage entries per task.
func StageTransition(task, stage string) {
	stageTransitions.With(prometheus.Labels{
		LabelStage: stage,
		LabelTask:  task,
	}).Inc()
}

func PipelineStarted() {
	pipelinesInFlight.Inc()
}

func PipelineFinished() {
	pipelinesInFlight.Dec()
}

// LeadTime reports the time from admission of a deployment request until its
// record reached a terminal state.
func LeadTime(status string, elapsed time.Duration) {
	leadTime.With(prometheus.Labels{
		LabelStatus: status,
	}).Observe(elapsed.Seconds())
}

var (
	databaseQueries = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "database_queries",
		Help:      "time to execute database queries",
		Namespace: namespace,
		Subsystem: subsystem,
		Buckets:   prometheus.LinearBuckets(0.005, 0.005, 20),
	},
		[]string{
			LabelStatus,
		},
	)

	hostingRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "hosting_requests",
		Help:      "number of requests made to the repository hosting service",
		Namespace: namespace,
		Subsystem: subsystem,
	},
		[]string{
			LabelStatusCode,
			LabelRepository,
		},
	)

	generatorRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "generator_requests",
		Help:      "number of requests made to the generation service",
		Namespace: namespace,
		Subsystem: subsystem,
	},
		[]string{
			LabelStatusCode,
		},
	)

	notifierRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "notifier_requests",
		Help:      "number of requests made to evaluation endpoints",
		Namespace: namespace,
		Subsystem: subsystem,
	},
		[]string{
			LabelStatusCode,
		},
	)

	stageTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "stage_transition",
		Help:      "deployment pipeline stage transitions",
		Namespace: namespace,
		Subsystem: subsystem,
	},
		[]string{
			LabelStage,
			LabelTask,
		},
	)

	pipelinesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "pipelines_in_flight",
		Help:      "number of deployment pipelines currently running",
		Namespace: namespace,
		Subsystem: subsystem,
	})

	leadTime = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name:      "lead_time_seconds",
		Help:      "the time it takes from a deployment request is admitted until it reaches a terminal state",
		Namespace: namespace,
		Subsystem: subsystem,
	},
		[]string{
			LabelStatus,
		},
	)

	DeploySuccessful = counter("deploy_successful", "number of successfully completed deployments")
	DeployFailed     = counter("deploy_failed", "number of failed deployments")
	DeployDuplicate  = counter("deploy_duplicate", "number of deployment requests answered from recorded outcomes")
)

func init() {
	prometheus.MustRegister(databaseQueries)
	prometheus.MustRegister(hostingRequests)
	prometheus.MustRegister(generatorRequests)
	prometheus.MustRegister(notifierRequests)
	prometheus.MustRegister(stageTransitions)
	prometheus.MustRegister(pipelinesInFlight)
	prometheus.MustRegister(leadTime)
	prometheus.MustRegister(DeploySuccessful)
	prometheus.MustRegister(DeployFailed)
	prometheus.MustRegister(DeployDuplicate)
}

package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

const (
	MetricsNamespace = "taskrunner"
)

// Worker outcomes.
const (
	WorkerSuccess   = "success"
	WorkerFailure   = "failure"
	WorkerException = "exception"
	WorkerProtocol  = "protocol"
)

var (
	Debug        bool = true
	validResults      = []types.TestStatus{
		types.TestStatusPass, types.TestStatusFail, types.TestStatusError, types.TestStatusSkip,
		types.TestStatusIncomplete, types.TestStatusUndefined,
	}
	nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tasks_total",
		Help:      "Count of finished tasks",
	}, []string{
		"type",
		"result",
	})

	swallowedFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "swallowed_failures_total",
		Help:      "Count of child failures a continuing group settled as success",
	}, []string{
		"type",
	})

	testEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_events_total",
		Help:      "Count of test results reported on the bus",
	}, []string{
		"result",
	})

	workersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "workers_total",
		Help:      "Count of finished workers by outcome",
	}, []string{
		"client",
		"outcome",
	})

	workersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "workers_running",
		Help:      "Number of worker processes currently running",
	})

	runResult = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_result",
		Help:      "Result of the last run",
	}, []string{
		"run_id",
		"result",
	})

	runTestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_total",
		Help:      "Number of tests per run and result",
	}, []string{
		"run_id",
		"result",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of a run",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordTask counts a settled task. result is pass or fail.
func RecordTask(taskType string, err error) {
	result := types.TestStatusPass
	if err != nil {
		result = types.TestStatusFail
	}
	tasksTotal.WithLabelValues(taskType, string(result)).Inc()
}

// RecordSwallowedFailure counts a child failure that a group configured to
// continue did not propagate.
func RecordSwallowedFailure(taskType string) {
	swallowedFailuresTotal.WithLabelValues(taskType).Inc()
}

func RecordTestEvent(result types.TestStatus) {
	if !isValidResult(result) {
		log.Error("RecordTestEvent - invalid result", "result", result)
		return
	}
	testEventsTotal.WithLabelValues(string(result)).Inc()
}

func WorkerStarted() {
	workersRunning.Inc()
}

func WorkerFinished(client string, outcome string) {
	workersRunning.Dec()
	if Debug {
		log.Debug("metric inc",
			"m", "workers_total",
			"client", client,
			"outcome", outcome,
		)
	}
	workersTotal.WithLabelValues(client, outcome).Inc()
}

func RecordRun(
	runID string,
	result types.TestStatus,
	passed int,
	failed int,
	skipped int,
	duration time.Duration,
) {
	runResult.WithLabelValues(runID, string(result)).Set(1)
	runTestsTotal.WithLabelValues(runID, string(types.TestStatusPass)).Add(float64(passed))
	runTestsTotal.WithLabelValues(runID, string(types.TestStatusFail)).Add(float64(failed))
	runTestsTotal.WithLabelValues(runID, string(types.TestStatusSkip)).Add(float64(skipped))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}

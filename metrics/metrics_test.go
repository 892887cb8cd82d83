package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
			assert.Regexp(t, validLabelRegex, result)
		})
	}
}

func TestRecordErrorDetails(t *testing.T) {
	before := testutil.ToFloat64(errorsTotal.WithLabelValues("test.sample_error"))
	RecordErrorDetails("test", nil)
	RecordErrorDetails("test", errors.New("sample error"))
	assert.Equal(t, before+1, testutil.ToFloat64(errorsTotal.WithLabelValues("test.sample_error")))
}

func TestRecordTask(t *testing.T) {
	pass := tasksTotal.WithLabelValues("metrics-test", "pass")
	fail := tasksTotal.WithLabelValues("metrics-test", "fail")

	RecordTask("metrics-test", nil)
	RecordTask("metrics-test", errors.New("boom"))
	RecordTask("metrics-test", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(pass))
	assert.Equal(t, 2.0, testutil.ToFloat64(fail))
}

func TestRecordTestEvent(t *testing.T) {
	skip := testEventsTotal.WithLabelValues("skip")
	before := testutil.ToFloat64(skip)

	RecordTestEvent(types.TestStatusSkip)
	RecordTestEvent(types.TestStatusRunning) // ignored

	assert.Equal(t, before+1, testutil.ToFloat64(skip))
	assert.Equal(t, 0.0, testutil.ToFloat64(testEventsTotal.WithLabelValues("running")))
}

func TestWorkerGauge(t *testing.T) {
	before := testutil.ToFloat64(workersRunning)
	WorkerStarted()
	WorkerStarted()
	assert.Equal(t, before+2, testutil.ToFloat64(workersRunning))

	WorkerFinished("command", WorkerSuccess)
	WorkerFinished("command", WorkerProtocol)
	assert.Equal(t, before, testutil.ToFloat64(workersRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(workersTotal.WithLabelValues("command", WorkerProtocol)))
}

func TestRecordRun(t *testing.T) {
	RecordRun("run-metrics-test", types.TestStatusFail, 3, 1, 2, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(runResult.WithLabelValues("run-metrics-test", "fail")))
	assert.Equal(t, 3.0, testutil.ToFloat64(runTestsTotal.WithLabelValues("run-metrics-test", "pass")))
	assert.Equal(t, 2.0, testutil.ToFloat64(runDuration.WithLabelValues("run-metrics-test")))
}

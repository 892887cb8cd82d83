package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-taskrunner/report"
)

const helperEnv = "TASKRUNNER_TEST_WORKER"

// TestMain turns the test binary into a worker when the launcher tests start
// it as one.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		if err := ServeProcess(context.Background(), testClients()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type recordingHandler struct {
	mu      sync.Mutex
	reports []report.Kind
	stdout  []string
	stderr  []string
	onItem  func()
}

func (h *recordingHandler) Report(kind string, params []any) error {
	k, err := report.ParseKind(kind)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.reports = append(h.reports, k)
	h.mu.Unlock()
	if k == report.KindItemMessage && h.onItem != nil {
		h.onItem()
	}
	return nil
}

func (h *recordingHandler) Stdout(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stdout = append(h.stdout, line)
}

func (h *recordingHandler) Stderr(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stderr = append(h.stderr, line)
}

func newTestLauncher(t *testing.T, maxWorkers int) *Launcher {
	t.Helper()
	l, err := NewLauncher(Config{
		Binary:     os.Args[0],
		Args:       []string{"-test.run=^$"},
		Env:        []string{helperEnv + "=1"},
		MaxWorkers: maxWorkers,
		WaitDelay:  5 * time.Second,
		Log:        log.NewLogger(log.DiscardHandler()),
	})
	require.NoError(t, err)
	return l
}

func TestLaunch_Success(t *testing.T) {
	h := &recordingHandler{}
	completion, err := newTestLauncher(t, 0).Launch(context.Background(), &Run{Client: "ok", ParentID: "p", CoverageEnabled: true, Label: "ok-task_1"}, h)
	require.NoError(t, err)

	assert.True(t, completion.Success)
	assert.Equal(t, int64(1), completion.Coverage["a.go"].Statements["1.1,2.2"])
	assert.Equal(t, []report.Kind{report.KindTestStart, report.KindTestPassed}, h.reports)
	assert.Contains(t, h.stdout, "hello from worker")
}

func TestLaunch_FailedCompletion(t *testing.T) {
	completion, err := newTestLauncher(t, 0).Launch(context.Background(), &Run{Client: "fail", CoverageEnabled: true}, &recordingHandler{})
	require.NoError(t, err)
	assert.False(t, completion.Success)
	assert.Equal(t, "assertion failed", completion.Context)
	assert.NotNil(t, completion.Coverage)
}

func TestLaunch_Faults(t *testing.T) {
	tests := []struct {
		name   string
		client string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "exception",
			client: "panic",
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "client panicked: kaboom")
			},
		},
		{
			name:   "unknown client",
			client: "nope",
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), `unknown client "nope"`)
			},
		},
		{
			name:   "exit before result",
			client: "crash",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			},
		},
		{
			name:   "malformed message",
			client: "garbage",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMalformedMessage)
			},
		},
		{
			name:   "unknown report kind",
			client: "bogus-kind",
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), `unknown message kind "bogus"`)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completion, err := newTestLauncher(t, 0).Launch(context.Background(), &Run{Client: tt.client, Label: tt.name}, &recordingHandler{})
			require.Error(t, err)
			assert.Nil(t, completion)
			assert.True(t, IsFault(err))
			tt.check(t, err)
		})
	}
}

func TestLaunch_InterruptOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &recordingHandler{onItem: cancel}
	completion, err := newTestLauncher(t, 0).Launch(ctx, &Run{Client: "wait", ParentID: "p"}, h)
	require.NoError(t, err)
	assert.False(t, completion.Success)
	assert.Contains(t, completion.Context, "context canceled")
}

func TestLaunch_MaxWorkers(t *testing.T) {
	l := newTestLauncher(t, 1)
	require.NoError(t, l.sem.Acquire(context.Background(), 1))
	defer l.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := l.Launch(ctx, &Run{Client: "ok"}, &recordingHandler{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsFault(err))
}

func TestNewLauncher_Validation(t *testing.T) {
	_, err := NewLauncher(Config{MaxWorkers: -1})
	require.ErrorContains(t, err, "max workers must not be negative")

	l, err := NewLauncher(Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{Command}, l.args)
	assert.Nil(t, l.sem)
	assert.NotEmpty(t, l.binary)
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"

	"github.com/ethereum-optimism/infra/op-taskrunner/client"
	"github.com/ethereum-optimism/infra/op-taskrunner/metrics"
)

// Command is the hidden subcommand the runner binary serves workers with.
const Command = "worker"

const defaultWaitDelay = 10 * time.Second

// Handler consumes what a worker produces while it runs. Its methods are
// called from several goroutines.
type Handler interface {
	// Report is called for every ReportMessage. A returned error is a
	// protocol fault.
	Report(kind string, params []any) error
	Stdout(line string)
	Stderr(line string)
}

// Config configures a Launcher.
type Config struct {
	// Binary is the executable serving workers. Defaults to the running
	// executable.
	Binary string
	// Args select the worker mode of Binary. Defaults to the worker
	// subcommand.
	Args []string
	Env  []string
	Dir  string
	// MaxWorkers bounds concurrently running workers. Zero means unbounded.
	MaxWorkers int
	// WaitDelay is how long a worker gets to exit after being interrupted.
	WaitDelay time.Duration
	Log       log.Logger
}

// Launcher starts worker processes.
type Launcher struct {
	binary    string
	args      []string
	env       []string
	dir       string
	waitDelay time.Duration
	sem       *semaphore.Weighted
	log       log.Logger
}

func NewLauncher(cfg Config) (*Launcher, error) {
	binary := cfg.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate worker binary: %w", err)
		}
		binary = exe
	}
	args := cfg.Args
	if args == nil {
		args = []string{Command}
	}
	if cfg.MaxWorkers < 0 {
		return nil, fmt.Errorf("max workers must not be negative, got %d", cfg.MaxWorkers)
	}
	waitDelay := cfg.WaitDelay
	if waitDelay == 0 {
		waitDelay = defaultWaitDelay
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.New("component", "launcher")
	}

	l := &Launcher{
		binary:    binary,
		args:      args,
		env:       cfg.Env,
		dir:       cfg.Dir,
		waitDelay: waitDelay,
		log:       logger,
	}
	if cfg.MaxWorkers > 0 {
		l.sem = semaphore.NewWeighted(int64(cfg.MaxWorkers))
	}
	return l, nil
}

// Launch runs one worker to completion. It returns the worker's Completion,
// successful or not, or a *FaultError when the worker raised an Exception or
// broke the protocol.
func (l *Launcher) Launch(ctx context.Context, run *Run, h Handler) (*Completion, error) {
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, &FaultError{Label: run.Label, Reason: "not started", Err: err}
		}
		defer l.sem.Release(1)
	}

	metrics.WorkerStarted()
	completion, outcome, err := l.launch(ctx, run, h)
	metrics.WorkerFinished(run.Client, outcome)
	return completion, err
}

func (l *Launcher) launch(ctx context.Context, run *Run, h Handler) (*Completion, string, error) {
	fault := func(reason string, err error) (*Completion, string, error) {
		return nil, metrics.WorkerProtocol, &FaultError{Label: run.Label, Reason: reason, Err: err}
	}

	// fd 3 in the worker: messages from the runner
	workerIn, runnerOut, err := os.Pipe()
	if err != nil {
		return fault("failed to create pipe", err)
	}
	// fd 4 in the worker: messages to the runner
	runnerIn, workerOut, err := os.Pipe()
	if err != nil {
		workerIn.Close()
		runnerOut.Close()
		return fault("failed to create pipe", err)
	}
	defer runnerIn.Close()
	closeUnstarted := func() {
		workerIn.Close()
		workerOut.Close()
		runnerOut.Close()
	}

	cmd := exec.CommandContext(ctx, l.binary, l.args...)
	cmd.Dir = l.dir
	cmd.Env = append(os.Environ(), l.env...)
	cmd.ExtraFiles = []*os.File{workerIn, workerOut}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = l.waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeUnstarted()
		return fault("failed to create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeUnstarted()
		return fault("failed to create stderr pipe", err)
	}

	startErr := cmd.Start()
	// the worker holds its own copies now
	workerIn.Close()
	workerOut.Close()
	if startErr != nil {
		runnerOut.Close()
		return fault("failed to start worker", startErr)
	}
	l.log.Debug("Worker started", "label", run.Label, "client", run.Client, "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		client.ScanLines(stdout, h.Stdout)
	}()
	go func() {
		defer wg.Done()
		client.ScanLines(stderr, h.Stderr)
	}()

	sendErr := NewEncoder(runnerOut).Encode(run)
	runnerOut.Close()

	var (
		completion *Completion
		outcome    string
		runErr     error
	)
	if sendErr != nil {
		outcome, runErr = metrics.WorkerProtocol, &FaultError{Label: run.Label, Reason: "failed to send run message", Err: sendErr}
	} else {
		completion, outcome, runErr = l.receive(ctx, run, NewDecoder(runnerIn), h)
	}
	if runErr != nil && outcome == metrics.WorkerProtocol {
		_ = cmd.Process.Kill()
	}
	// unblock a worker still writing after its terminal message
	runnerIn.Close()

	wg.Wait()
	waitErr := cmd.Wait()
	if waitErr != nil && runErr == nil {
		l.log.Warn("Worker exited with an error after completing", "label", run.Label, "err", waitErr)
	}
	l.log.Debug("Worker finished", "label", run.Label, "outcome", outcome)
	return completion, outcome, runErr
}

// receive consumes worker messages until the terminal one.
func (l *Launcher) receive(ctx context.Context, run *Run, dec *Decoder, h Handler) (*Completion, string, error) {
	for {
		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				} else {
					err = io.ErrUnexpectedEOF
				}
				return nil, metrics.WorkerProtocol, &FaultError{Label: run.Label, Reason: "worker exited without a result", Err: err}
			}
			return nil, metrics.WorkerProtocol, &FaultError{Label: run.Label, Reason: "failed to read worker message", Err: err}
		}

		switch m := msg.(type) {
		case *ReportMessage:
			if err := h.Report(m.Kind, m.Params); err != nil {
				return nil, metrics.WorkerProtocol, &FaultError{Label: run.Label, Reason: "invalid report message", Err: err}
			}
		case *Completion:
			if m.Success {
				return m, metrics.WorkerSuccess, nil
			}
			return m, metrics.WorkerFailure, nil
		case *Exception:
			return nil, metrics.WorkerException, &FaultError{Label: run.Label, Reason: m.Message}
		default:
			return nil, metrics.WorkerProtocol, &FaultError{Label: run.Label, Reason: fmt.Sprintf("unexpected %s message from worker", msg.messageType())}
		}
	}
}

package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-taskrunner/coverage"
	"github.com/ethereum-optimism/infra/op-taskrunner/decorator"
	"github.com/ethereum-optimism/infra/op-taskrunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-taskrunner/metrics"
	"github.com/ethereum-optimism/infra/op-taskrunner/report"
	"github.com/ethereum-optimism/infra/op-taskrunner/task"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
	"github.com/ethereum-optimism/infra/op-taskrunner/worker"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

const (
	RootTaskID    = "root-task"
	RootTaskName  = "Root Task"
	RootTaskTitle = "Task Runner"
)

var _ cliapp.Lifecycle = (*Runner)(nil)

// Runner runs the task tree of a task file, once or periodically.
type Runner struct {
	config    *Config
	version   string
	file      *TaskFile
	global    types.GlobalConfig
	filter    *coverage.Filter
	counter   *decorator.Counter // shared by every run so task ids keep increasing
	launcher  task.Launcher
	formatter ResultFormatter
	stdout    io.Writer
	stderr    io.Writer

	mu     sync.Mutex
	result *RunResult

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error)
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Runner, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating runner with config",
		"tasksFile", config.TasksFile,
		"workDir", config.WorkDir,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"maxWorkers", config.MaxWorkers)

	file, err := LoadTaskFile(config.TasksFile)
	if err != nil {
		return nil, err
	}
	global, err := file.Global(config)
	if err != nil {
		return nil, err
	}
	filter, err := coverage.NewFilter(global.Coverage.Root, global.Coverage.Includes, global.Coverage.Excludes)
	if err != nil {
		return nil, types.NewConfigError("configuration.coverage", err.Error())
	}

	launcher, err := worker.NewLauncher(worker.Config{
		Binary:     config.WorkerBinary,
		MaxWorkers: config.MaxWorkers,
		Log:        config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker launcher: %w", err)
	}

	return &Runner{
		config:           config,
		version:          version,
		file:             file,
		global:           global,
		filter:           filter,
		counter:          decorator.NewCounter(),
		launcher:         launcher,
		formatter:        NewConsoleResultFormatter(config.Log, os.Stdout),
		stdout:           os.Stdout,
		stderr:           os.Stderr,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the task tree, then keeps running it every RunInterval unless
// the runner is in run-once mode.
// Start implements the cliapp.Lifecycle interface.
func (r *Runner) Start(ctx context.Context) error {
	defer func() {
		if rec := recover(); rec != nil {
			r.config.Log.Error("Runtime error occurred", "error", rec)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	r.done = make(chan struct{})
	r.running.Store(true)

	if r.config.RunOnce {
		r.config.Log.Info("Starting op-taskrunner in run-once mode", "version", r.version)
	} else {
		r.config.Log.Info("Starting op-taskrunner in continuous mode", "version", r.version, "interval", r.config.RunInterval)
	}

	result, err := r.runTasks(ctx)
	if err != nil {
		r.config.Log.Error("Runtime error running tasks", "error", err)
		return err
	}

	if r.config.RunOnce {
		r.config.Log.Info("Tasks completed, exiting (run-once mode)")
		if result.Failed() {
			if r.global.IgnoreErrors {
				r.config.Log.Warn("Run completed with failures, ignoring them")
			} else {
				r.config.Log.Warn("Run completed with failures, returning exit code 1")
				return NewTestFailureError(result.String())
			}
		}
		go func() {
			r.shutdownCallback(nil)
		}()
		return nil
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-time.After(r.config.RunInterval):
				if !r.running.Load() {
					return
				}
				r.config.Log.Info("Running periodic tasks")
				if _, err := r.runTasks(ctx); err != nil {
					r.config.Log.Error("Error running periodic tasks", "error", err)
				}
			case <-r.done:
				r.config.Log.Debug("Done signal received, stopping periodic runs")
				return
			case <-ctx.Done():
				r.config.Log.Debug("Context canceled, stopping periodic runs")
				r.running.Store(false)
				return
			}
		}
	}()
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (r *Runner) Stop(ctx context.Context) error {
	r.config.Log.Info("Stopping op-taskrunner")
	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)
	close(r.done)

	stopped := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		return fmt.Errorf("periodic run did not stop: %w", ctx.Err())
	}
	r.config.Log.Info("op-taskrunner stopped successfully")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (r *Runner) Stopped() bool {
	return !r.running.Load()
}

// Result returns the result of the last completed run.
func (r *Runner) Result() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// runTasks builds a fresh environment and runs the whole tree once. Task
// failures end up in the result; anything that stops the run from being
// meaningful is returned as a RuntimeError.
func (r *Runner) runTasks(ctx context.Context) (*RunResult, error) {
	runID := uuid.New().String()
	log := r.config.Log.New("run_id", runID)
	log.Info("Running all tasks...")

	bus := report.NewBus()
	collector := report.NewCollector()
	defer bus.Subscribe(collector.Handle)()
	defer bus.Subscribe(recordTestEvent)()

	var aggregator *coverage.Aggregator
	if r.global.Coverage.Active {
		aggregator = coverage.NewAggregator()
	}
	registry := task.DefaultRegistry()
	registry.SetShared(r.file.Shared)
	env := task.NewEnv(task.Env{
		Global:   r.global,
		Coverage: aggregator,
		Filter:   r.filter,
		Bus:      bus,
		Registry: registry,
		Normalizer: decorator.NewNormalizer(decorator.Config{
			Counter: r.counter,
			Chain:   decorator.DefaultChain(log, r.config.WorkDir),
			Log:     log,
		}),
		Launcher: r.launcher,
		Log:      log,
		Stdout:   r.stdout,
		Stderr:   r.stderr,
	})

	root, err := registry.New(env, task.GroupDescriptor(RootTaskID, RootTaskName, RootTaskTitle, false, types.CopyValue(r.file.Tasks)))
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create root task: %w", err))
	}

	msg := bus.Message()
	msg.Start()
	runErr := root.Run(ctx, "")
	msg.Stop()
	msg.Complete()

	if runErr != nil && !isTaskFailure(runErr) {
		metrics.RecordErrorDetails("run", runErr)
		return nil, NewRuntimeError(runErr)
	}

	result := &RunResult{RunID: runID, Tests: collector.Result(), Err: runErr}
	if aggregator != nil {
		path, err := coverage.WriteJSON(r.global.Coverage.Path, aggregator.Final())
		if err != nil {
			return nil, NewRuntimeError(err)
		}
		log.Info("Wrote coverage", "path", path)
		result.Coverage = path
	}

	r.mu.Lock()
	r.result = result
	r.mu.Unlock()

	if err := r.formatter.FormatResults(result); err != nil {
		log.Warn("Failed to print results", "error", err)
	}
	stats := result.Tests.Stats
	metrics.RecordRun(runID, result.Status(), stats.Passed, stats.Failed+stats.Errored, stats.Skipped, result.Tests.Duration)
	log.Info("Task run completed", "status", result.Status())
	return result, nil
}

// isTaskFailure reports whether err is a policy-controlled execution
// failure, as opposed to a configuration error, a worker fault or an
// interrupt.
func isTaskFailure(err error) bool {
	switch {
	case worker.IsFault(err), types.IsConfigError(err):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, task.ErrAlreadyRun), errors.Is(err, task.ErrNotImplemented):
		return false
	default:
		return task.IsExecutionError(err)
	}
}

func recordTestEvent(ev report.Event) {
	switch ev.Kind {
	case report.KindTestPassed:
		metrics.RecordTestEvent(types.TestStatusPass)
	case report.KindTestFailed:
		metrics.RecordTestEvent(types.TestStatusFail)
	case report.KindTestError:
		metrics.RecordTestEvent(types.TestStatusError)
	case report.KindTestSkipped:
		metrics.RecordTestEvent(types.TestStatusSkip)
	case report.KindTestIncomplete:
		metrics.RecordTestEvent(types.TestStatusIncomplete)
	case report.KindTestUndefined:
		metrics.RecordTestEvent(types.TestStatusUndefined)
	}
}

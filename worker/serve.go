package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/client"
	"github.com/ethereum-optimism/infra/op-taskrunner/coverage"
	"github.com/ethereum-optimism/infra/op-taskrunner/report"
)

// File descriptors of the message pipes inside a worker process.
const (
	InFD  = 3
	OutFD = 4
)

// Clients builds clients by name. *client.Registry implements it.
type Clients interface {
	New(name string, opts client.Options) (client.Client, error)
	DecoratorNames() []string
}

// ServeProcess serves the worker side of the protocol on the inherited
// message pipes. It returns once the terminal message was written.
func ServeProcess(ctx context.Context, clients Clients) error {
	in := os.NewFile(InFD, "taskrunner-in")
	out := os.NewFile(OutFD, "taskrunner-out")
	if in == nil || out == nil {
		return errors.New("worker message pipes are not available")
	}
	defer in.Close()
	defer out.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Serve(ctx, in, out, clients, os.Stdout, os.Stderr)
}

// Serve reads one Run from in, runs the requested client and writes its
// report events and exactly one terminal message to out. The returned error
// is only about the protocol itself: client failures travel in the
// Completion.
func Serve(ctx context.Context, in io.Reader, out io.Writer, clients Clients, stdout, stderr io.Writer) error {
	enc := NewEncoder(out)
	fail := func(msg string) error {
		return enc.Encode(&Exception{Message: msg})
	}

	msg, err := NewDecoder(in).Decode()
	if err != nil {
		if encErr := fail(fmt.Sprintf("failed to read run message: %v", err)); encErr != nil {
			return encErr
		}
		return err
	}
	run, ok := msg.(*Run)
	if !ok {
		return fail(fmt.Sprintf("expected a run message, got %s", msg.messageType()))
	}

	logger := newLogger(stderr, run.LogLevel).New("label", run.Label, "client", run.Client)
	if err := checkDecorators(run.DecoratorPlugins, clients.DecoratorNames()); err != nil {
		return fail(err.Error())
	}

	bus := report.NewBus()
	bus.Subscribe(func(ev report.Event) {
		if err := enc.Encode(&ReportMessage{Kind: string(ev.Kind), Params: ev.Params}); err != nil {
			logger.Error("Failed to forward report event", "kind", ev.Kind, "err", err)
		}
	})

	opts := client.Options{
		Bus:           bus,
		Global:        run.GlobalConfig,
		Configuration: run.Configuration,
		Decorators:    run.Decorators,
		Log:           logger,
		Label:         run.Label,
		Stdout:        stdout,
		Stderr:        stderr,
	}
	var recorder *coverage.Recorder
	if run.CoverageEnabled {
		cov := run.GlobalConfig.Coverage
		filter, err := coverage.NewFilter(cov.Root, cov.Includes, cov.Excludes)
		if err != nil {
			return fail(fmt.Sprintf("invalid coverage filter: %v", err))
		}
		recorder = coverage.NewRecorder(filter)
		recorder.Begin()
		opts.Coverage = recorder
	}

	c, err := clients.New(run.Client, opts)
	if err != nil {
		return fail(err.Error())
	}

	logger.Debug("Running client", "parentId", run.ParentID)
	if err := runClient(ctx, c, run.ParentID); err != nil {
		var p *panicError
		if errors.As(err, &p) {
			logger.Error("Client panicked", "panic", p.value, "stack", string(p.stack))
			return fail(p.Error())
		}
		logger.Debug("Client failed", "err", err)
		return enc.Encode(&Completion{Success: false, Coverage: drain(recorder), Context: err.Error()})
	}
	return enc.Encode(&Completion{Success: true, Coverage: drain(recorder)})
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("client panicked: %v", p.value)
}

func runClient(ctx context.Context, c client.Client, parentID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return c.Run(ctx, parentID)
}

func drain(r *coverage.Recorder) coverage.Map {
	if r == nil {
		return nil
	}
	return r.Drain()
}

func checkDecorators(required, known []string) error {
	have := make(map[string]bool, len(known))
	for _, name := range known {
		have[name] = true
	}
	for _, name := range required {
		if !have[name] {
			return fmt.Errorf("client decorator %q is not available in this worker", name)
		}
	}
	return nil
}

// newLogger builds the worker logger. Worker logs go to stderr, which the
// runner echoes line by line.
func newLogger(w io.Writer, level string) log.Logger {
	cfg := oplog.DefaultCLIConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = slog.LevelInfo
	}
	cfg.Color = false
	return oplog.NewLogger(w, cfg)
}

package task

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/ethereum-optimism/infra/op-taskrunner/client"
	"github.com/ethereum-optimism/infra/op-taskrunner/coverage"
	"github.com/ethereum-optimism/infra/op-taskrunner/report"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
	"github.com/ethereum-optimism/infra/op-taskrunner/worker"
)

// Forked runs a client in a worker. In debug mode the client runs in the
// runner process instead, which makes it reachable for a debugger.
type Forked struct {
	*Base
	client string
}

// NewForked returns the factory of a task type backed by the named client.
func NewForked(clientName string) Factory {
	return func(env *Env, d types.Descriptor) (Task, error) {
		base, err := NewBase(env, d, nil)
		if err != nil {
			return nil, err
		}
		f := &Forked{Base: base, client: clientName}
		base.exec = f.execute
		return f, nil
	}
}

func (f *Forked) execute(ctx context.Context, parentID string) error {
	if f.opts.Debug || f.env.Global.Debug {
		return f.runInProcess(ctx, parentID)
	}
	return f.runForked(ctx, parentID)
}

func (f *Forked) coverageEnabled() bool {
	return f.opts.Coverage && f.env.coverageActive()
}

func (f *Forked) verbose() bool {
	return f.opts.Verbose || f.env.Global.Verbose
}

func (f *Forked) runForked(ctx context.Context, parentID string) error {
	if f.env.Launcher == nil {
		return &worker.FaultError{Label: f.opts.Label(), Reason: "no worker launcher configured"}
	}

	logLevel := "INFO"
	if f.verbose() {
		logLevel = "DEBUG"
	}
	run := &worker.Run{
		Client:           f.client,
		ParentID:         parentID,
		GlobalConfig:     f.env.Global,
		Configuration:    f.opts.Configuration,
		Decorators:       f.opts.Decorators,
		DecoratorPlugins: decoratorTypes(f.opts.Decorators),
		CoverageEnabled:  f.coverageEnabled(),
		LogLevel:         logLevel,
		Label:            f.opts.Label(),
	}

	f.log.Debug("Launching worker", "client", f.client, "parentId", parentID)
	completion, err := f.env.Launcher.Launch(ctx, run, f.newHandler(parentID))
	if err != nil {
		return err
	}
	if completion.Coverage != nil && f.coverageEnabled() {
		f.env.Coverage.Add(completion.Coverage)
	}
	if !completion.Success {
		return f.failed(completion.Context)
	}
	return nil
}

func (f *Forked) runInProcess(ctx context.Context, parentID string) error {
	bus := report.NewBus()
	if f.opts.Report {
		bus.Subscribe(f.env.Bus.Publish)
	}

	opts := client.Options{
		Bus:           bus,
		Global:        f.env.Global,
		Configuration: types.CopyMap(f.opts.Configuration),
		Decorators:    f.opts.Decorators,
		Log:           f.log,
		Label:         f.opts.Label(),
		Stdout:        f.echo(f.opts.EchoStdOut, f.env.Stdout),
		Stderr:        f.echo(f.opts.EchoStdErr, f.env.Stderr),
	}
	var recorder *coverage.Recorder
	if f.coverageEnabled() {
		recorder = coverage.NewRecorder(f.env.Filter)
		opts.Coverage = recorder
	}

	c, err := f.env.Clients.New(f.client, opts)
	if err != nil {
		return &worker.FaultError{Label: f.opts.Label(), Reason: "failed to create client", Err: err}
	}

	f.log.Debug("Running client in process", "client", f.client, "parentId", parentID)
	if recorder != nil {
		recorder.Begin()
	}
	runErr := runGuarded(ctx, c, parentID)
	if recorder != nil {
		if cov := recorder.Drain(); cov != nil {
			f.env.Coverage.Add(cov)
		}
	}

	if runErr != nil {
		if p, ok := runErr.(*clientPanic); ok {
			f.log.Error("Client panicked", "panic", p.value, "stack", string(p.stack))
			return &worker.FaultError{Label: f.opts.Label(), Reason: p.Error()}
		}
		return f.failed(runErr.Error())
	}
	return nil
}

type clientPanic struct {
	value any
	stack []byte
}

func (p *clientPanic) Error() string {
	return fmt.Sprintf("client panicked: %v", p.value)
}

func runGuarded(ctx context.Context, c client.Client, parentID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &clientPanic{value: r, stack: debug.Stack()}
		}
	}()
	return c.Run(ctx, parentID)
}

func (f *Forked) echo(enabled bool, w io.Writer) io.Writer {
	if !enabled {
		return io.Discard
	}
	if f.verbose() {
		return &prefixWriter{w: w, prefix: "[" + f.opts.Label() + "] "}
	}
	return w
}

func (f *Forked) newHandler(parentID string) *outputHandler {
	h := &outputHandler{
		bus:          f.env.Bus,
		placeholders: report.Placeholders(parentID),
	}
	if !f.opts.Report {
		// parsed but dropped
		h.bus = report.NewBus()
	}
	if f.opts.EchoStdOut {
		h.stdout = f.env.Stdout
	}
	if f.opts.EchoStdErr {
		h.stderr = f.env.Stderr
	}
	if f.verbose() {
		h.prefix = "[" + f.opts.Label() + "] "
	}
	return h
}

// outputHandler feeds what a worker produces into the runner's bus and
// output streams.
type outputHandler struct {
	bus          *report.Bus
	placeholders map[string]string
	stdout       io.Writer // nil when not echoed
	stderr       io.Writer
	prefix       string
}

func (h *outputHandler) Report(kind string, params []any) error {
	return h.bus.Process(kind, params)
}

func (h *outputHandler) Stdout(line string) {
	h.forward(line, h.stdout)
}

func (h *outputHandler) Stderr(line string) {
	h.forward(line, h.stderr)
}

func (h *outputHandler) forward(line string, w io.Writer) {
	line, keep := h.bus.ParseLine(line, h.placeholders)
	if !keep {
		return
	}
	if w != nil {
		fmt.Fprintln(w, h.prefix+line)
	}
}

// prefixWriter prefixes every write with a fixed string. Writers handing it
// whole lines get every line prefixed.
type prefixWriter struct {
	w      io.Writer
	prefix string
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	if _, err := io.WriteString(p.w, p.prefix+string(b)); err != nil {
		return 0, err
	}
	return len(b), nil
}

func decoratorTypes(decorators []types.DecoratorConfig) []string {
	out := make([]string, 0, len(decorators))
	for _, d := range decorators {
		out = append(out, strings.ToLower(d.Type))
	}
	return out
}

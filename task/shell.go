package task

import (
	"context"
	"io"

	"github.com/ethereum-optimism/infra/op-taskrunner/client"
	"github.com/ethereum-optimism/infra/op-taskrunner/report"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

const (
	ShellType   = "shell"
	CommandType = "command"
)

// Shell runs a command in the runner process. Report lines embedded in its
// output are published on the bus.
type Shell struct {
	*Base
	spec client.CommandSpec
}

func NewShell(env *Env, d types.Descriptor) (Task, error) {
	base, err := NewBase(env, d, nil)
	if err != nil {
		return nil, err
	}
	var spec client.CommandSpec
	if err := client.DecodeConfig(base.opts.Configuration, &spec); err != nil {
		return nil, types.NewConfigError(types.KeyConfiguration, err.Error())
	}
	if spec.Cmd == "" {
		return nil, types.NewConfigError(types.KeyConfiguration+".cmd", "cannot be empty")
	}
	s := &Shell{Base: base, spec: spec}
	base.exec = s.execute
	return s, nil
}

func (s *Shell) execute(ctx context.Context, parentID string) error {
	bus := s.env.Bus
	if !s.opts.Report {
		// parsed but dropped
		bus = report.NewBus()
	}
	verbose := s.opts.Verbose || s.env.Global.Verbose
	stdout := s.output(s.opts.EchoStdOut, verbose, s.env.Stdout)
	stderr := s.output(s.opts.EchoStdErr, verbose, s.env.Stderr)

	s.log.Debug("Running shell command", "cmd", s.spec.Cmd, "cwd", s.spec.Dir)
	if err := client.RunCommand(ctx, s.spec, bus, parentID, stdout, stderr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return s.failed(err.Error())
	}
	return nil
}

func (s *Shell) output(echo, verbose bool, w io.Writer) io.Writer {
	switch {
	case !echo:
		return io.Discard
	case verbose:
		return &prefixWriter{w: w, prefix: "[" + s.opts.Label() + "] "}
	default:
		return w
	}
}

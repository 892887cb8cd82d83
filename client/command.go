package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-taskrunner/report"
)

const CommandClient = "command"

// ParentIDEnv is set in the environment of every command to the parent id
// of the task running it.
const ParentIDEnv = "PARENT_ID"

// CommandSpec describes a command run through a shell.
type CommandSpec struct {
	Cmd   string            `mapstructure:"cmd"`
	Dir   string            `mapstructure:"cwd"`
	Env   map[string]string `mapstructure:"env"`
	Shell string            `mapstructure:"shell"`
}

// RunCommand runs spec with PARENT_ID set. Every stdout and stderr line goes
// through the bus line parser. Lines that are not report messages are
// written to stdout and stderr respectively.
func RunCommand(ctx context.Context, spec CommandSpec, bus *report.Bus, parentID string, stdout, stderr io.Writer) error {
	if spec.Cmd == "" {
		return errors.New("cmd cannot be empty")
	}
	shell := spec.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", spec.Cmd)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), envList(spec.Env)...)
	cmd.Env = append(cmd.Env, ParentIDEnv+"="+parentID)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 10 * time.Second

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	placeholders := report.Placeholders(parentID)
	forward := func(w io.Writer) func(string) {
		return func(line string) {
			if rest, keep := bus.ParseLine(line, placeholders); keep {
				fmt.Fprintln(w, rest)
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ScanLines(outPipe, forward(stdout))
	}()
	go func() {
		defer wg.Done()
		ScanLines(errPipe, forward(stderr))
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("command %q failed: %w", spec.Cmd, err)
	}
	return nil
}

// ScanLines calls fn for every line read from r until EOF.
func ScanLines(r io.Reader, fn func(line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	// drain whatever is left so the writer never blocks
	_, _ = io.Copy(io.Discard, r)
}

// Command runs a shell command inside the worker.
type Command struct {
	base *Base
	spec CommandSpec
}

func NewCommand(base *Base) (Client, error) {
	var spec CommandSpec
	if err := DecodeConfig(base.Configuration, &spec); err != nil {
		return nil, err
	}
	if spec.Cmd == "" {
		return nil, errors.New("cmd cannot be empty")
	}
	return &Command{base: base, spec: spec}, nil
}

func (c *Command) Run(ctx context.Context, parentID string) error {
	return c.base.Execute(ctx, func(ctx context.Context) error {
		c.base.Log.Debug("Running command", "cmd", c.spec.Cmd, "cwd", c.spec.Dir)
		return RunCommand(ctx, c.spec, c.base.Bus, parentID, c.base.Stdout, c.base.Stderr)
	})
}

package taskrunner

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-taskrunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-taskrunner/flags"
)

func newCLIContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags.Flags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestNewConfig(t *testing.T) {
	dir := t.TempDir()
	ctx := newCLIContext(t,
		"--tasks", filepath.Join(dir, "tasks.yaml"),
		"--workdir", dir,
		"--max-workers", "4",
		"--verbose",
		"--coverage",
		"--coverage-dir", filepath.Join(dir, "cov"),
	)

	cfg, err := NewConfig(ctx, log.New())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tasks.yaml"), cfg.TasksFile)
	assert.Equal(t, dir, cfg.WorkDir)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.True(t, cfg.Verbose)
	assert.False(t, cfg.Debug)
	assert.True(t, cfg.Coverage)
	assert.Equal(t, filepath.Join(dir, "cov"), cfg.CoverageDir)
	assert.True(t, cfg.RunOnce)
	assert.Zero(t, cfg.RunInterval)
}

func TestNewConfig_RunInterval(t *testing.T) {
	ctx := newCLIContext(t, "--tasks", "tasks.yaml", "--run-interval", "30m")
	cfg, err := NewConfig(ctx, log.New())
	require.NoError(t, err)
	assert.False(t, cfg.RunOnce)
	assert.Equal(t, 30*time.Minute, cfg.RunInterval)
	assert.True(t, filepath.IsAbs(cfg.TasksFile), "relative paths are resolved")
	assert.True(t, filepath.IsAbs(cfg.WorkDir))
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing tasks", nil, "flag tasks is required"},
		{"empty tasks", []string{"--tasks", ""}, "task file is required"},
		{"negative workers", []string{"--tasks", "t.yaml", "--max-workers", "-1"}, "max workers must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(newCLIContext(t, tt.args...), log.New())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	runtimeErr := NewRuntimeError(assert.AnError)
	assert.True(t, IsRuntimeError(runtimeErr))
	assert.ErrorIs(t, runtimeErr, assert.AnError)
	assert.False(t, IsTestFailureError(runtimeErr))
	assert.False(t, IsRuntimeError(nil))

	failure := NewTestFailureError("2 tests failed")
	assert.True(t, IsTestFailureError(failure))
	assert.Equal(t, "test failure: 2 tests failed", failure.Error())
	assert.False(t, IsRuntimeError(failure))
}

func TestErrorExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"runtime error", NewRuntimeError(assert.AnError), exitcodes.RuntimeErr},
		{"wrapped runtime error", fmt.Errorf("start: %w", NewRuntimeError(assert.AnError)), exitcodes.RuntimeErr},
		{"test failure", NewTestFailureError("1 test failed"), exitcodes.TestFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var exitErr cli.ExitCoder
			require.True(t, errors.As(tt.err, &exitErr))
			assert.Equal(t, tt.want, exitErr.ExitCode())
		})
	}
}

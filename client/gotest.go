package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/tools/cover"

	"github.com/ethereum-optimism/infra/op-taskrunner/coverage"
)

const GoTestClient = "gotest"

// GoTestConfig is the configuration of a gotest task.
type GoTestConfig struct {
	Package  string            `mapstructure:"package"`
	Run      string            `mapstructure:"run"`
	Dir      string            `mapstructure:"dir"`
	GoBinary string            `mapstructure:"goBinary"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Tags     []string          `mapstructure:"tags"`
	Args     []string          `mapstructure:"args"`
	Env      map[string]string `mapstructure:"env"`
}

// GoTest runs `go test -json` for one package and reports every test.
type GoTest struct {
	base *Base
	cfg  GoTestConfig
}

func NewGoTest(base *Base) (Client, error) {
	var cfg GoTestConfig
	if err := DecodeConfig(base.Configuration, &cfg); err != nil {
		return nil, err
	}
	if cfg.Package == "" {
		return nil, errors.New("package cannot be empty")
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = "go"
	}
	return &GoTest{base: base, cfg: cfg}, nil
}

func (g *GoTest) Run(ctx context.Context, parentID string) error {
	return g.base.Execute(ctx, func(ctx context.Context) error {
		return g.run(ctx, parentID)
	})
}

func (g *GoTest) run(ctx context.Context, parentID string) error {
	var profile string
	if g.base.Coverage != nil {
		dir, err := os.MkdirTemp("", "taskrunner-cover-")
		if err != nil {
			return fmt.Errorf("failed to create coverage directory: %w", err)
		}
		defer os.RemoveAll(dir)
		profile = filepath.Join(dir, "cover.out")
	}

	args := g.buildArgs(profile)
	g.base.Log.Debug("Running go test", "binary", g.cfg.GoBinary, "args", args, "dir", g.cfg.Dir)

	cmd := exec.CommandContext(ctx, g.cfg.GoBinary, args...)
	cmd.Dir = g.cfg.Dir
	cmd.Env = append(os.Environ(), envList(g.cfg.Env)...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 10 * time.Second
	cmd.Stderr = g.base.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start go test: %w", err)
	}

	summary, convErr := ConvertTestEvents(ctx, stdout, g.base.Message(), parentID, g.base, g.base.Stdout)
	if convErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	// go test writes the profile even when tests fail, but not on build errors
	if _, statErr := os.Stat(profile); profile != "" && statErr == nil {
		if err := g.recordCoverage(profile); err != nil {
			g.base.Log.Warn("Failed to read coverage profile", "err", err)
		}
	}

	if convErr != nil {
		return convErr
	}
	return g.outcome(summary, waitErr)
}

func (g *GoTest) buildArgs(profile string) []string {
	args := []string{"test", "-json", "-v"}
	if g.cfg.Run != "" {
		args = append(args, "-run", g.cfg.Run)
	}
	if g.cfg.Timeout > 0 {
		args = append(args, "-timeout", g.cfg.Timeout.String())
	}
	if len(g.cfg.Tags) > 0 {
		args = append(args, "-tags", strings.Join(g.cfg.Tags, ","))
	}
	if profile != "" {
		args = append(args, "-coverprofile", profile)
	}
	args = append(args, g.cfg.Args...)
	return append(args, g.cfg.Package)
}

// outcome maps the go test exit status onto an error. Exit code 1 means test
// failures, anything else is a build or runner failure.
func (g *GoTest) outcome(summary *TestSummary, waitErr error) error {
	switch {
	case waitErr == nil && summary.Failed == 0 && summary.Incomplete == 0:
		return nil
	case summary.Failed > 0:
		return fmt.Errorf("%d test(s) failed in %s", summary.Failed, g.cfg.Package)
	case summary.Incomplete > 0:
		return fmt.Errorf("%d test(s) did not finish in %s", summary.Incomplete, g.cfg.Package)
	case len(summary.FailedPackages) > 0:
		return fmt.Errorf("package %s failed: %w", strings.Join(summary.FailedPackages, ", "), waitErr)
	default:
		return fmt.Errorf("go test failed: %w", waitErr)
	}
}

func (g *GoTest) recordCoverage(profile string) error {
	profiles, err := cover.ParseProfiles(profile)
	if err != nil {
		return err
	}
	g.base.Coverage.Record(ProfilesToMap(profiles))
	return nil
}

// ProfilesToMap converts Go cover profiles to a coverage map. Statement
// counters are keyed by "startLine.startCol,endLine.endCol".
func ProfilesToMap(profiles []*cover.Profile) coverage.Map {
	out := make(coverage.Map, len(profiles))
	for _, p := range profiles {
		fc, ok := out[p.FileName]
		if !ok {
			fc = &coverage.FileCoverage{Statements: make(map[string]int64, len(p.Blocks))}
			out[p.FileName] = fc
		}
		for _, b := range p.Blocks {
			key := fmt.Sprintf("%d.%d,%d.%d", b.StartLine, b.StartCol, b.EndLine, b.EndCol)
			fc.Statements[key] += int64(b.Count)
		}
	}
	return out
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

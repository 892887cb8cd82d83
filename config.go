package taskrunner

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-taskrunner/flags"
)

// Config holds the application configuration
type Config struct {
	TasksFile    string
	WorkDir      string
	RunInterval  time.Duration // Interval between runs
	RunOnce      bool          // Exit after one run
	MaxWorkers   int           // Concurrently running workers, 0 = unbounded
	WorkerBinary string        // Empty means the running executable
	Verbose      bool
	Debug        bool
	IgnoreErrors bool
	Coverage     bool   // Forces coverage on, whatever the task file says
	CoverageDir  string // Overrides the coverage path of the task file
	Log          log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	tasksFile := ctx.String(flags.TasksFile.Name)
	if tasksFile == "" {
		return nil, errors.New("task file is required")
	}
	absTasksFile, err := filepath.Abs(tasksFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for task file '%s': %w", tasksFile, err)
	}

	workDir := ctx.String(flags.WorkDir.Name)
	if workDir == "" {
		workDir = "."
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for work directory '%s': %w", workDir, err)
	}

	maxWorkers := ctx.Int(flags.MaxWorkers.Name)
	if maxWorkers < 0 {
		return nil, fmt.Errorf("max workers must not be negative, got %d", maxWorkers)
	}

	coverageDir := ctx.String(flags.CoverageDir.Name)
	if coverageDir != "" {
		coverageDir, err = filepath.Abs(coverageDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for coverage directory: %w", err)
		}
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)

	return &Config{
		TasksFile:    absTasksFile,
		WorkDir:      absWorkDir,
		RunInterval:  runInterval,
		RunOnce:      runInterval == 0,
		MaxWorkers:   maxWorkers,
		WorkerBinary: ctx.String(flags.WorkerBinary.Name),
		Verbose:      ctx.Bool(flags.Verbose.Name),
		Debug:        ctx.Bool(flags.Debug.Name),
		IgnoreErrors: ctx.Bool(flags.IgnoreErrors.Name),
		Coverage:     ctx.Bool(flags.Coverage.Name),
		CoverageDir:  coverageDir,
		Log:          log,
	}, nil
}

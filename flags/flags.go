package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_TASKRUNNER"

var (
	TasksFile = &cli.StringFlag{
		Name:    "tasks",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TASKS"),
		Usage:   "Path to the task file (eg. 'tasks.yaml')",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKDIR"),
		Usage:   "Directory that gotest tasks without a dir run in",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	MaxWorkers = &cli.IntFlag{
		Name:    "max-workers",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_WORKERS"),
		Usage:   "Maximum number of concurrently running workers (0 = unbounded)",
	}
	WorkerBinary = &cli.StringFlag{
		Name:    "worker-binary",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKER_BINARY"),
		Usage:   "Binary serving workers. Defaults to the running executable.",
	}
	Verbose = &cli.BoolFlag{
		Name:    "verbose",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VERBOSE"),
		Usage:   "Prefix echoed task output with the task label and run workers at debug level",
	}
	Debug = &cli.BoolFlag{
		Name:    "debug",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEBUG"),
		Usage:   "Run every client in the runner process instead of a forked worker",
	}
	IgnoreErrors = &cli.BoolFlag{
		Name:    "ignore-errors",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "IGNORE_ERRORS"),
		Usage:   "Exit with code 0 even when tasks fail",
	}
	Coverage = &cli.BoolFlag{
		Name:    "coverage",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COVERAGE"),
		Usage:   "Collect code coverage, overriding the task file",
	}
	CoverageDir = &cli.StringFlag{
		Name:    "coverage-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COVERAGE_DIR"),
		Usage:   "Directory the coverage map is written to, overriding the task file",
	}
)

var requiredFlags = []cli.Flag{
	TasksFile,
}

var optionalFlags = []cli.Flag{
	WorkDir,
	RunInterval,
	MaxWorkers,
	WorkerBinary,
	Verbose,
	Debug,
	IgnoreErrors,
	Coverage,
	CoverageDir,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

// CheckRequired is used instead of Required on the flags themselves: the
// hidden worker subcommand shares the app and takes none of them.
func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}

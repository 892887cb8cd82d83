// Package task builds the task tree from normalized descriptors and runs it.
package task

import (
	"context"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/client"
	"github.com/ethereum-optimism/infra/op-taskrunner/coverage"
	"github.com/ethereum-optimism/infra/op-taskrunner/decorator"
	"github.com/ethereum-optimism/infra/op-taskrunner/report"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
	"github.com/ethereum-optimism/infra/op-taskrunner/worker"
)

// Launcher starts forked workers. *worker.Launcher implements it.
type Launcher interface {
	Launch(ctx context.Context, run *worker.Run, h worker.Handler) (*worker.Completion, error)
}

// Env is what every task of a run shares.
type Env struct {
	Global     types.GlobalConfig
	Coverage   *coverage.Aggregator
	Filter     *coverage.Filter // applied to in-process coverage
	Bus        *report.Bus
	Registry   *Registry
	Normalizer *decorator.Normalizer
	Launcher   Launcher
	Clients    *client.Registry
	Log        log.Logger
	Stdout     io.Writer
	Stderr     io.Writer
}

// NewEnv fills the optional parts of e. Tasks only read the environment,
// so it must be complete before the first task is built.
func NewEnv(e Env) *Env {
	if e.Log == nil {
		e.Log = log.New("component", "task")
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
	if e.Registry == nil {
		e.Registry = DefaultRegistry()
	}
	if e.Clients == nil {
		e.Clients = client.DefaultRegistry()
	}
	if e.Normalizer == nil {
		e.Normalizer = decorator.NewNormalizer(decorator.Config{
			Chain: decorator.DefaultChain(e.Log, ""),
			Log:   e.Log,
		})
	}
	return &e
}

// coverageActive reports whether coverage is collected for the run at all.
func (e *Env) coverageActive() bool {
	return e.Global.Coverage.Active && e.Coverage != nil
}

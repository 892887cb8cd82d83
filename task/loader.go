package task

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum-optimism/infra/op-taskrunner/client"
	"github.com/ethereum-optimism/infra/op-taskrunner/report"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

const LoaderType = "loader"

type loaderConfig struct {
	File string `mapstructure:"file"`
}

// Loader replays a recorded `go test -json` stream as test events.
type Loader struct {
	*Base
	cfg loaderConfig
}

func NewLoader(env *Env, d types.Descriptor) (Task, error) {
	base, err := NewBase(env, d, nil)
	if err != nil {
		return nil, err
	}
	var cfg loaderConfig
	if err := client.DecodeConfig(base.opts.Configuration, &cfg); err != nil {
		return nil, types.NewConfigError(types.KeyConfiguration, err.Error())
	}
	if cfg.File == "" {
		return nil, types.NewConfigError(types.KeyConfiguration+".file", "cannot be empty")
	}
	l := &Loader{Base: base, cfg: cfg}
	base.exec = l.execute
	return l, nil
}

func (l *Loader) execute(ctx context.Context, parentID string) error {
	f, err := os.Open(l.cfg.File)
	if err != nil {
		return l.failed(fmt.Sprintf("failed to open test events: %v", err))
	}
	defer f.Close()

	bus := l.env.Bus
	if !l.opts.Report {
		bus = report.NewBus()
	}
	summary, err := client.ConvertTestEvents(ctx, f, bus.Message(), parentID, nil, nil)
	if err != nil {
		return l.failed(err.Error())
	}
	l.log.Debug("Loaded test events", "file", l.cfg.File, "passed", summary.Passed, "failed", summary.Failed)
	if summary.Failed > 0 {
		return l.failed(fmt.Sprintf("%d test(s) failed in %s", summary.Failed, l.cfg.File))
	}
	return nil
}

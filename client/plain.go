package client

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/report"
)

const PlainDecorator = "plain"

var allKinds = []report.Kind{
	report.KindStart, report.KindStop, report.KindComplete,
	report.KindSuiteStart, report.KindSuiteEnd,
	report.KindTestStart, report.KindTestPassed, report.KindTestFailed, report.KindTestError,
	report.KindTestSkipped, report.KindTestIncomplete, report.KindTestUndefined,
	report.KindItemData, report.KindItemMessage,
}

// Plain logs every event and hook it sees.
type Plain struct {
	log   log.Logger
	debug bool
}

type plainConfig struct {
	Level string `mapstructure:"level"`
}

func NewPlain(cfg map[string]any, logger log.Logger) (Decorator, error) {
	var pc plainConfig
	if err := DecodeConfig(cfg, &pc); err != nil {
		return nil, err
	}
	return &Plain{
		log:   logger.New("decorator", PlainDecorator),
		debug: strings.EqualFold(pc.Level, "debug"),
	}, nil
}

func (p *Plain) emit(msg string, ctx ...any) {
	if p.debug {
		p.log.Debug(msg, ctx...)
		return
	}
	p.log.Info(msg, ctx...)
}

func (p *Plain) Handlers() report.Handlers {
	h := make(report.Handlers, len(allKinds))
	for _, kind := range allKinds {
		h[kind] = func(params []any) {
			p.emit("Event", "kind", kind, "params", params)
		}
	}
	return h
}

func (p *Plain) ProcessBefore(context.Context) error {
	p.emit("Process before")
	return nil
}

func (p *Plain) ProcessAfter(context.Context) error {
	p.emit("Process after")
	return nil
}

func (p *Plain) ProcessBeforeTest(_ context.Context, test TestInfo) error {
	p.emit("Process before test", "id", test.ID, "title", test.Title)
	return nil
}

func (p *Plain) ProcessAfterTest(_ context.Context, test TestInfo) error {
	p.emit("Process after test", "id", test.ID, "title", test.Title)
	return nil
}

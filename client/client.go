// Package client runs the actual work of a leaf task inside a worker.
//
// A Client is built from the client Registry by name, on top of a Base that
// owns the client decorators attached to the task. Decorators see the
// client's events through a Bridge and get their lifecycle hooks called in
// order by the Base.
package client

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/coverage"
	"github.com/ethereum-optimism/infra/op-taskrunner/report"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// Client runs one leaf task.
type Client interface {
	Run(ctx context.Context, parentID string) error
}

// TestInfo identifies the test a per-test hook is called for.
type TestInfo struct {
	ID       string
	ParentID string
	Title    string
}

// Decorator reacts to the lifecycle of a running client.
type Decorator interface {
	// Handlers is read once, when the decorator is attached.
	Handlers() report.Handlers
	ProcessBefore(ctx context.Context) error
	ProcessAfter(ctx context.Context) error
	ProcessBeforeTest(ctx context.Context, test TestInfo) error
	ProcessAfterTest(ctx context.Context, test TestInfo) error
}

// NopDecorator implements every Decorator hook as a no-op. Embed it to
// override only some of them.
type NopDecorator struct{}

func (NopDecorator) Handlers() report.Handlers { return nil }
func (NopDecorator) ProcessBefore(context.Context) error { return nil }
func (NopDecorator) ProcessAfter(context.Context) error { return nil }
func (NopDecorator) ProcessBeforeTest(context.Context, TestInfo) error { return nil }
func (NopDecorator) ProcessAfterTest(context.Context, TestInfo) error { return nil }

// Options is what a client gets to work with.
type Options struct {
	Bus           *report.Bus
	Global        types.GlobalConfig
	Configuration map[string]any
	Decorators    []types.DecoratorConfig
	Coverage      coverage.Sink // nil when coverage is not collected
	Log           log.Logger
	Label         string
	Stdout        io.Writer
	Stderr        io.Writer
}

// Base carries the options and decorators shared by every client.
type Base struct {
	Options
	decorators []Decorator
	bridges    []*Bridge
}

// NewBase attaches the configured decorators. An unknown decorator type is a
// configuration error.
func NewBase(opts Options, registry *Registry) (*Base, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("report bus is required")
	}
	if opts.Log == nil {
		opts.Log = log.New("component", "client")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Configuration == nil {
		opts.Configuration = map[string]any{}
	}

	b := &Base{Options: opts}
	for _, dc := range opts.Decorators {
		d, err := registry.newDecorator(dc, opts.Log)
		if err != nil {
			b.close()
			return nil, err
		}
		b.decorators = append(b.decorators, d)
		b.bridges = append(b.bridges, NewBridge(opts.Bus, d.Handlers()))
	}
	return b, nil
}

// Message returns the publishing helpers of the client's bus.
func (b *Base) Message() report.Message {
	return b.Bus.Message()
}

func (b *Base) ProcessBefore(ctx context.Context) error {
	return b.chain(func(d Decorator) error { return d.ProcessBefore(ctx) })
}

func (b *Base) ProcessAfter(ctx context.Context) error {
	return b.chain(func(d Decorator) error { return d.ProcessAfter(ctx) })
}

func (b *Base) ProcessBeforeTest(ctx context.Context, test TestInfo) error {
	return b.chain(func(d Decorator) error { return d.ProcessBeforeTest(ctx, test) })
}

func (b *Base) ProcessAfterTest(ctx context.Context, test TestInfo) error {
	return b.chain(func(d Decorator) error { return d.ProcessAfterTest(ctx, test) })
}

// chain calls hook on every decorator in order and stops at the first error.
func (b *Base) chain(hook func(Decorator) error) error {
	for _, d := range b.decorators {
		if err := hook(d); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs body between the client lifecycle hooks and detaches the
// decorators afterwards. The client start and stop events are admin events:
// decorators see them, reporters do not.
func (b *Base) Execute(ctx context.Context, body func(ctx context.Context) error) error {
	defer b.close()

	msg := b.Message()
	msg.Admin(report.KindStart)
	if err := b.ProcessBefore(ctx); err != nil {
		return fmt.Errorf("processBefore hook failed: %w", err)
	}

	runErr := body(ctx)

	afterErr := b.ProcessAfter(ctx)
	msg.Admin(report.KindStop)
	msg.Admin(report.KindComplete)

	if runErr != nil {
		return runErr
	}
	if afterErr != nil {
		return fmt.Errorf("processAfter hook failed: %w", afterErr)
	}
	return nil
}

func (b *Base) close() {
	for _, br := range b.bridges {
		br.Close()
	}
	b.bridges = nil
}

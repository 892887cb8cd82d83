package task

import (
	"context"
	"fmt"
	"sync/atomic"

	"dario.cat/mergo"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-taskrunner/metrics"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// Task is a node of the run tree.
type Task interface {
	// Run executes the task below parentID. A task runs at most once.
	Run(ctx context.Context, parentID string) error
	Options() *types.Options
}

// AugmentFunc adjusts the merged option map of a task type before it is
// validated. d is the descriptor as written, before any defaults.
type AugmentFunc func(merged map[string]any, d types.Descriptor)

type execFunc func(ctx context.Context, parentID string) error

// Base implements the lifecycle shared by every task type: option merging
// and validation, the suite boundary and the single-run guard. Task types
// embed it and provide the execution.
type Base struct {
	env    *Env
	opts   *types.Options
	log    log.Logger
	tracer trace.Tracer
	exec   execFunc
	ran    atomic.Bool
}

// NewBase merges the built-in defaults, the shared defaults and d, in that
// order, and validates the result.
func NewBase(env *Env, d types.Descriptor, augment AugmentFunc) (*Base, error) {
	merged := types.DefaultTask()
	if err := mergo.Merge(&merged, env.Registry.Shared(), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge shared options: %w", err)
	}
	if err := mergo.Merge(&merged, types.CopyMap(d), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge task options: %w", err)
	}
	if augment != nil {
		augment(merged, d)
	}

	opts, err := types.DecodeOptions(merged)
	if err != nil {
		return nil, err
	}
	return &Base{
		env:    env,
		opts:   opts,
		log:    env.Log.New("task", opts.Label()),
		tracer: otel.Tracer("task runner"),
	}, nil
}

func (b *Base) Options() *types.Options {
	return b.opts
}

// Run executes the task once. Inactive tasks succeed without doing
// anything. Suite tasks are wrapped in suiteStart/suiteEnd events and run
// their work below the suite.
func (b *Base) Run(ctx context.Context, parentID string) error {
	if !b.ran.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", b.opts.Label(), ErrAlreadyRun)
	}
	if !b.opts.Active {
		b.log.Debug("Skipping inactive task")
		return nil
	}

	ctx, span := b.tracer.Start(ctx, fmt.Sprintf("task %s", b.opts.Label()))
	defer span.End()
	span.SetAttributes(
		attribute.String("task.type", b.opts.Type),
		attribute.String("task.id", b.opts.TaskID),
	)

	err := b.run(ctx, parentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.RecordTask(b.opts.Type, err)
	return err
}

func (b *Base) run(ctx context.Context, parentID string) error {
	if b.exec == nil {
		return fmt.Errorf("%s (%s): %w", b.opts.Label(), b.opts.Type, ErrNotImplemented)
	}
	if !b.opts.Suite {
		return b.exec(ctx, parentID)
	}

	suiteID := "group-" + uuid.New().String()
	msg := b.env.Bus.Message()
	msg.SuiteStart(suiteID, parentID, b.opts.Title)
	defer msg.SuiteEnd(suiteID)
	return b.exec(ctx, suiteID)
}

// failed applies failOnError to a failed execution.
func (b *Base) failed(reason string) error {
	err := &ExecutionError{Label: b.opts.Label(), Context: reason}
	if b.opts.FailOnError {
		return err
	}
	b.log.Warn("Task failed, ignoring", "err", err)
	return nil
}

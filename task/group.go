package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/ethereum-optimism/infra/op-taskrunner/decorator"
	"github.com/ethereum-optimism/infra/op-taskrunner/metrics"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
	"github.com/ethereum-optimism/infra/op-taskrunner/worker"
)

const (
	keyParallel = "parallel"
	keyTasks    = "tasks"
)

// Group runs its child tasks one after another or all at once.
//
// Children are normalized and built when the group runs, all of them
// before the first one starts. With bail set the first child failure fails
// the group; otherwise failures are logged and the group succeeds.
type Group struct {
	*Base
	parallel bool
	tasks    []any
}

func NewGroup(env *Env, d types.Descriptor) (Task, error) {
	base, err := NewBase(env, d, groupAugment)
	if err != nil {
		return nil, err
	}

	g := &Group{Base: base}
	cfg := base.opts.Configuration
	if v, ok := cfg[keyParallel]; ok && v != nil {
		parallel, ok := v.(bool)
		if !ok {
			return nil, types.NewConfigError(types.KeyConfiguration+"."+keyParallel, "is not a boolean")
		}
		g.parallel = parallel
	}
	switch v := cfg[keyTasks].(type) {
	case nil:
	case []any:
		g.tasks = v
	default:
		g.tasks = []any{v}
	}

	base.exec = g.execute
	return g, nil
}

// groupAugment makes bail follow failOnError when only the latter is set.
func groupAugment(merged map[string]any, d types.Descriptor) {
	if d.Has(types.KeyFailOnError) && !d.Has(types.KeyBail) {
		merged[types.KeyBail] = merged[types.KeyFailOnError]
	}
}

func (g *Group) execute(ctx context.Context, parentID string) error {
	descriptors, err := g.env.Normalizer.Normalize(g.tasks)
	if err != nil {
		return err
	}
	if len(descriptors) == 0 {
		return types.NewConfigError(types.KeyConfiguration+"."+keyTasks, "contains no tasks")
	}

	children := make([]Task, 0, len(descriptors))
	for _, d := range descriptors {
		child, err := g.env.Registry.New(g.env, d)
		if err != nil {
			return fmt.Errorf("failed to create task %s: %w", d.Name(), err)
		}
		children = append(children, child)
	}

	g.log.Debug("Running group", "tasks", len(children), "parallel", g.parallel, "bail", g.opts.Bail)
	if g.parallel {
		return g.runParallel(ctx, children, parentID)
	}
	return g.runSequential(ctx, children, parentID)
}

func (g *Group) runSequential(ctx context.Context, children []Task, parentID string) error {
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.settle(child, child.Run(ctx, parentID)); err != nil {
			return err
		}
	}
	return nil
}

// runParallel starts every child and waits for all of them, also when one
// fails early.
func (g *Group) runParallel(ctx context.Context, children []Task, parentID string) error {
	p := pool.New().
		WithErrors().
		WithFirstError().
		WithContext(ctx)
	for _, child := range children {
		p.Go(func(ctx context.Context) error {
			return g.settle(child, child.Run(ctx, parentID))
		})
	}
	return p.Wait()
}

// settle applies the bail policy to the outcome of a child. Configuration
// errors, worker faults and cancellation always propagate.
func (g *Group) settle(child Task, err error) error {
	if err == nil {
		return nil
	}
	label := child.Options().Label()
	if g.opts.Bail || !swallowable(err) {
		return fmt.Errorf("task %s: %w", label, err)
	}
	g.log.Warn("Task failed, continuing", "child", label, "err", err)
	metrics.RecordSwallowedFailure(child.Options().Type)
	return nil
}

func swallowable(err error) bool {
	switch {
	case types.IsConfigError(err), worker.IsFault(err):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrAlreadyRun), errors.Is(err, ErrNotImplemented):
		return false
	}
	return true
}

var _ Task = (*Group)(nil)

// GroupDescriptor builds the descriptor of a group task around tasks.
func GroupDescriptor(taskID, name, title string, parallel bool, tasks any) types.Descriptor {
	return types.Descriptor{
		types.KeyType:   decorator.GroupType,
		types.KeyTaskID: taskID,
		types.KeyName:   name,
		types.KeyTitle:  title,
		types.KeyConfiguration: map[string]any{
			keyParallel: parallel,
			keyTasks:    tasks,
		},
	}
}

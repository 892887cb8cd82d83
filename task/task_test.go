package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-taskrunner/coverage"
	"github.com/ethereum-optimism/infra/op-taskrunner/decorator"
	"github.com/ethereum-optimism/infra/op-taskrunner/report"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

const probeType = "probe"

// probeTrace records what probe tasks did, in order.
type probeTrace struct {
	mu      sync.Mutex
	entries []string
}

func (tr *probeTrace) add(format string, args ...any) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.entries = append(tr.entries, fmt.Sprintf(format, args...))
}

func (tr *probeTrace) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.entries...)
}

type probeConfig struct {
	Fail  bool          `mapstructure:"fail"`
	Delay time.Duration `mapstructure:"delay"`
}

// probeTask records its start and end and fails on demand.
type probeTask struct {
	*Base
	cfg probeConfig
	tr  *probeTrace
}

func probeFactory(tr *probeTrace) Factory {
	return func(env *Env, d types.Descriptor) (Task, error) {
		base, err := NewBase(env, d, nil)
		if err != nil {
			return nil, err
		}
		p := &probeTask{Base: base, tr: tr}
		if v, ok := base.opts.Configuration["fail"].(bool); ok {
			p.cfg.Fail = v
		}
		if v, ok := base.opts.Configuration["delay"].(time.Duration); ok {
			p.cfg.Delay = v
		}
		base.exec = p.execute
		return p, nil
	}
}

func (p *probeTask) execute(ctx context.Context, parentID string) error {
	name := p.opts.Name
	p.tr.add("start %s", name)
	p.env.Bus.Message().ItemMessage(parentID, name)
	if p.cfg.Delay > 0 {
		select {
		case <-time.After(p.cfg.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.cfg.Fail {
		p.tr.add("fail %s", name)
		return p.failed("probe failure")
	}
	p.tr.add("end %s", name)
	return nil
}

type events struct {
	mu   sync.Mutex
	list []report.Event
}

func (e *events) handle(ev report.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ev)
}

func (e *events) snapshot() []report.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]report.Event(nil), e.list...)
}

type testSetup struct {
	env    *Env
	tr     *probeTrace
	events *events
	out    *strings.Builder
}

func newTestSetup(t *testing.T) *testSetup {
	t.Helper()
	logger := testlog.Logger(t, log.LevelInfo)
	s := &testSetup{tr: &probeTrace{}, events: &events{}, out: &strings.Builder{}}

	registry := DefaultRegistry()
	registry.Register(probeType, probeFactory(s.tr))

	bus := report.NewBus()
	bus.Subscribe(s.events.handle)

	s.env = NewEnv(Env{
		Global:   types.DefaultGlobalConfig(),
		Coverage: coverage.NewAggregator(),
		Bus:      bus,
		Registry: registry,
		Log:      logger,
		Stdout:   &syncWriter{b: s.out},
		Stderr:   &syncWriter{b: s.out},
		Normalizer: decorator.NewNormalizer(decorator.Config{
			Chain: decorator.DefaultChain(logger, ""),
			Log:   logger,
		}),
	})
	return s
}

type syncWriter struct {
	mu sync.Mutex
	b  *strings.Builder
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}

func probe(name string, cfg map[string]any) map[string]any {
	if cfg == nil {
		cfg = map[string]any{}
	}
	return map[string]any{
		types.KeyType:          probeType,
		types.KeyName:          name,
		types.KeyConfiguration: cfg,
	}
}

// leaf is a probe descriptor as the normalizer would produce it.
func leaf(name string, cfg map[string]any) types.Descriptor {
	d := types.Descriptor(probe(name, cfg))
	d[types.KeyTaskID] = "task_" + name
	d[types.KeyTitle] = name
	return d
}

func newGroupTask(t *testing.T, s *testSetup, parallel bool, extra map[string]any, tasks ...any) Task {
	t.Helper()
	d := GroupDescriptor("g", "group", "Group", parallel, tasks)
	for k, v := range extra {
		d[k] = v
	}
	g, err := s.env.Registry.New(s.env, d)
	require.NoError(t, err)
	return g
}

func TestGroup_SequentialBail(t *testing.T) {
	s := newTestSetup(t)
	g := newGroupTask(t, s, false, nil,
		probe("a", nil),
		probe("b", map[string]any{"fail": true}),
		probe("c", nil),
	)

	err := g.Run(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsExecutionError(err))
	assert.Contains(t, err.Error(), "task b-task_")
	assert.Equal(t, []string{"start a", "end a", "start b", "fail b"}, s.tr.list())
}

func TestGroup_SequentialContinue(t *testing.T) {
	s := newTestSetup(t)
	g := newGroupTask(t, s, false, map[string]any{types.KeyBail: false},
		probe("a", map[string]any{"fail": true}),
		probe("b", nil),
	)

	require.NoError(t, g.Run(context.Background(), ""))
	assert.Equal(t, []string{"start a", "fail a", "start b", "end b"}, s.tr.list())
}

func TestGroup_ParallelBailWaitsForSiblings(t *testing.T) {
	s := newTestSetup(t)
	g := newGroupTask(t, s, true, nil,
		probe("fast", map[string]any{"fail": true}),
		probe("slow", map[string]any{"delay": 100 * time.Millisecond}),
	)

	err := g.Run(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task fast-task_")
	assert.Contains(t, s.tr.list(), "end slow")
}

func TestGroup_ParallelContinue(t *testing.T) {
	s := newTestSetup(t)
	g := newGroupTask(t, s, true, map[string]any{types.KeyBail: false},
		probe("x", map[string]any{"fail": true}),
		probe("y", map[string]any{"fail": true}),
		probe("z", nil),
	)

	require.NoError(t, g.Run(context.Background(), ""))
	assert.ElementsMatch(t, []string{"start x", "fail x", "start y", "fail y", "start z", "end z"}, s.tr.list())
}

func TestGroup_ChildWithoutFailOnErrorDoesNotFail(t *testing.T) {
	s := newTestSetup(t)
	child := probe("a", map[string]any{"fail": true})
	child[types.KeyFailOnError] = false
	g := newGroupTask(t, s, false, nil, child, probe("b", nil))

	require.NoError(t, g.Run(context.Background(), ""))
	assert.Equal(t, []string{"start a", "fail a", "start b", "end b"}, s.tr.list())
}

func TestGroup_BailFollowsFailOnError(t *testing.T) {
	s := newTestSetup(t)
	tests := []struct {
		name  string
		extra map[string]any
		bail  bool
	}{
		{name: "defaults", extra: nil, bail: true},
		{name: "failOnError only", extra: map[string]any{types.KeyFailOnError: false}, bail: false},
		{name: "explicit bail wins", extra: map[string]any{types.KeyFailOnError: false, types.KeyBail: true}, bail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGroupTask(t, s, false, tt.extra, probe("a", nil))
			assert.Equal(t, tt.bail, g.Options().Bail)
		})
	}
}

func TestGroup_ChildrenBuiltBeforeAnyRuns(t *testing.T) {
	s := newTestSetup(t)
	g := newGroupTask(t, s, false, nil,
		probe("a", nil),
		map[string]any{types.KeyType: "nope"},
	)

	err := g.Run(context.Background(), "")
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))
	assert.Empty(t, s.tr.list())
}

func TestGroup_ConfigErrorsPropagateWithoutBail(t *testing.T) {
	s := newTestSetup(t)
	inner := GroupDescriptor("", "inner", "", false, []any{})
	g := newGroupTask(t, s, false, map[string]any{types.KeyBail: false}, map[string]any(inner))

	err := g.Run(context.Background(), "")
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))
}

func TestGroup_Empty(t *testing.T) {
	s := newTestSetup(t)
	g := newGroupTask(t, s, false, nil)

	err := g.Run(context.Background(), "")
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))
	assert.Contains(t, err.Error(), "configuration.tasks")
}

func TestGroup_SingleTaskIsWrapped(t *testing.T) {
	s := newTestSetup(t)
	d := GroupDescriptor("g", "group", "Group", false, probe("only", nil))
	g, err := NewGroup(s.env, d)
	require.NoError(t, err)

	require.NoError(t, g.Run(context.Background(), ""))
	assert.Equal(t, []string{"start only", "end only"}, s.tr.list())
}

func TestGroup_NamedSuites(t *testing.T) {
	s := newTestSetup(t)
	g := newGroupTask(t, s, false, nil, map[string]any{
		"suite one": []any{probe("a", nil)},
	})

	require.NoError(t, g.Run(context.Background(), "root"))

	evs := s.events.snapshot()
	require.Len(t, evs, 3)
	assert.Equal(t, report.KindSuiteStart, evs[0].Kind)
	suiteID := evs[0].Params[0].(string)
	assert.True(t, strings.HasPrefix(suiteID, "group-"))
	assert.Equal(t, "root", evs[0].Params[1])
	assert.Equal(t, "suite one", evs[0].Params[2])

	// the suite's tasks run below it
	assert.Equal(t, report.KindItemMessage, evs[1].Kind)
	assert.Equal(t, suiteID, evs[1].Params[0])
	assert.Equal(t, report.Event{Area: report.AreaSuite, Kind: report.KindSuiteEnd, Params: []any{suiteID}}, evs[2])
}

func TestGroup_CancelledBeforeStart(t *testing.T) {
	s := newTestSetup(t)
	g := newGroupTask(t, s, false, nil, probe("a", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Run(ctx, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.tr.list())
}

func TestBase_SuiteEndOnFailure(t *testing.T) {
	s := newTestSetup(t)
	d := leaf("suite", map[string]any{"fail": true})
	d[types.KeySuite] = true
	d[types.KeyTitle] = "My Suite"
	task, err := s.env.Registry.New(s.env, d)
	require.NoError(t, err)

	err = task.Run(context.Background(), "parent")
	require.True(t, IsExecutionError(err))

	evs := s.events.snapshot()
	require.Len(t, evs, 3)
	assert.Equal(t, report.KindSuiteStart, evs[0].Kind)
	assert.Equal(t, []any{evs[0].Params[0], "parent", "My Suite"}, evs[0].Params)
	assert.Equal(t, evs[0].Params[0], evs[1].Params[0], "work runs below the suite")
	assert.Equal(t, report.KindSuiteEnd, evs[2].Kind)
	assert.Equal(t, evs[0].Params[0], evs[2].Params[0])
}

func TestBase_RunsOnce(t *testing.T) {
	s := newTestSetup(t)
	task, err := s.env.Registry.New(s.env, leaf("once", nil))
	require.NoError(t, err)

	require.NoError(t, task.Run(context.Background(), ""))
	require.ErrorIs(t, task.Run(context.Background(), ""), ErrAlreadyRun)
	assert.Equal(t, []string{"start once", "end once"}, s.tr.list())
}

func TestBase_InactiveIsNoop(t *testing.T) {
	s := newTestSetup(t)
	d := leaf("off", map[string]any{"fail": true})
	d[types.KeyActive] = false
	d[types.KeySuite] = true
	task, err := s.env.Registry.New(s.env, d)
	require.NoError(t, err)

	require.NoError(t, task.Run(context.Background(), ""))
	assert.Empty(t, s.tr.list())
	assert.Empty(t, s.events.snapshot())
}

func TestBase_NotImplemented(t *testing.T) {
	s := newTestSetup(t)
	s.env.Registry.Register("abstract", func(env *Env, d types.Descriptor) (Task, error) {
		return NewBase(env, d, nil)
	})
	task, err := s.env.Registry.New(s.env, types.Descriptor{types.KeyType: "abstract", types.KeyTaskID: "t", types.KeyName: "n", types.KeyTitle: "x"})
	require.NoError(t, err)
	require.ErrorIs(t, task.Run(context.Background(), ""), ErrNotImplemented)
}

func TestBase_OptionMerging(t *testing.T) {
	s := newTestSetup(t)
	s.env.Registry.SetShared(map[string]any{
		types.KeyEchoStdOut: true,
		types.KeyVerbose:    true,
		types.KeyConfiguration: map[string]any{
			"shared": "yes",
			"fail":   true,
		},
	})

	d := types.Descriptor{
		types.KeyType:   probeType,
		types.KeyTaskID: "task_1",
		types.KeyName:   "merge",
		types.KeyTitle:  "Merge",
		types.KeyActive: true,
		types.KeyVerbose: false,
		types.KeyConfiguration: map[string]any{
			"fail": false,
		},
	}
	task, err := s.env.Registry.New(s.env, d)
	require.NoError(t, err)

	opts := task.Options()
	assert.True(t, opts.EchoStdOut)
	assert.False(t, opts.Verbose)
	assert.True(t, opts.FailOnError)
	assert.Equal(t, map[string]any{"shared": "yes", "fail": false}, opts.Configuration)
	assert.Equal(t, "merge-task_1", opts.Label())

	// the shared defaults are not modified by merging
	assert.Equal(t, map[string]any{"shared": "yes", "fail": true}, s.env.Registry.Shared()[types.KeyConfiguration])
}

func TestBase_InvalidOptions(t *testing.T) {
	s := newTestSetup(t)
	d := leaf("bad", nil)
	d[types.KeyBail] = "yes"

	_, err := s.env.Registry.New(s.env, d)
	var cfgErr *types.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, types.KeyBail, cfgErr.Field)
}

func TestRegistry_UnknownType(t *testing.T) {
	s := newTestSetup(t)
	_, err := s.env.Registry.New(s.env, types.Descriptor{types.KeyType: "mystery"})
	require.True(t, types.IsConfigError(err))
	assert.Contains(t, err.Error(), `"mystery"`)
	assert.Equal(t, []string{"command", "gotest", "group", "loader", probeType, "shell"}, s.env.Registry.Types())
}

package decorator

import (
	"fmt"

	"github.com/ethereum-optimism/infra/op-taskrunner/testlist"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// GoTestType is the task type the Discover decorator splits.
const GoTestType = "gotest"

// Discover replaces a gotest task that sets `split: true` with one gotest
// task per test function of its package.
type Discover struct {
	// WorkDir is used when the task configuration has no dir.
	WorkDir string
	// Find lists the test functions of a package. Defaults to
	// testlist.FindTestFunctions.
	Find func(pkgPath string, workingDir string) ([]string, error)
}

func (Discover) Name() string { return "discover" }

func (d Discover) Decorate(entry any, _ int) ([]any, error) {
	m, ok := asMap(entry)
	if !ok || m[types.KeyType] != GoTestType {
		return nil, nil
	}
	cfg, _ := m[types.KeyConfiguration].(map[string]any)
	if split, _ := cfg["split"].(bool); !split {
		return nil, nil
	}

	pkg, _ := cfg["package"].(string)
	if pkg == "" {
		return nil, types.NewConfigError("configuration.package", "is required when split is set")
	}
	dir, _ := cfg["dir"].(string)
	if dir == "" {
		dir = d.WorkDir
	}
	find := d.Find
	if find == nil {
		find = testlist.FindTestFunctions
	}
	funcs, err := find(pkg, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover tests in %s: %w", pkg, err)
	}
	if len(funcs) == 0 {
		return nil, types.ConfigErrorf("no tests found in package %s", pkg)
	}

	base, _ := m[types.KeyName].(string)
	if base == "" {
		base = pkg
	}
	out := make([]any, 0, len(funcs))
	for _, fn := range funcs {
		task := types.CopyMap(m)
		delete(task, types.KeyTaskID)
		delete(task, types.KeyTitle)
		task[types.KeyName] = base + "/" + fn
		taskCfg := task[types.KeyConfiguration].(map[string]any)
		delete(taskCfg, "split")
		taskCfg["run"] = "^" + fn + "$"
		out = append(out, task)
	}
	return out, nil
}

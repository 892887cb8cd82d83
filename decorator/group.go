package decorator

import (
	"sort"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// GroupType is the task type of synthetic groups.
const GroupType = "group"

// Group expands the shorthand forms of a task list position. An array
// becomes a parallel group. A map without a type becomes one sequential
// suite group per key, in key order.
type Group struct{}

func (Group) Name() string { return "group" }

func (Group) Decorate(entry any, _ int) ([]any, error) {
	switch v := entry.(type) {
	case []any:
		return []any{newGroup("", false, true, v)}, nil
	case map[string]any:
		if hasType(v) {
			return nil, nil
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, newGroup(k, true, false, v[k]))
		}
		return out, nil
	default:
		return nil, nil
	}
}

func hasType(m map[string]any) bool {
	switch t := m[types.KeyType].(type) {
	case nil:
		return false
	case string:
		return t != ""
	default:
		return true
	}
}

func newGroup(name string, suite bool, parallel bool, tasks any) map[string]any {
	g := map[string]any{
		types.KeyType: GroupType,
		types.KeyConfiguration: map[string]any{
			"parallel": parallel,
			"tasks":    tasks,
		},
	}
	if name != "" {
		g[types.KeyName] = name
	}
	if suite {
		g[types.KeySuite] = true
	}
	return g
}

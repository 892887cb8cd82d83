package task

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum-optimism/infra/op-taskrunner/client"
	"github.com/ethereum-optimism/infra/op-taskrunner/decorator"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// Factory builds a task of one type from its normalized descriptor.
type Factory func(env *Env, d types.Descriptor) (Task, error)

// Registry maps task types to factories and holds the shared defaults
// merged into every descriptor.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	shared    map[string]any
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		shared:    map[string]any{},
	}
}

// DefaultRegistry returns a registry with every built-in task type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(decorator.GroupType, NewGroup)
	r.Register(ShellType, NewShell)
	r.Register(LoaderType, NewLoader)
	r.Register(decorator.GoTestType, NewForked(client.GoTestClient))
	r.Register(CommandType, NewForked(client.CommandClient))
	return r
}

func (r *Registry) Register(taskType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[taskType] = f
}

// Types lists the registered task types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SetShared replaces the shared defaults. The map is copied.
func (r *Registry) SetShared(shared map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shared = types.CopyMap(shared)
	if r.shared == nil {
		r.shared = map[string]any{}
	}
}

// Shared returns a copy of the shared defaults.
func (r *Registry) Shared() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return types.CopyMap(r.shared)
}

// New builds the task described by d.
func (r *Registry) New(env *Env, d types.Descriptor) (Task, error) {
	r.mu.RLock()
	f, ok := r.factories[d.Type()]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewConfigError(types.KeyType, fmt.Sprintf("names unknown task type %q", d.Type()))
	}
	return f(env, d)
}

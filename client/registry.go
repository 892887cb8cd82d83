package client

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// Factory builds a client on top of its Base.
type Factory func(base *Base) (Client, error)

// DecoratorFactory builds a client decorator from its configuration.
type DecoratorFactory func(cfg map[string]any, logger log.Logger) (Decorator, error)

// Registry resolves client and client decorator names. Lookups are case
// insensitive.
type Registry struct {
	mu         sync.RWMutex
	clients    map[string]Factory
	decorators map[string]DecoratorFactory
}

func NewRegistry() *Registry {
	return &Registry{
		clients:    make(map[string]Factory),
		decorators: make(map[string]DecoratorFactory),
	}
}

// DefaultRegistry returns a registry with the built-in clients and
// decorators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterClient(GoTestClient, NewGoTest)
	r.RegisterClient(CommandClient, NewCommand)
	r.RegisterDecorator(PlainDecorator, NewPlain)
	return r
}

func (r *Registry) RegisterClient(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[strings.ToLower(name)] = f
}

func (r *Registry) RegisterDecorator(name string, f DecoratorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decorators[strings.ToLower(name)] = f
}

// DecoratorNames lists the registered decorator names in sorted order.
func (r *Registry) DecoratorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.decorators))
	for name := range r.decorators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named client.
func (r *Registry) New(name string, opts Options) (Client, error) {
	r.mu.RLock()
	factory, ok := r.clients[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, types.ConfigErrorf("unknown client %q", name)
	}
	base, err := NewBase(opts, r)
	if err != nil {
		return nil, err
	}
	c, err := factory(base)
	if err != nil {
		base.close()
		return nil, fmt.Errorf("failed to create %s client: %w", name, err)
	}
	return c, nil
}

func (r *Registry) newDecorator(dc types.DecoratorConfig, logger log.Logger) (Decorator, error) {
	r.mu.RLock()
	factory, ok := r.decorators[strings.ToLower(dc.Type)]
	r.mu.RUnlock()
	if !ok {
		return nil, types.ConfigErrorf("unknown client decorator %q", dc.Type)
	}
	cfg := dc.Configuration
	if cfg == nil {
		cfg = map[string]any{}
	}
	d, err := factory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s decorator: %w", dc.Type, err)
	}
	return d, nil
}

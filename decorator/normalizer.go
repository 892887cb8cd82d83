// Package decorator turns raw task configuration into canonical task
// descriptors.
//
// A Normalizer folds an ordered chain of Decorators over a list of raw
// entries. Each decorator sees every entry of the list produced by the
// previous one and may keep it (returning nil), replace it (a one-element
// slice) or splice several entries in its place. The list being read is
// never modified; every decorator builds a fresh output list.
//
// Identifiers come from a Counter that is shared by every normalization of a
// run tree. The counter value before a pass is the base index of that pass,
// and the counter advances by the number of descriptors the pass produced.
package decorator

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// Decorator rewrites a single raw task entry.
type Decorator interface {
	Name() string
	// Decorate returns nil to keep entry (possibly mutated in place), or the
	// entries that replace it.
	Decorate(entry any, index int) ([]any, error)
}

// Counter hands out the base index of normalization passes.
type Counter struct {
	mu    sync.Mutex
	value int
}

func NewCounter() *Counter {
	return &Counter{}
}

// Value returns the base index the next pass will use.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// pass runs fn with the current value and advances by the count it returns.
// The lock is held for the whole pass so concurrent passes never share a
// base.
func (c *Counter) pass(fn func(base int) (int, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := fn(c.value)
	if err != nil {
		return err
	}
	c.value += n
	return nil
}

type Config struct {
	Counter *Counter
	Chain   []Decorator
	Log     log.Logger
}

// Normalizer applies a decorator chain to raw task lists.
type Normalizer struct {
	counter *Counter
	chain   []Decorator
	log     log.Logger
}

func NewNormalizer(cfg Config) *Normalizer {
	if cfg.Counter == nil {
		cfg.Counter = NewCounter()
	}
	if cfg.Log == nil {
		cfg.Log = log.New("component", "normalizer")
	}
	return &Normalizer{
		counter: cfg.Counter,
		chain:   cfg.Chain,
		log:     cfg.Log,
	}
}

// Counter returns the counter shared by every pass of this normalizer.
func (n *Normalizer) Counter() *Counter {
	return n.counter
}

// NormalizeEntry normalizes the value found at a single task-list position.
func (n *Normalizer) NormalizeEntry(raw any) ([]types.Descriptor, error) {
	return n.Normalize([]any{raw})
}

// Normalize runs the decorator chain over raw and returns the resulting
// descriptors. raw itself is left untouched.
func (n *Normalizer) Normalize(raw []any) ([]types.Descriptor, error) {
	var out []types.Descriptor
	err := n.counter.pass(func(base int) (int, error) {
		list := make([]any, len(raw))
		for i, entry := range raw {
			list[i] = types.CopyValue(entry)
		}

		for _, d := range n.chain {
			next := make([]any, 0, len(list))
			for i, entry := range list {
				repl, err := d.Decorate(entry, base+i)
				if err != nil {
					return 0, fmt.Errorf("task decorator %s: %w", d.Name(), err)
				}
				if repl == nil {
					next = append(next, entry)
					continue
				}
				next = append(next, repl...)
			}
			list = next
		}

		out = make([]types.Descriptor, 0, len(list))
		for i, entry := range list {
			m, ok := asMap(entry)
			if !ok {
				return 0, types.ConfigErrorf("task entry %d is not an object (got %T)", i, entry)
			}
			out = append(out, types.Descriptor(m))
		}
		return len(out), nil
	})
	if err != nil {
		return nil, err
	}
	n.log.Trace("Normalized tasks", "count", len(out), "next", n.counter.Value())
	return out, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case types.Descriptor:
		return m, true
	default:
		return nil, false
	}
}

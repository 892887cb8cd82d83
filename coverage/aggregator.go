package coverage

import "sync"

// Aggregator keeps the running coverage total of a run. It is safe for
// concurrent use by parallel siblings.
type Aggregator struct {
	mu    sync.Mutex
	total Map
}

func NewAggregator() *Aggregator {
	return &Aggregator{total: Map{}}
}

// Add merges m into the running total.
func (a *Aggregator) Add(m Map) {
	if len(m) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total.merge(m)
}

// Final returns a snapshot of the running total.
func (a *Aggregator) Final() Map {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total.Clone()
}

// Reset clears the running total.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = Map{}
}

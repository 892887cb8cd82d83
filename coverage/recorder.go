package coverage

import "sync"

// Sink receives the coverage produced while a client runs.
type Sink interface {
	Record(m Map)
}

// Collector brackets one execution. Begin starts a clean window and Drain
// returns everything recorded since, leaving the collector empty.
type Collector interface {
	Sink
	Begin()
	Drain() Map
}

var _ Collector = (*Recorder)(nil)

// Recorder is the Collector used by both the in-process and the forked
// worker paths.
type Recorder struct {
	mu      sync.Mutex
	filter  *Filter
	active  bool
	current Map
}

// NewRecorder creates a recorder. A nil filter keeps every file.
func NewRecorder(filter *Filter) *Recorder {
	return &Recorder{filter: filter}
}

func (r *Recorder) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.current = Map{}
}

// Record merges m into the current window. Calls outside Begin/Drain are
// dropped.
func (r *Recorder) Record(m Map) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	if r.filter != nil {
		m = r.filter.Apply(m)
	}
	r.current.merge(m)
}

func (r *Recorder) Drain() Map {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.current
	r.current = nil
	r.active = false
	if len(out) == 0 {
		return nil
	}
	return out
}

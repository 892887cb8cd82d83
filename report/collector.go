package report

import (
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// ResultStats tracks test counts below a suite or for a whole run.
type ResultStats struct {
	Total      int
	Passed     int
	Failed     int
	Errored    int
	Skipped    int
	Incomplete int
	Undefined  int
}

func (s *ResultStats) add(o ResultStats) {
	s.Total += o.Total
	s.Passed += o.Passed
	s.Failed += o.Failed
	s.Errored += o.Errored
	s.Skipped += o.Skipped
	s.Incomplete += o.Incomplete
	s.Undefined += o.Undefined
}

func (s *ResultStats) count(status types.TestStatus) {
	s.Total++
	switch status {
	case types.TestStatusPass:
		s.Passed++
	case types.TestStatusFail:
		s.Failed++
	case types.TestStatusError:
		s.Errored++
	case types.TestStatusSkip:
		s.Skipped++
	case types.TestStatusUndefined:
		s.Undefined++
	default:
		s.Incomplete++
	}
}

// Status derives an aggregate status from the counts.
func (s ResultStats) Status() types.TestStatus {
	switch {
	case s.Failed > 0 || s.Errored > 0:
		return types.TestStatusFail
	case s.Total > 0 && s.Skipped == s.Total:
		return types.TestStatusSkip
	default:
		return types.TestStatusPass
	}
}

// TestResult is a test as seen through the report events.
type TestResult struct {
	ID       string
	ParentID string
	Title    string
	Status   types.TestStatus
	Message  string
	Duration time.Duration
	SubTests []*TestResult

	started time.Time
}

// SuiteResult is a suite and everything reported below it.
type SuiteResult struct {
	ID       string
	ParentID string
	Title    string
	Duration time.Duration
	Suites   []*SuiteResult
	Tests    []*TestResult
	Stats    ResultStats
	Status   types.TestStatus

	started time.Time
}

// RunResult is the collected view of one run.
type RunResult struct {
	Suites   []*SuiteResult
	Tests    []*TestResult
	Stats    ResultStats
	Status   types.TestStatus
	Duration time.Duration
}

// Collector is an external subscriber that rebuilds the suite and test tree
// from report events.
type Collector struct {
	mu     sync.Mutex
	now    func() time.Time
	suites map[string]*SuiteResult
	tests  map[string]*TestResult
	roots  []*SuiteResult
	loose  []*TestResult
	start  time.Time
	end    time.Time
}

func NewCollector() *Collector {
	c := &Collector{now: time.Now}
	c.Reset()
	return c
}

// Reset drops everything collected so far.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suites = make(map[string]*SuiteResult)
	c.tests = make(map[string]*TestResult)
	c.roots = nil
	c.loose = nil
	c.start = time.Time{}
	c.end = time.Time{}
}

// Handle consumes an event. It is meant to be passed to Bus.Subscribe.
func (c *Collector) Handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	str := func(i int) string { return cast.ToString(ev.Param(i)) }
	now := c.now()

	switch ev.Kind {
	case KindStart:
		c.start = now
	case KindStop, KindComplete:
		c.end = now
	case KindSuiteStart:
		s := &SuiteResult{ID: str(0), ParentID: str(1), Title: str(2), started: now}
		c.suites[s.ID] = s
		if parent, ok := c.suites[s.ParentID]; ok {
			parent.Suites = append(parent.Suites, s)
		} else {
			c.roots = append(c.roots, s)
		}
	case KindSuiteEnd:
		if s, ok := c.suites[str(0)]; ok {
			s.Duration = now.Sub(s.started)
		}
	case KindTestStart:
		t := &TestResult{ID: str(0), ParentID: str(1), Title: str(2), Status: types.TestStatusRunning, started: now}
		c.tests[t.ID] = t
		if parent, ok := c.tests[t.ParentID]; ok {
			parent.SubTests = append(parent.SubTests, t)
		} else if suite, ok := c.suites[t.ParentID]; ok {
			suite.Tests = append(suite.Tests, t)
		} else {
			c.loose = append(c.loose, t)
		}
	case KindTestPassed:
		c.finish(str(0), types.TestStatusPass, "", now)
	case KindTestFailed:
		c.finish(str(0), types.TestStatusFail, str(1), now)
	case KindTestError:
		c.finish(str(0), types.TestStatusError, str(1), now)
	case KindTestSkipped:
		c.finish(str(0), types.TestStatusSkip, str(1), now)
	case KindTestIncomplete:
		c.finish(str(0), types.TestStatusIncomplete, "", now)
	case KindTestUndefined:
		c.finish(str(0), types.TestStatusUndefined, "", now)
	}
}

func (c *Collector) finish(id string, status types.TestStatus, message string, now time.Time) {
	t, ok := c.tests[id]
	if !ok {
		return
	}
	t.Status = status
	t.Message = message
	t.Duration = now.Sub(t.started)
}

// Result computes the stats of everything collected so far.
func (c *Collector) Result() *RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := &RunResult{Suites: c.roots, Tests: c.loose}
	for _, s := range c.roots {
		res.Stats.add(rollup(s))
	}
	for _, t := range c.loose {
		res.Stats.add(countTest(t))
	}
	res.Status = res.Stats.Status()
	if !c.start.IsZero() {
		end := c.end
		if end.IsZero() {
			end = c.now()
		}
		res.Duration = end.Sub(c.start)
	}
	return res
}

func rollup(s *SuiteResult) ResultStats {
	var stats ResultStats
	for _, child := range s.Suites {
		stats.add(rollup(child))
	}
	for _, t := range s.Tests {
		stats.add(countTest(t))
	}
	s.Stats = stats
	s.Status = stats.Status()
	return stats
}

func countTest(t *TestResult) ResultStats {
	var stats ResultStats
	stats.count(t.Status)
	for _, sub := range t.SubTests {
		stats.add(countTest(sub))
	}
	return stats
}

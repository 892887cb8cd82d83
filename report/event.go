package report

import "fmt"

// Area groups message kinds. AreaAdmin events are internal to a worker and
// never reach external subscribers.
type Area string

const (
	AreaAdmin Area = "admin"
	AreaRun   Area = "run"
	AreaSuite Area = "suite"
	AreaTest  Area = "test"
	AreaItem  Area = "item"
)

// Kind names a report message.
type Kind string

const (
	KindStart    Kind = "start"
	KindStop     Kind = "stop"
	KindComplete Kind = "complete"

	KindSuiteStart Kind = "suiteStart"
	KindSuiteEnd   Kind = "suiteEnd"

	KindTestStart      Kind = "testStart"
	KindTestPassed     Kind = "testPassed"
	KindTestFailed     Kind = "testFailed"
	KindTestError      Kind = "testError"
	KindTestSkipped    Kind = "testSkipped"
	KindTestIncomplete Kind = "testIncomplete"
	KindTestUndefined  Kind = "testUndefined"

	KindItemData    Kind = "itemData"
	KindItemMessage Kind = "itemMessage"
)

var kindAreas = map[Kind]Area{
	KindStart:          AreaRun,
	KindStop:           AreaRun,
	KindComplete:       AreaRun,
	KindSuiteStart:     AreaSuite,
	KindSuiteEnd:       AreaSuite,
	KindTestStart:      AreaTest,
	KindTestPassed:     AreaTest,
	KindTestFailed:     AreaTest,
	KindTestError:      AreaTest,
	KindTestSkipped:    AreaTest,
	KindTestIncomplete: AreaTest,
	KindTestUndefined:  AreaTest,
	KindItemData:       AreaItem,
	KindItemMessage:    AreaItem,
}

// Area returns the area a kind is published in by default.
func (k Kind) Area() (Area, bool) {
	a, ok := kindAreas[k]
	return a, ok
}

// ParseKind validates a kind received from outside the process.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kindAreas[k]; !ok {
		return "", fmt.Errorf("unknown message kind %q", s)
	}
	return k, nil
}

// Event is a single report message.
type Event struct {
	Area   Area
	Kind   Kind
	Params []any
}

// Param returns the i-th parameter, or nil when absent.
func (e Event) Param(i int) any {
	if i < 0 || i >= len(e.Params) {
		return nil
	}
	return e.Params[i]
}

// Handlers maps message kinds to the functions reacting to them. Kinds that
// are not in the table are ignored.
type Handlers map[Kind]func(params []any)

package types

// TestStatus represents the possible states of a reported test
type TestStatus string

const (
	TestStatusRunning    TestStatus = "running"
	TestStatusPass       TestStatus = "pass"
	TestStatusFail       TestStatus = "fail"
	TestStatusSkip       TestStatus = "skip"
	TestStatusError      TestStatus = "error"
	TestStatusIncomplete TestStatus = "incomplete"
	TestStatusUndefined  TestStatus = "undefined"
)

// Failed reports whether the status counts against the run.
func (s TestStatus) Failed() bool {
	return s == TestStatusFail || s == TestStatusError
}

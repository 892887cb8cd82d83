// Package exitcodes defines the exit codes used by op-taskrunner.
package exitcodes

// * Success (0): every task succeeded, or the run ignores errors
// * TestFailure (1): a task or test failed
// * RuntimeErr (2): invalid task file, worker fault, interrupt or panic
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)

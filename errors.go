package taskrunner

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-taskrunner/exitcodes"
)

// RuntimeError wraps anything that kept a run from producing a trustworthy
// outcome: a task file that does not validate, a worker fault, a task run
// twice or an interrupted context. Policy never swallows it.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ExitCode makes RuntimeError a cli.ExitCoder.
func (e *RuntimeError) ExitCode() int {
	return exitcodes.RuntimeErr
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError is returned by a run-once Start when a failing task
// bailed out of the root group. Message carries the run summary.
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

func (e *TestFailureError) ExitCode() int {
	return exitcodes.TestFailure
}

func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

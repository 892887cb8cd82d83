package task

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRun is returned by a second Run on the same task.
	ErrAlreadyRun = errors.New("task has already run")
	// ErrNotImplemented is returned by tasks whose type has no execution.
	ErrNotImplemented = errors.New("task type does not implement execution")
)

// ExecutionError reports a task whose work ran and failed. Whether it fails
// the parent is decided by the task's failOnError option.
type ExecutionError struct {
	Label   string
	Context string
}

func (e *ExecutionError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("task %s failed", e.Label)
	}
	return fmt.Sprintf("task %s failed: %s", e.Label, e.Context)
}

// IsExecutionError checks if the error is or wraps an ExecutionError
func IsExecutionError(err error) bool {
	var execErr *ExecutionError
	return err != nil && errors.As(err, &execErr)
}

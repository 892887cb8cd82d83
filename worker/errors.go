package worker

import (
	"errors"
	"fmt"
)

// FaultError means a worker could not run its client, or broke the message
// protocol. It always fails the task, whatever its failOnError setting.
type FaultError struct {
	Label  string
	Reason string
	Err    error
}

func (e *FaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker %s fault: %s: %v", e.Label, e.Reason, e.Err)
	}
	return fmt.Sprintf("worker %s fault: %s", e.Label, e.Reason)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// IsFault checks if the error is or wraps a FaultError
func IsFault(err error) bool {
	var fault *FaultError
	return err != nil && errors.As(err, &fault)
}

package worker

import "fmt"

// InfrastructureError is a failure outside the work unit: the run directory
// could not be created or a dataset could not be fetched. It fails only the
// current task.
type InfrastructureError struct {
	WorkUnit string
	RunName  string
	Op       string
	Err      error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// ExecutionError wraps an error returned or a panic raised by a work unit.
type ExecutionError struct {
	WorkUnit string
	RunName  string
	Err      error
	Stack    string // 仅在 panic 时填充
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("work unit '%s' failed: %v", e.WorkUnit, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

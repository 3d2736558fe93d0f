package service

import "fmt"

// ValidationError is returned when a task request does not satisfy the work
// unit's declared contract. Nothing is enqueued when it is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

package cli

import (
	"errors"
	"fmt"

	"buildweaver/internal/engine"
)

const (
	ExitSuccess           = 0
	ExitExecutionFailure  = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError carries the exit code for failures detected before any
// rule runs.
type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var execErr *engine.ExecutionError
	if errors.As(err, &execErr) {
		return ExitExecutionFailure
	}
	var procErr *processExitError
	if errors.As(err, &procErr) {
		return ExitExecutionFailure
	}
	return ExitInternalError
}

// processExitError reports a process that ran to completion with a nonzero
// exit code. Its output has already been forwarded.
type processExitError struct {
	code int
}

func (e *processExitError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.code)
}

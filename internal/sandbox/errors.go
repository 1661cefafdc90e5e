package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTimeout is reachable through errors.Is from an *ExecutionFailure caused
// by a process exceeding its timeout.
var ErrTimeout = errors.New("process exceeded its timeout")

// MalformedProcessError reports a process specification with an invalid shape.
type MalformedProcessError struct {
	Description string
	Msg         string
}

func (e *MalformedProcessError) Error() string {
	return fmt.Sprintf("malformed process %q: %s", e.Description, e.Msg)
}

func malformed(p Process, msg string) error {
	return &MalformedProcessError{Description: p.Description, Msg: msg}
}

// ExecutionFailure is the strict-mode error for a nonzero exit code.
type ExecutionFailure struct {
	Description string
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
	TimedOut    bool
}

func (e *ExecutionFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "process '%s' failed with exit code %d.", e.Description, e.ExitCode)
	if e.TimedOut {
		b.WriteString("\n")
		b.Write(e.Stdout)
	}
	if len(e.Stderr) > 0 {
		b.WriteString("\nstderr:\n")
		b.Write(e.Stderr)
	}
	return b.String()
}

// Unwrap exposes ErrTimeout for timed-out processes.
func (e *ExecutionFailure) Unwrap() error {
	if e.TimedOut {
		return ErrTimeout
	}
	return nil
}

// MissingOutputError reports declared outputs absent after a successful run.
//
// It is raised only when the process exits 0. After a nonzero exit or a
// timeout, outputs that were not produced are left out of the output digest
// and the exit code reports the failure.
type MissingOutputError struct {
	Description string
	Paths       []string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("process %q did not produce declared outputs: %s", e.Description, strings.Join(e.Paths, ", "))
}

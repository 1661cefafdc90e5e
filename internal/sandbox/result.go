package sandbox

import (
	"buildweaver/internal/store"
)

// TimeoutExitCode is the exit code reported for a process killed on timeout.
const TimeoutExitCode = -1

// FallibleProcessResult is the outcome of a process whatever its exit code.
type FallibleProcessResult struct {
	// Stdout is the captured standard output. For timed-out processes it
	// starts with the timeout diagnostic.
	Stdout []byte

	// Stderr is the captured standard error.
	Stderr []byte

	// ExitCode is the process exit code, or TimeoutExitCode.
	ExitCode int

	// OutputDigest holds the declared outputs that were produced.
	OutputDigest store.Digest

	// FromCache indicates the result was replayed instead of executed.
	FromCache bool
}

// TimedOut reports whether the process was killed on timeout.
func (r *FallibleProcessResult) TimedOut() bool {
	return r.ExitCode == TimeoutExitCode
}

// ProcessResult is the outcome of a process that exited 0.
type ProcessResult struct {
	Stdout       []byte
	Stderr       []byte
	OutputDigest store.Digest
}

// Strict converts a fallible result into a ProcessResult, failing with an
// *ExecutionFailure for any nonzero exit code.
func Strict(res *FallibleProcessResult, p Process) (*ProcessResult, error) {
	if res.ExitCode != 0 {
		return nil, &ExecutionFailure{
			Description: p.Description,
			ExitCode:    res.ExitCode,
			Stdout:      res.Stdout,
			Stderr:      res.Stderr,
			TimedOut:    res.TimedOut(),
		}
	}
	return &ProcessResult{
		Stdout:       res.Stdout,
		Stderr:       res.Stderr,
		OutputDigest: res.OutputDigest,
	}, nil
}

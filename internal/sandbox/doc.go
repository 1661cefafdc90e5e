// Package sandbox executes external processes against content-addressed
// inputs.
//
// A Process is a pure value: argv, environment, an input Digest and the
// output paths to capture. The Runner materializes the input tree in a private
// scratch directory, runs the command with only the declared environment
// visible, and captures exactly the declared outputs back into the store.
//
// Results come in two shapes:
//
//   - FallibleProcessResult: always returned, whatever the exit code.
//   - ProcessResult: only obtainable for exit code 0; otherwise Strict returns
//     an *ExecutionFailure.
//
// A missing declared output after a successful exit is a *MissingOutputError.
// It signals a wrongly declared process and is never downgraded to a fallible
// result.
package sandbox

// Package engine resolves typed rule requests into a dependency graph and
// executes it with memoization and bounded concurrency.
//
// A rule is a function from an input value to an output value, registered for
// the pair (input type, output type). Inside a rule, further requests are made
// through the *Call it receives:
//
//	Get[Out](call, req)            one dependency
//	MultiGet[Out](call, reqs...)   many dependencies of one output type
//	call.Join(f1, f2, ...)         heterogeneous dependencies via Request[Out]
//
// Every join releases the caller's worker slot while it waits, runs its
// members in parallel and returns only after all of them finished. Results
// are delivered positionally. Failing members are aggregated into one
// *ExecutionError.
//
// A Session owns the memo table: each distinct request (by structural
// equality) is computed at most once per session, and concurrent identical
// requests attach to the same computation.
package engine

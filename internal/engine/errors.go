package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrDuplicateRule is returned when a rule is registered twice for the same
// input and output types.
var ErrDuplicateRule = errors.New("duplicate rule")

// Failure is one failed request inside an ExecutionError.
type Failure struct {
	// Request describes the request whose rule failed.
	Request string
	Err     error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Request, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// ExecutionError aggregates the failures of a resolution. Each distinct
// failure appears once, with nested ExecutionErrors flattened so that every
// entry keeps its original error kind.
type ExecutionError struct {
	Failures []Failure
}

func (e *ExecutionError) Error() string {
	if e == nil || len(e.Failures) == 0 {
		return "execution failed"
	}
	if len(e.Failures) == 1 {
		return "1 exception encountered:\n  " + indent(e.Failures[0].Error())
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d exceptions encountered:", len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString("\n  ")
		b.WriteString(indent(f.Error()))
	}
	return b.String()
}

// Unwrap exposes every inner error to errors.Is and errors.As.
func (e *ExecutionError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}

// failureSet accumulates distinct failures in arrival order.
type failureSet struct {
	failures []Failure
}

// add records err as a failure of request, flattening nested ExecutionErrors.
func (fs *failureSet) add(request string, err error) {
	var nested *ExecutionError
	if errors.As(err, &nested) && nested != nil {
		for _, f := range nested.Failures {
			fs.addOne(f)
		}
		return
	}
	fs.addOne(Failure{Request: request, Err: err})
}

func (fs *failureSet) addOne(f Failure) {
	for _, existing := range fs.failures {
		if existing.Request == f.Request && sameError(existing.Err, f.Err) {
			return
		}
	}
	fs.failures = append(fs.failures, f)
}

func (fs *failureSet) err() error {
	if len(fs.failures) == 0 {
		return nil
	}
	return &ExecutionError{Failures: fs.failures}
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// NoRuleError reports a request for which no rule is registered.
type NoRuleError struct {
	Input  reflect.Type
	Output reflect.Type
}

func (e *NoRuleError) Error() string {
	return fmt.Sprintf("no rule registered to compute %v from %v", e.Output, e.Input)
}

// CycleError reports a request that transitively waits on itself.
type CycleError struct {
	// Path lists request descriptions from the waiting request back to itself.
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// PanicError wraps a panic raised inside a rule.
type PanicError struct {
	Rule  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("rule %s panicked: %v", e.Rule, e.Value)
}

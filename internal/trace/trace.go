package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical record of what a resolution session did.
//
// Events are logical facts (a rule completed, a process was replayed from
// cache), never timings, so the canonical bytes do not depend on scheduling.
// The canonical JSON carries the session ID; Hash covers only the events, so
// two sessions doing the same work hash equal.
type ExecutionTrace struct {
	SessionID string       `json:"sessionId"`
	Events    []TraceEvent `json:"events"`
}

// TraceEventKind discriminates TraceEvent. The string values are part of the
// canonical bytes; do not rename.
type TraceEventKind string

const (
	EventRuleMemoHit     TraceEventKind = "RuleMemoHit"
	EventRuleCompleted   TraceEventKind = "RuleCompleted"
	EventRuleFailed      TraceEventKind = "RuleFailed"
	EventProcessCached   TraceEventKind = "ProcessCached"
	EventProcessExecuted TraceEventKind = "ProcessExecuted"
	EventProcessTimedOut TraceEventKind = "ProcessTimedOut"
)

// TraceEvent is a single logical transition or decision.
//
// No timestamps and no error strings: Reason carries a stable error kind.
type TraceEvent struct {
	Kind TraceEventKind `json:"kind"`

	// Rule names the rule that produced the event.
	Rule string `json:"rule,omitempty"`

	// Request describes the request the event refers to.
	Request string `json:"request,omitempty"`

	// Reason is a stable classification, e.g. the failing error type.
	Reason string `json:"reason,omitempty"`

	// Digests lists content digests involved, such as process outputs.
	Digests []string `json:"digests,omitempty"`

	// Session is the ID of the session that recorded the event. It selects
	// events in Recorder.Trace and is not part of the canonical bytes.
	Session string `json:"-"`
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.SessionID == "" {
		return errors.New("sessionId is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Request == "" {
			return fmt.Errorf("events[%d].request is required for kind %q", i, e.Kind)
		}
		for j, d := range e.Digests {
			if d == "" {
				return fmt.Errorf("events[%d].digests[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace into its canonical form.
//
// Events are stably sorted by (request, kind, rule, reason, digests), so the
// order is independent of execution timing. Digests are copied and sorted and
// empty slices become nil.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Digests) == 0 {
			t.Events[i].Digests = nil
			continue
		}
		ds := make([]string, len(t.Events[i].Digests))
		copy(ds, t.Events[i].Digests)
		sort.Strings(ds)
		t.Events[i].Digests = ds
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.Request != b.Request {
			return a.Request < b.Request
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return compareStringSlices(a.Digests, b.Digests)
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventRuleMemoHit:
		return 10
	case EventProcessCached:
		return 20
	case EventProcessExecuted:
		return 30
	case EventProcessTimedOut:
		return 40
	case EventRuleCompleted:
		return 50
	case EventRuleFailed:
		return 60
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			continue
		}
		return a[i] < b[i]
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding of the trace.
// It canonicalizes a copy so the caller's slices are not mutated.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	c := ExecutionTrace{SessionID: t.SessionID}
	c.Events = make([]TraceEvent, len(t.Events))
	copy(c.Events, t.Events)
	c.Canonicalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&c)
}

// Hash returns the sha256 hex of the canonical events, leaving out the
// session ID.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	var doc struct {
		Events json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", err
	}
	return ComputeTraceHash(doc.Events), nil
}

// Count returns the number of events of kind k.
func (t ExecutionTrace) Count(k TraceEventKind) int {
	n := 0
	for _, e := range t.Events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

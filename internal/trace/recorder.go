package trace

import "sync"

// Sink receives trace events from the engine.
//
// Record must not panic and has no error result; callers assume it may be a
// no-op.
type Sink interface {
	Record(event TraceEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(TraceEvent) {}

// SafeRecord records an event, swallowing panics from a buggy sink.
func SafeRecord(s Sink, event TraceEvent) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder is a concurrency-safe in-memory Sink.
//
// Recording order is irrelevant: Trace canonicalizes the collected events.
type Recorder struct {
	mu     sync.Mutex
	events []TraceEvent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event TraceEvent) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all recorded events.
func (r *Recorder) Snapshot() []TraceEvent {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds the canonical ExecutionTrace of one session from the events
// it recorded.
func (r *Recorder) Trace(sessionID string) ExecutionTrace {
	tr := ExecutionTrace{SessionID: sessionID}
	for _, e := range r.Snapshot() {
		if e.Session == sessionID {
			tr.Events = append(tr.Events, e)
		}
	}
	tr.Canonicalize()
	return tr
}

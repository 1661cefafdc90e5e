package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"
	"golang.org/x/sync/semaphore"

	"buildweaver/internal/trace"
)

// Session is one resolution scope. It owns the memo table, so every
// distinct request is computed at most once per session.
type Session struct {
	id     uuid.UUID
	engine *Engine
	ctx    context.Context
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu     sync.Mutex
	memo   map[memoKey][]*node
	nextID int
}

type memoKey struct {
	rule *rule
	hash uint64
}

type node struct {
	id   int
	rule *rule
	req  any
	desc string

	// Guarded by the session mutex.
	state   State
	waitsOn []*node

	// Written once before done is closed.
	done  chan struct{}
	value any
	err   error
}

// ID returns the unique identifier of the session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Stats returns the number of memoized requests per state.
func (s *Session) Stats() map[State]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[State]int)
	for _, bucket := range s.memo {
		for _, n := range bucket {
			stats[n.state]++
		}
	}
	return stats
}

// Resolve computes the Out value for req within s.
//
// Every failure is reported as an *ExecutionError.
func Resolve[Out any](ctx context.Context, s *Session, req any) (Out, error) {
	var zero Out

	r, err := s.engine.registry.lookup(reflect.TypeOf(req), typeOf[Out]())
	if err != nil {
		return zero, &ExecutionError{Failures: []Failure{{Request: describe(req), Err: err}}}
	}

	s.mu.Lock()
	n, created := s.getOrCreate(r, req)
	s.mu.Unlock()
	if created {
		go s.run(n)
	}

	select {
	case <-n.done:
	case <-ctx.Done():
		return zero, &ExecutionError{Failures: []Failure{{Request: n.desc, Err: ctx.Err()}}}
	}

	if n.err != nil {
		var fs failureSet
		fs.add(n.desc, n.err)
		return zero, fs.err()
	}
	out, _ := n.value.(Out)
	return out, nil
}

// getOrCreate returns the memoized node for req, creating a pending one when
// none exists. The caller must hold s.mu.
func (s *Session) getOrCreate(r *rule, req any) (*node, bool) {
	hash, err := hashstructure.Hash(req, hashstructure.FormatV2, nil)
	if err != nil {
		// Unhashable requests share bucket 0 and fall back to deep equality.
		hash = 0
	}
	key := memoKey{rule: r, hash: hash}

	for _, n := range s.memo[key] {
		if reflect.DeepEqual(n.req, req) {
			s.engine.metrics.memoHits.Inc()
			s.record(trace.TraceEvent{
				Kind:    trace.EventRuleMemoHit,
				Rule:    r.name,
				Request: n.desc,
			})
			return n, false
		}
	}

	s.nextID++
	n := &node{
		id:    s.nextID,
		rule:  r,
		req:   req,
		desc:  describe(req),
		state: StatePending,
		done:  make(chan struct{}),
	}
	s.memo[key] = append(s.memo[key], n)
	return n, true
}

// run executes the rule of n on a worker slot and publishes its outcome.
func (s *Session) run(n *node) {
	call := &Call{session: s, node: n, ctx: s.ctx}

	s.mu.Lock()
	err := transition(n, StatePending, StateRunning)
	s.mu.Unlock()

	var value any
	if err == nil {
		err = s.sem.Acquire(s.ctx, 1)
	}
	if err == nil {
		call.holding = true
		start := time.Now()
		value, err = invoke(call, n)
		s.engine.metrics.duration.WithLabelValues(n.rule.name).Observe(time.Since(start).Seconds())
		call.release()
	}

	s.mu.Lock()
	to := StateCompleted
	if err != nil {
		to = StateFailed
	}
	if terr := transition(n, StateRunning, to); terr != nil {
		n.state = StateFailed
		err = errors.Join(err, terr)
	}
	if err != nil {
		n.err = err
	} else {
		n.value = value
	}
	n.waitsOn = nil
	s.mu.Unlock()

	s.publish(n)
	close(n.done)
}

func invoke(call *Call, n *node) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Rule: n.rule.name, Value: rec}
		}
	}()
	return n.rule.fn(call, n.req)
}

func (s *Session) publish(n *node) {
	if n.err == nil {
		s.engine.metrics.requests.WithLabelValues(n.rule.name, "completed").Inc()
		s.record(trace.TraceEvent{
			Kind:    trace.EventRuleCompleted,
			Rule:    n.rule.name,
			Request: n.desc,
		})
		return
	}

	s.engine.metrics.requests.WithLabelValues(n.rule.name, "failed").Inc()
	s.record(trace.TraceEvent{
		Kind:    trace.EventRuleFailed,
		Rule:    n.rule.name,
		Request: n.desc,
		Reason:  errorKind(n.err),
	})
	s.logger.Debug("rule failed", "rule", n.rule.name, "request", n.desc, "error", n.err)
}

// record stamps event with the session ID and hands it to the trace sink.
func (s *Session) record(event trace.TraceEvent) {
	event.Session = s.id.String()
	trace.SafeRecord(s.engine.sink, event)
}

// cyclePath returns the wait-for path from start back to target, or nil.
// The caller must hold s.mu.
func cyclePath(start, target *node, seen map[*node]bool) []*node {
	if start == target {
		return []*node{start}
	}
	if seen[start] {
		return nil
	}
	seen[start] = true
	for _, next := range start.waitsOn {
		if path := cyclePath(next, target, seen); path != nil {
			return append([]*node{start}, path...)
		}
	}
	return nil
}

// Describer lets request types provide their own description for errors,
// logs and traces.
type Describer interface {
	Describe() string
}

func describe(req any) string {
	if d, ok := req.(Describer); ok {
		return d.Describe()
	}
	return fmt.Sprintf("%T%+v", req, req)
}

// errorKind is a stable, message-free classification of err for traces.
func errorKind(err error) string {
	var exec *ExecutionError
	if errors.As(err, &exec) && len(exec.Failures) > 0 {
		err = exec.Failures[0].Err
	}
	return fmt.Sprintf("%T", err)
}

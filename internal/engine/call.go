package engine

import (
	"context"
	"log/slog"
	"reflect"

	"buildweaver/internal/trace"
)

// Call is the handle a rule uses to request its dependencies.
type Call struct {
	session *Session
	node    *node
	ctx     context.Context
	holding bool
}

// Context returns the session context. It carries the session logger.
func (c *Call) Context() context.Context {
	return c.ctx
}

// Logger returns the session logger annotated with the running rule.
func (c *Call) Logger() *slog.Logger {
	return c.session.logger.With("rule", c.node.rule.name)
}

// Session returns the session the call belongs to.
func (c *Call) Session() *Session {
	return c.session
}

// Record adds an event to the engine trace.
func (c *Call) Record(event trace.TraceEvent) {
	if event.Rule == "" {
		event.Rule = c.node.rule.name
	}
	c.session.record(event)
}

func (c *Call) release() {
	if c.holding {
		c.session.sem.Release(1)
		c.holding = false
	}
}

// Awaitable is a request that can take part in a Join.
type Awaitable interface {
	request() any
	output() reflect.Type
	bind(n *node, err error)
}

// Future is a typed request whose value is available after a Join.
type Future[Out any] struct {
	req any
	n   *node
	err error
}

// Request creates a Future computing Out from req.
func Request[Out any](req any) *Future[Out] {
	return &Future[Out]{req: req}
}

func (f *Future[Out]) request() any         { return f.req }
func (f *Future[Out]) output() reflect.Type { return typeOf[Out]() }
func (f *Future[Out]) bind(n *node, err error) {
	f.n = n
	f.err = err
}

// Value returns the computed value, or the zero value when the request failed
// or has not been joined.
func (f *Future[Out]) Value() Out {
	var zero Out
	if f.n == nil || f.err != nil {
		return zero
	}
	out, _ := f.n.value.(Out)
	return out
}

// Err returns the failure of this member of the join, if any.
func (f *Future[Out]) Err() error {
	return f.err
}

// Join computes every member in parallel and waits for all of them.
//
// The caller's worker slot is released while waiting. Results are delivered
// to the members positionally. If any member failed, Join returns an
// *ExecutionError listing every distinct failure, after all members have
// finished. A member that would wait on the caller itself fails with a
// *CycleError instead of blocking; the other members are still awaited.
func (c *Call) Join(members ...Awaitable) error {
	if len(members) == 0 {
		return nil
	}
	s := c.session

	nodes := make([]*node, len(members))
	cycles := make(map[*node]*CycleError)
	var created, waits []*node
	var fs failureSet

	s.mu.Lock()
	for i, m := range members {
		r, err := s.engine.registry.lookup(reflect.TypeOf(m.request()), m.output())
		if err != nil {
			m.bind(nil, err)
			fs.add(describe(m.request()), err)
			continue
		}
		n, isNew := s.getOrCreate(r, m.request())
		nodes[i] = n
		if isNew {
			created = append(created, n)
		}
		if _, seen := cycles[n]; seen {
			continue
		}
		if cycle := c.detectCycle(n); cycle != nil {
			cycles[n] = cycle
			continue
		}
		waits = append(waits, n)
	}
	c.node.waitsOn = waits
	s.mu.Unlock()

	for _, n := range created {
		go s.run(n)
	}

	if !allDone(waits) {
		c.release()
		for _, n := range waits {
			<-n.done
		}
		if err := s.sem.Acquire(c.ctx, 1); err != nil {
			s.clearWaits(c.node)
			return &ExecutionError{Failures: []Failure{{Request: c.node.desc, Err: err}}}
		}
		c.holding = true
	}
	s.clearWaits(c.node)

	for i, m := range members {
		n := nodes[i]
		if n == nil {
			continue
		}
		if cycle, ok := cycles[n]; ok {
			m.bind(n, cycle)
			fs.add(n.desc, cycle)
			continue
		}
		m.bind(n, n.err)
		if n.err != nil {
			fs.add(n.desc, n.err)
		}
	}
	return fs.err()
}

// detectCycle reports whether target transitively waits on the caller. The
// caller must hold the session mutex.
func (c *Call) detectCycle(target *node) *CycleError {
	path := cyclePath(target, c.node, make(map[*node]bool))
	if path == nil {
		return nil
	}
	descs := []string{c.node.desc}
	for _, n := range path {
		descs = append(descs, n.desc)
	}
	return &CycleError{Path: descs}
}

func (s *Session) clearWaits(n *node) {
	s.mu.Lock()
	n.waitsOn = nil
	s.mu.Unlock()
}

func allDone(nodes []*node) bool {
	for _, n := range nodes {
		select {
		case <-n.done:
		default:
			return false
		}
	}
	return true
}

// Get computes one dependency.
func Get[Out any](c *Call, req any) (Out, error) {
	f := Request[Out](req)
	if err := c.Join(f); err != nil {
		var zero Out
		return zero, err
	}
	return f.Value(), nil
}

// MultiGet computes many dependencies of one output type in parallel.
// Results are in request order.
func MultiGet[Out any](c *Call, reqs ...any) ([]Out, error) {
	futures := make([]*Future[Out], len(reqs))
	members := make([]Awaitable, len(reqs))
	for i, req := range reqs {
		futures[i] = Request[Out](req)
		members[i] = futures[i]
	}
	if err := c.Join(members...); err != nil {
		return nil, err
	}
	out := make([]Out, len(futures))
	for i, f := range futures {
		out[i] = f.Value()
	}
	return out, nil
}

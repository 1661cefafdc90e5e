package engine

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

type ruleKey struct {
	in  reflect.Type
	out reflect.Type
}

type rule struct {
	name string
	key  ruleKey
	fn   func(*Call, any) (any, error)
}

// Registry holds rules keyed by (input type, output type).
type Registry struct {
	mu    sync.RWMutex
	rules map[ruleKey]*rule
}

// NewRegistry creates an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[ruleKey]*rule)}
}

// Register adds a rule computing Out from In.
//
// In must be a concrete type: rules are selected by the dynamic type of the
// request value.
func Register[In, Out any](reg *Registry, name string, fn func(*Call, In) (Out, error)) error {
	in := typeOf[In]()
	out := typeOf[Out]()
	if in.Kind() == reflect.Interface {
		return fmt.Errorf("rule %s: input type %v must be concrete", name, in)
	}
	if fn == nil {
		return fmt.Errorf("rule %s: nil function", name)
	}

	key := ruleKey{in: in, out: out}
	r := &rule{
		name: name,
		key:  key,
		fn: func(c *Call, req any) (any, error) {
			return fn(c, req.(In))
		},
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if existing, ok := reg.rules[key]; ok {
		return fmt.Errorf("%w: %s and %s both compute %v from %v", ErrDuplicateRule, existing.name, name, out, in)
	}
	reg.rules[key] = r
	return nil
}

// MustRegister is like Register but panics on error. Intended for rule sets
// assembled at program start.
func MustRegister[In, Out any](reg *Registry, name string, fn func(*Call, In) (Out, error)) {
	if err := Register(reg, name, fn); err != nil {
		panic(err)
	}
}

func (reg *Registry) lookup(in, out reflect.Type) (*rule, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rules[ruleKey{in: in, out: out}]
	if !ok {
		return nil, &NoRuleError{Input: in, Output: out}
	}
	return r, nil
}

// Names returns the registered rule names, sorted.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.rules))
	for _, r := range reg.rules {
		names = append(names, r.name)
	}
	sort.Strings(names)
	return names
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

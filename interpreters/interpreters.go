// Package interpreters gathers the action interpreters.
package interpreters

import (
	"context"
	"fmt"
	"sort"

	"github.com/Comcast/tortoise/core"
	"github.com/Comcast/tortoise/interpreters/goja"
	"github.com/Comcast/tortoise/interpreters/noop"
)

// Interpreter turns action source into an action.
type Interpreter interface {
	// Compile checks (and perhaps prepares) source.
	Compile(ctx context.Context, src interface{}) (interface{}, error)

	// Exec runs the source (or the result of Compile) for the
	// entity.
	Exec(ctx context.Context, entity string, e *core.Engine, props core.Options, src interface{}, compiled interface{}) (interface{}, error)

	// Action compiles the source and returns an action that
	// runs it.
	Action(ctx context.Context, props core.Options, src interface{}) (core.EngineActionFunc, error)
}

// InterpretersMap maps interpreter names to Interpreters.
type InterpretersMap map[string]Interpreter

// Find returns the named Interpreter or nil.
func (m InterpretersMap) Find(name string) Interpreter {
	return m[name]
}

// Names returns the interpreter names in order.
func (m InterpretersMap) Names() []string {
	acc := make([]string, 0, len(m))
	for name := range m {
		acc = append(acc, name)
	}
	sort.Strings(acc)
	return acc
}

// Action finds the named Interpreter and compiles the source.
func (m InterpretersMap) Action(ctx context.Context, name string, props core.Options, src interface{}) (core.EngineActionFunc, error) {
	i := m.Find(name)
	if i == nil {
		return nil, fmt.Errorf("unknown interpreter %q (have %v)", name, m.Names())
	}
	return i.Action(ctx, props, src)
}

// Standard returns the usual interpreters.
func Standard() InterpretersMap {
	es := goja.NewInterpreter()
	return InterpretersMap{
		"goja":       es,
		"ecmascript": es,
		"noop":       noop.NewInterpreter(),
	}
}

// Noop returns interpreters that accept anything and do nothing.
// Use them to load workflows just to look at them.
func Noop() InterpretersMap {
	i := noop.NewInterpreter()
	m := InterpretersMap{}
	for name := range Standard() {
		m[name] = i
	}
	return m
}

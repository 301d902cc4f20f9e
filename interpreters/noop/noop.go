// Package noop is an interpreter that doesn't interpret.
//
// Loading a workflow with this interpreter is useful when only the
// structure matters (rendering, analysis).
package noop

import (
	"context"
	"log/slog"

	"github.com/Comcast/tortoise/core"
)

// Interpreter compiles nothing, and every action it makes returns
// true.
type Interpreter struct {
	// Silent, if true, will suppress warning log messages.
	Silent bool
}

// NewInterpreter makes a quiet Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{
		Silent: true,
	}
}

func (i *Interpreter) warn(msg string) {
	if !i.Silent {
		slog.Warn(msg)
	}
}

// Compile does nothing.
func (i *Interpreter) Compile(ctx context.Context, code interface{}) (interface{}, error) {
	i.warn("using noop interpreter for compilation")
	return nil, nil
}

// Exec returns true.
func (i *Interpreter) Exec(ctx context.Context, entity string, e *core.Engine, props core.Options, code interface{}, compiled interface{}) (interface{}, error) {
	i.warn("using noop interpreter for execution")
	return true, nil
}

// Action returns an action that returns true.
func (i *Interpreter) Action(ctx context.Context, props core.Options, code interface{}) (core.EngineActionFunc, error) {
	return func(ctx context.Context, entity string, e *core.Engine) (interface{}, error) {
		return i.Exec(ctx, entity, e, props, code, nil)
	}, nil
}
